package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	msgLoginRequired  = "ログインが必要です"
	msgSessionExpired = "セッションの有効期限が切れました。再度ログインしてください"
	msgSessionIdle    = "しばらく操作がなかったため再ログインしてください"
)

// RequireLogin はセッションを検証するミドルウェアを返します。
// 未ログインや期限切れの場合はログイン画面へリダイレクトします。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		user, ok := sessionUser(session)
		if !ok {
			m.redirectWithFlash(c, PathLogin, msgLoginRequired)
			c.Abort()
			return
		}

		now := m.now()
		issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
		lastActive := readUnix(session.Get(sessionKeyLastActive))

		if issuedAt.IsZero() || now.Sub(issuedAt) > m.cfg.SessionMaxAge {
			session.Clear()
			m.redirectWithFlash(c, PathLogin, msgSessionExpired)
			c.Abort()
			return
		}

		if idle := m.cfg.SessionIdleTimeout; idle > 0 {
			if lastActive.IsZero() || now.Sub(lastActive) > idle {
				session.Clear()
				m.redirectWithFlash(c, PathLogin, msgSessionIdle)
				c.Abort()
				return
			}
			session.Set(sessionKeyLastActive, now.Unix())
			if err := session.Save(); err != nil {
				m.logger.Printf("failed to refresh session activity user=%s: %v", user.ID, err)
			}
		}

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// VerifyCSRF は X-CSRF-Token ヘッダー、またはフォームの csrf_token を検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if received == "" {
			received = c.PostForm(CSRFFormField)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
