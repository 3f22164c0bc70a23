// Package auth は認証・認可機能を提供します。
//
// ローカル（メールアドレス + パスワード）と Google OAuth の2経路でログインし、
// どちらも同じ Cookie セッションを確立します。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/authnest/internal/config"
	"github.com/yourusername/authnest/internal/storage"
)

const (
	SessionCookieName    = "authnest_session"
	sessionKeyUserID     = "auth_user_id"
	sessionKeyEmail      = "auth_email"
	sessionKeyIssuedAt   = "issued_at"
	sessionKeyLastActive = "last_activity"
	sessionKeyCSRF       = "csrf_token"

	csrfHeader    = "X-CSRF-Token"
	CSRFFormField = "csrf_token"
)

// ContextUserKey は、ハンドラー間でログイン済みユーザーを共有するためのキーです。
const ContextUserKey = "auth.user"

// リダイレクト先
const (
	PathHome      = "/"
	PathLogin     = "/login"
	PathRegister  = "/register"
	PathProtected = "/page"
)

// UserStore は認証処理が必要とするユーザー永続化の操作です。
type UserStore interface {
	FindUserByEmail(ctx context.Context, email string) (*storage.User, error)
	CreateUser(ctx context.Context, email, password string) (*storage.User, error)
}

// SessionUser はセッションに保存されるログイン中ユーザーです。
type SessionUser struct {
	ID    string
	Email string
}

// PageState は画面描画に必要なセッション由来の情報です。
type PageState struct {
	CSRFToken string
	Flashes   []string
	User      *SessionUser
}

// Manager は認証処理と状態をまとめた構造体です。
type Manager struct {
	cfg    *config.Config
	users  UserStore
	hasher PasswordHasher
	google *GoogleProvider
	states StateStore
	logger *log.Logger
	now    func() time.Time
}

// NewManager は認証マネージャーを作成します。
func NewManager(cfg *config.Config, users UserStore, hasher PasswordHasher, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if users == nil {
		return nil, errors.New("users is nil")
	}
	if hasher == nil {
		return nil, errors.New("hasher is nil")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		cfg:    cfg,
		users:  users,
		hasher: hasher,
		logger: logger,
		now:    time.Now,
	}, nil
}

// EnableGoogle は Google ログインを有効にします。
// states が nil の場合はセッションCookieに state を保存します。
func (m *Manager) EnableGoogle(provider *GoogleProvider, states StateStore) {
	if states == nil {
		states = NewSessionStateStore(m.cfg.OAuthStateTTL)
	}
	m.google = provider
	m.states = states
}

// GoogleEnabled は Google ログインが使えるかを返します。
func (m *Manager) GoogleEnabled() bool {
	return m.google != nil
}

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func (m *Manager) SessionMaxAgeSeconds() int {
	return int(m.cfg.SessionMaxAge.Seconds())
}

// PageState は CSRF トークンを用意し、フラッシュメッセージを取り出して返します。
// セッションを保存するため、レスポンスボディを書く前に呼んでください。
func (m *Manager) PageState(c *gin.Context) (PageState, error) {
	session := sessions.Default(c)

	token, ok := session.Get(sessionKeyCSRF).(string)
	if !ok || token == "" {
		var err error
		token, err = generateToken()
		if err != nil {
			return PageState{}, err
		}
		session.Set(sessionKeyCSRF, token)
	}

	var flashes []string
	for _, f := range session.Flashes() {
		if s, ok := f.(string); ok {
			flashes = append(flashes, s)
		}
	}

	if err := session.Save(); err != nil {
		return PageState{}, err
	}

	state := PageState{
		CSRFToken: token,
		Flashes:   flashes,
	}
	if user, ok := sessionUser(session); ok {
		state.User = &user
	}
	return state, nil
}

// CurrentUser は RequireLogin が設定したユーザーを返します。
func CurrentUser(c *gin.Context) (SessionUser, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return SessionUser{}, false
	}
	user, ok := v.(SessionUser)
	return user, ok
}

// establishSession は既存のセッション内容を破棄し、ログイン状態を保存します。
func (m *Manager) establishSession(c *gin.Context, user *storage.User) error {
	token, err := generateToken()
	if err != nil {
		return err
	}

	session := sessions.Default(c)
	now := m.now()
	session.Clear()
	session.Set(sessionKeyUserID, user.ID)
	session.Set(sessionKeyEmail, user.Email)
	session.Set(sessionKeyIssuedAt, now.Unix())
	session.Set(sessionKeyLastActive, now.Unix())
	session.Set(sessionKeyCSRF, token)
	return session.Save()
}

// redirectWithFlash はメッセージを残してリダイレクトします。
func (m *Manager) redirectWithFlash(c *gin.Context, location, message string) {
	if message != "" {
		session := sessions.Default(c)
		session.AddFlash(message)
		if err := session.Save(); err != nil {
			m.logger.Printf("failed to save flash: %v", err)
		}
	}
	c.Redirect(http.StatusFound, location)
}

func sessionUser(session sessions.Session) (SessionUser, bool) {
	id, _ := session.Get(sessionKeyUserID).(string)
	email, _ := session.Get(sessionKeyEmail).(string)
	if id == "" || email == "" {
		return SessionUser{}, false
	}
	return SessionUser{ID: id, Email: email}, true
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func readUnix(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
