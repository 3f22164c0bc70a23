package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/authnest/internal/storage"
)

const (
	msgMissingCredentials = "メールアドレスとパスワードを入力してください"
	msgInvalidCredentials = "メールアドレスまたはパスワードが正しくありません"
	msgAlreadyRegistered  = "このメールアドレスは登録済みです。ログインしてください"
	msgPasswordTooLong    = "パスワードは72バイト以内で入力してください"
	msgRegisterFailed     = "登録に失敗しました。時間をおいて再度お試しください"
	msgLoginFailed        = "ログインに失敗しました。時間をおいて再度お試しください"
	msgGoogleDisabled     = "Google ログインは現在利用できません"
	msgGoogleFailed       = "Google ログインに失敗しました"
)

// Register は POST /register のハンドラーです。
// フォーム項目 username にメールアドレス、password にパスワードを受け取ります。
func (m *Manager) Register(c *gin.Context) {
	email := normalizeEmail(c.PostForm("username"))
	password := c.PostForm("password")
	if email == "" || password == "" {
		m.redirectWithFlash(c, PathRegister, msgMissingCredentials)
		return
	}
	// bcrypt は 72 バイトを超える入力を扱えない
	if len(password) > MaxPasswordBytes {
		m.redirectWithFlash(c, PathRegister, msgPasswordTooLong)
		return
	}

	ctx := c.Request.Context()
	_, err := m.users.FindUserByEmail(ctx, email)
	switch {
	case err == nil:
		m.redirectWithFlash(c, PathLogin, msgAlreadyRegistered)
		return
	case !errors.Is(err, storage.ErrUserNotFound):
		m.logger.Printf("register: lookup failed: %v", err)
		m.redirectWithFlash(c, PathRegister, msgRegisterFailed)
		return
	}

	hash, err := m.hasher.Hash(password)
	if err != nil {
		m.logger.Printf("register: hash failed: %v", err)
		m.redirectWithFlash(c, PathRegister, msgRegisterFailed)
		return
	}

	user, err := m.users.CreateUser(ctx, email, hash)
	if err != nil {
		if errors.Is(err, storage.ErrEmailTaken) {
			m.redirectWithFlash(c, PathLogin, msgAlreadyRegistered)
			return
		}
		m.logger.Printf("register: insert failed: %v", err)
		m.redirectWithFlash(c, PathRegister, msgRegisterFailed)
		return
	}

	if err := m.establishSession(c, user); err != nil {
		m.logger.Printf("register: session save failed user=%s: %v", user.ID, err)
		m.redirectWithFlash(c, PathLogin, msgLoginFailed)
		return
	}
	m.logger.Printf("registered user=%s", user.ID)
	c.Redirect(http.StatusFound, PathProtected)
}

// Login は POST /login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	email := normalizeEmail(c.PostForm("username"))
	password := c.PostForm("password")
	if email == "" || password == "" {
		m.redirectWithFlash(c, PathLogin, msgMissingCredentials)
		return
	}

	user, err := m.users.FindUserByEmail(c.Request.Context(), email)
	if err != nil {
		if !errors.Is(err, storage.ErrUserNotFound) {
			m.logger.Printf("login: lookup failed: %v", err)
			m.redirectWithFlash(c, PathLogin, msgLoginFailed)
			return
		}
		m.redirectWithFlash(c, PathLogin, msgInvalidCredentials)
		return
	}

	// Google で作成したアカウントはローカルパスワードを持たない
	if !user.HasLocalPassword() {
		m.redirectWithFlash(c, PathLogin, msgInvalidCredentials)
		return
	}

	ok, err := m.hasher.Verify(user.Password, password)
	if err != nil {
		m.logger.Printf("login: compare failed user=%s: %v", user.ID, err)
	}
	if !ok {
		m.redirectWithFlash(c, PathLogin, msgInvalidCredentials)
		return
	}

	if err := m.establishSession(c, user); err != nil {
		m.logger.Printf("login: session save failed user=%s: %v", user.ID, err)
		m.redirectWithFlash(c, PathLogin, msgLoginFailed)
		return
	}
	c.Redirect(http.StatusFound, PathProtected)
}

// Logout は GET /logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		m.logger.Printf("logout: session save failed: %v", err)
	}
	c.Redirect(http.StatusFound, PathHome)
}

// GoogleLogin は GET /auth/google のハンドラーです。Google の同意画面へリダイレクトします。
func (m *Manager) GoogleLogin(c *gin.Context) {
	if m.google == nil {
		m.redirectWithFlash(c, PathLogin, msgGoogleDisabled)
		return
	}

	state, err := m.states.Issue(c)
	if err != nil {
		m.logger.Printf("google: issue state failed: %v", err)
		m.redirectWithFlash(c, PathLogin, msgGoogleFailed)
		return
	}
	c.Redirect(http.StatusFound, m.google.AuthCodeURL(state))
}

// GoogleCallback は GET /auth/google/page のハンドラーです。
func (m *Manager) GoogleCallback(c *gin.Context) {
	if m.google == nil {
		m.redirectWithFlash(c, PathLogin, msgGoogleDisabled)
		return
	}

	// 同意が拒否された場合も state は使い切る
	ok, err := m.states.Consume(c, c.Query("state"))
	if err != nil {
		m.logger.Printf("google: consume state failed: %v", err)
	}
	if reason := c.Query("error"); reason != "" {
		m.logger.Printf("google: provider returned error=%s", reason)
		m.redirectWithFlash(c, PathLogin, msgGoogleFailed)
		return
	}
	if !ok {
		m.redirectWithFlash(c, PathLogin, msgGoogleFailed)
		return
	}

	ctx := c.Request.Context()
	profile, err := m.google.FetchProfile(ctx, c.Query("code"))
	if err != nil {
		m.logger.Printf("google: %v", err)
		m.redirectWithFlash(c, PathLogin, msgGoogleFailed)
		return
	}

	email := normalizeEmail(profile.Email)
	if email == "" || !profile.EmailVerified {
		m.logger.Printf("google: rejected profile sub=%s verified=%t", profile.Subject, profile.EmailVerified)
		m.redirectWithFlash(c, PathLogin, msgGoogleFailed)
		return
	}

	user, err := m.findOrProvisionGoogleUser(ctx, email)
	if err != nil {
		m.logger.Printf("google: provision failed: %v", err)
		m.redirectWithFlash(c, PathLogin, msgGoogleFailed)
		return
	}

	if err := m.establishSession(c, user); err != nil {
		m.logger.Printf("google: session save failed user=%s: %v", user.ID, err)
		m.redirectWithFlash(c, PathLogin, msgLoginFailed)
		return
	}
	c.Redirect(http.StatusFound, PathProtected)
}

// findOrProvisionGoogleUser はメールアドレスでユーザーを探し、いなければ作成します。
func (m *Manager) findOrProvisionGoogleUser(ctx context.Context, email string) (*storage.User, error) {
	user, err := m.users.FindUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, err
	}

	user, err = m.users.CreateUser(ctx, email, storage.GoogleAccountPassword)
	if errors.Is(err, storage.ErrEmailTaken) {
		// 同時に作成された場合は既存の行を使う
		return m.users.FindUserByEmail(ctx, email)
	}
	if err != nil {
		return nil, err
	}
	m.logger.Printf("provisioned google user=%s", user.ID)
	return user, nil
}
