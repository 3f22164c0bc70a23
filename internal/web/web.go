// Package web は画面のテンプレート描画と静的ファイル配信を提供します。
package web

import (
	"embed"
	"html/template"
	"io/fs"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/authnest/internal/auth"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

// SessionView は画面描画に必要なセッション操作です。
type SessionView interface {
	PageState(c *gin.Context) (auth.PageState, error)
	GoogleEnabled() bool
}

type pageData struct {
	Title         string
	CSRFField     string
	CSRFToken     string
	Flashes       []string
	User          *auth.SessionUser
	GoogleEnabled bool
}

// Templates は埋め込みテンプレートをパースして返します。
func Templates() (*template.Template, error) {
	return template.ParseFS(templateFS, "templates/*.html")
}

// StaticFS は /static 配下で配信するファイルシステムを返します。
func StaticFS() http.FileSystem {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		// 埋め込みディレクトリ名は固定なので到達しない
		panic(err)
	}
	return http.FS(sub)
}

// Handlers は画面表示用のハンドラーをまとめます。
type Handlers struct {
	session SessionView
	logger  *log.Logger
}

// NewHandlers は Handlers を作成します。
func NewHandlers(session SessionView, logger *log.Logger) *Handlers {
	if logger == nil {
		logger = log.Default()
	}
	return &Handlers{session: session, logger: logger}
}

// Home は GET / のハンドラーです。
func (h *Handlers) Home(c *gin.Context) {
	h.render(c, "home.html", "ホーム")
}

// Login は GET /login のハンドラーです。
func (h *Handlers) Login(c *gin.Context) {
	h.render(c, "login.html", "ログイン")
}

// Register は GET /register のハンドラーです。
func (h *Handlers) Register(c *gin.Context) {
	h.render(c, "register.html", "新規登録")
}

// Protected は GET /page のハンドラーです。RequireLogin の後ろに置いてください。
func (h *Handlers) Protected(c *gin.Context) {
	if _, ok := auth.CurrentUser(c); !ok {
		c.Redirect(http.StatusFound, auth.PathLogin)
		return
	}
	h.render(c, "page.html", "限定ページ")
}

func (h *Handlers) render(c *gin.Context, name, title string) {
	state, err := h.session.PageState(c)
	if err != nil {
		h.logger.Printf("render %s: session error: %v", name, err)
		c.String(http.StatusInternalServerError, "セッションの読み込みに失敗しました")
		return
	}

	data := pageData{
		Title:         title,
		CSRFField:     auth.CSRFFormField,
		CSRFToken:     state.CSRFToken,
		Flashes:       state.Flashes,
		User:          state.User,
		GoogleEnabled: h.session.GoogleEnabled(),
	}
	if user, ok := auth.CurrentUser(c); ok {
		data.User = &user
	}

	c.Header("Cache-Control", "no-store")
	c.HTML(http.StatusOK, name, data)
}

// Health はヘルスチェックエンドポイントのハンドラーです。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "authnest",
		"version": "0.1.0",
	})
}
