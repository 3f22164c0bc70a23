// Package main はWebサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/authnest/internal/auth"
	"github.com/yourusername/authnest/internal/config"
	"github.com/yourusername/authnest/internal/storage"
	"github.com/yourusername/authnest/internal/web"
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.Default()
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DSN())
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	authManager, cleanup, err := setupAuth(cfg, store, logger)
	if err != nil {
		log.Fatalf("Failed to set up auth: %v", err)
	}
	defer cleanup()

	router, err := newRouter(cfg, authManager, logger)
	if err != nil {
		log.Fatalf("Failed to build router: %v", err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Printf("graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("Server running on %s (mode: %s, db: %s, google: %t)", srv.Addr, cfg.GinMode, cfg.DBDriver, authManager.GoogleEnabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// newRouter はミドルウェアとルーティングを設定した gin.Engine を返します。
func newRouter(cfg *config.Config, authManager *auth.Manager, logger *log.Logger) (*gin.Engine, error) {
	// Ginルーターの初期化（デフォルトミドルウェア: Logger, Recovery）
	router := gin.Default()

	tmpl, err := web.Templates()
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)

	secret, err := sessionSecret(cfg, logger)
	if err != nil {
		return nil, err
	}

	// セッションストアの設定
	store := cookie.NewStore(secret)
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   authManager.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.IsRelease(),
		// Google からのリダイレクト（クロスサイトのトップレベル GET）でも Cookie を送らせる
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, store))

	// CORSミドルウェアの設定（ブラウザはフォーム送信にも Origin を付けるため、自サイトのオリジンを含めること）
	if len(cfg.CORSAllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{
			"Origin",
			"Content-Type",
			"Accept",
			"X-CSRF-Token",
		}
		router.Use(cors.New(corsConfig))
	}

	setupRoutes(router, authManager, logger)
	return router, nil
}

// setupRoutes は画面と認証周りの配線を行います。
func setupRoutes(router *gin.Engine, authManager *auth.Manager, logger *log.Logger) {
	pages := web.NewHandlers(authManager, logger)

	router.GET("/health", web.Health)
	router.StaticFS("/static", web.StaticFS())

	router.GET("/", pages.Home)
	router.GET("/login", pages.Login)
	router.GET("/register", pages.Register)
	router.GET("/logout", authManager.Logout)

	// フォーム送信は GET /login, /register で発行した CSRF トークンを検証する
	forms := router.Group("")
	forms.Use(authManager.VerifyCSRF())
	{
		forms.POST("/login", authManager.Login)
		forms.POST("/register", authManager.Register)
	}

	google := router.Group("/auth/google")
	{
		google.GET("", authManager.GoogleLogin)
		google.GET("/page", authManager.GoogleCallback)
	}

	router.GET("/page", authManager.RequireLogin(), pages.Protected)
}

// sessionSecret はセッション署名鍵を返します。
// 開発時に未設定の場合は起動ごとにランダムな鍵を使います。
func sessionSecret(cfg *config.Config, logger *log.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	logger.Printf("SESSION_SECRET is not set; using a random key (sessions will not survive restarts)")
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}
