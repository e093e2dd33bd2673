// Package server は HTTP ルーターの組み立てを行います。
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/codedeck-auth/internal/auth"
	"github.com/yourusername/codedeck-auth/internal/config"
	"github.com/yourusername/codedeck-auth/internal/logging"
	"github.com/yourusername/codedeck-auth/internal/metrics"
)

// ServiceName はログとヘルスチェックに出すサービス名です。
const ServiceName = "codedeck-auth"

// Deps はルーターが必要とする依存関係です。
type Deps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Accounts auth.Accounts
	Sessions sessions.Store
	// Metrics が nil の場合は計測せず /metrics も公開しません。
	Metrics      *metrics.Metrics
	HealthChecks map[string]HealthCheck
	Version      string
}

// CookieOptions は設定からセッションクッキーの属性を組み立てます。
func CookieOptions(cfg *config.Config) sessions.Options {
	return sessions.Options{
		Path:     "/",
		MaxAge:   int(cfg.SessionMaxAge() / time.Second),
		HttpOnly: true,
		Secure:   cfg.SessionCookieSecure,
		SameSite: cfg.SameSite(),
	}
}

// NewRouter は Gin ルーターを作成し、ミドルウェアとルートを登録します。
func NewRouter(d Deps) (*gin.Engine, error) {
	cfg := d.Config
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := gin.New()
	router.Use(gin.Recovery(), logging.GinLogger(logger))

	// X-Forwarded-For を信頼するプロキシ。未設定なら直接の接続元を使う
	if err := router.SetTrustedProxies(cfg.TrustedProxyList()); err != nil {
		return nil, err
	}

	var recorder metrics.Recorder = metrics.Noop{}
	if d.Metrics != nil {
		recorder = d.Metrics
		router.Use(d.Metrics.Middleware())
	}

	// 許可リスト外のオリジンからのリクエストは 403
	if origins := cfg.AllowedOrigins(); len(origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	cookieOpts := CookieOptions(cfg)
	d.Sessions.Options(cookieOpts)

	authManager := auth.NewManager(d.Accounts, auth.Options{
		SaveUninitialized: cfg.SessionSaveUninitialized,
		Cookie:            cookieOpts,
		Metrics:           recorder,
		Logger:            logger,
	})

	// すべてのリクエストにセッションを紐付ける
	router.Use(sessions.Sessions(cfg.SessionCookieName, d.Sessions), authManager.LoadSession())

	router.GET("/", handleRoot)
	router.GET("/health", healthHandler(ServiceName, d.Version, d.HealthChecks, logger))
	if d.Metrics != nil && cfg.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	router.POST("/sign-up", authManager.SignUp)
	router.POST("/sign-in", authManager.SignIn)
	router.POST("/logout", authManager.Logout)
	router.GET("/is-authenticated", authManager.RequireLogin(), authManager.IsAuthenticated)

	return router, nil
}

func handleRoot(c *gin.Context) {
	c.String(http.StatusOK, "Backend is running successfully!")
}
