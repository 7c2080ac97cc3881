package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/authgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger         *slog.Logger
	StatusRecorder middleware.StatusRecorder
	Gate           *middleware.Gate
	RateLimiter    *middleware.RateLimiter
	TrustedProxies *middleware.TrustedProxies
	HSTS           bool

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 運用
	HealthChecks   []HealthCheck
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → ClientIP → SecurityHeaders → Logging → Gate
//
// 転送ヘッダーはTrustedProxiesに含まれる接続元からのみ参照する。
// サインインとコールバックにはIP単位、保護ルートにはユーザー単位のレート制限を適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewClientIPMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.HSTS))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.StatusRecorder))
	r.Use(deps.Gate.Middleware)

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)

	// --- 運用エンドポイント ---
	r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecks...))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証フロー（ゲート対象外） ---
	r.Route("/auth", func(r chi.Router) {
		r.With(deps.RateLimiter.SignInMiddleware()).Get("/signin", authHandler.SignIn)
		r.With(deps.RateLimiter.SignInMiddleware()).Get("/callback/{provider}", authHandler.Callback)
		r.Post("/signout", authHandler.SignOut)
		r.Get("/providers", authHandler.Providers)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/dashboard", authHandler.Dashboard)
		r.Get("/api/me", authHandler.Me)
	})

	return r
}
