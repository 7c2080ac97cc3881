package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/config"
	"github.com/hitoshi/authgate/internal/database"
	"github.com/hitoshi/authgate/internal/handler"
	"github.com/hitoshi/authgate/internal/logger"
	"github.com/hitoshi/authgate/internal/metrics"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
	"github.com/hitoshi/authgate/internal/telemetry"
)

const serviceName = "authgate"

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// 読み込み後はLOG_LEVELに従ってログレベルを再設定する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
		slog.String("user_store", cfg.UserStore),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return runServe(ctx, cfg)
}

// Server は依存関係を組み立て済みのHTTPハンドラーと、その後始末を保持する。
type Server struct {
	Handler http.Handler
	closers []func(context.Context) error
}

// Close は生成した依存を逆順に解放する。
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) onClose(fn func(context.Context) error) {
	s.closers = append(s.closers, fn)
}

// Build は設定から全依存関係をワイヤリングし、Serverを返す。
// 途中で失敗した場合はそれまでに確保した資源を解放する。
func Build(ctx context.Context, cfg *config.Config) (_ *Server, err error) {
	srv := &Server{}
	defer func() {
		if err != nil {
			_ = srv.Close(context.Background())
		}
	}()

	// 1. Redis（stateトークンとセッションの保存先）
	redisClient, err := database.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	srv.onClose(func(context.Context) error { return redisClient.Close() })
	slog.Info("redis connection established")

	healthChecks := []handler.HealthCheck{
		{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	}

	// 2. ユーザーディレクトリ
	var users repository.UserDirectory
	switch cfg.UserStore {
	case config.UserStoreMemory:
		slog.Warn("using in-memory user directory; users are lost on restart")
		users = repository.NewMemoryUserRepo()
	default:
		db, err := database.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		srv.onClose(func(context.Context) error { return db.Close() })

		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established",
			slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		)

		users = repository.NewPostgresUserRepo(db)
		healthChecks = append(healthChecks, handler.HealthCheck{Name: "postgres", Check: db.PingContext})
	}

	// 3. トレーシング
	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		return nil, err
	}
	srv.onClose(shutdownTracing)

	// 4. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	// 5. IdPアダプタ
	providers, err := buildProviders(cfg)
	if err != nil {
		return nil, err
	}
	registry := auth.NewRegistry(providers...)
	slog.Info("oauth providers enabled", slog.Any("providers", registry.Names()))

	// 6. 認証サービス
	store := repository.NewRedisSessionStore(redisClient, cfg.RedisKeyPrefix)
	sessions := auth.NewSessionManager(store, users, cfg.SessionLifetime)
	authService := auth.NewService(
		registry,
		auth.NewStateManager(store, cfg.StateTTL),
		auth.NewReconciler(users, security.NewProfileSanitizer()),
		sessions,
		collector,
		auth.ServiceConfig{DefaultRedirect: cfg.DefaultRedirect},
	)

	// 7. ルーター
	cookie := middleware.CookieConfig{Secure: cfg.CookieSecure, Domain: cfg.CookieDomain}
	trustedProxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitSignIn, cfg.RateLimitGeneral))
	srv.onClose(func(context.Context) error {
		limiter.Stop()
		return nil
	})

	srv.Handler = handler.NewRouter(&handler.RouterDeps{
		Logger:         slog.Default(),
		StatusRecorder: collector,
		Gate: middleware.NewGate(sessions, collector, middleware.GateConfig{
			SignInPath:        cfg.SignInPath,
			ProtectedPrefixes: cfg.ProtectedPrefixes,
			Cookie:            cookie,
		}),
		RateLimiter:    limiter,
		TrustedProxies: trustedProxies,
		HSTS:           cfg.CookieSecure && strings.HasPrefix(cfg.BaseURL, "https://"),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			SignInFailedPath: cfg.SignInFailedPath,
			Cookie:           cookie,
		},

		HealthChecks:   healthChecks,
		MetricsHandler: metrics.Handler(reg),
	})

	return srv, nil
}

// buildProviders は有効化されたIdPのアダプタを生成する。
// IdPとの通信にはPROVIDER_HTTP_TIMEOUTのタイムアウトを適用する。
func buildProviders(cfg *config.Config) ([]auth.Provider, error) {
	httpClient := &http.Client{Timeout: cfg.ProviderHTTPTimeout}

	var providers []auth.Provider
	for _, p := range cfg.EnabledProviders() {
		provider, err := auth.NewProvider(model.ProviderName(p.Name), auth.ClientCredentials{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURL:  p.RedirectURL,
		}, httpClient)
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	return providers, nil
}

// runServe はHTTPサーバーを起動する。
// ctxがキャンセルされる（SIGINT/SIGTERM受信）とグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	srv, err := Build(ctx, cfg)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// コールバックはIdPへの通信を含むため余裕を持たせる
		WriteTimeout: cfg.ProviderHTTPTimeout*2 + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		_ = srv.Close(context.Background())
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	closeErr := srv.Close(shutdownCtx)
	if shutdownErr != nil {
		return fmt.Errorf("server shutdown failed: %w", shutdownErr)
	}
	if closeErr != nil {
		slog.Error("failed to release resources", slog.String("error", closeErr.Error()))
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
