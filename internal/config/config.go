package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ユーザーディレクトリの保存先
const (
	UserStorePostgres = "postgres"
	UserStoreMemory   = "memory"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	UserStore   string `env:"USER_STORE" envDefault:"postgres"`

	// Redis
	RedisURL       string `env:"REDIS_URL"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"storage_"`

	// OAuth
	GitHubClientID      string        `env:"GITHUB_CLIENT_ID"`
	GitHubClientSecret  string        `env:"GITHUB_CLIENT_SECRET"`
	GoogleClientID      string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret  string        `env:"GOOGLE_CLIENT_SECRET"`
	DiscordClientID     string        `env:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string        `env:"DISCORD_CLIENT_SECRET"`
	ProviderHTTPTimeout time.Duration `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"10s"`

	// Session
	SessionLifetime time.Duration `env:"SESSION_LIFETIME" envDefault:"720h"`
	StateTTL        time.Duration `env:"STATE_TTL" envDefault:"10m"`

	// Routing
	DefaultRedirect   string   `env:"DEFAULT_REDIRECT" envDefault:"/dashboard"`
	SignInPath        string   `env:"SIGNIN_PATH" envDefault:"/signin"`
	SignInFailedPath  string   `env:"SIGNIN_FAILED_PATH" envDefault:"/signin?error=signin_failed"`
	ProtectedPrefixes []string `env:"PROTECTED_PREFIXES" envDefault:"/dashboard,/api" envSeparator:","`

	// Rate Limit (req/min)
	RateLimitSignIn  int `env:"RATE_LIMIT_SIGNIN" envDefault:"20"`
	RateLimitGeneral int `env:"RATE_LIMIT_GENERAL" envDefault:"120"`

	// Observability
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	OTELEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL"`

	// X-Forwarded-For / X-Real-IP を信頼するプロキシ（CIDRまたはIP、カンマ区切り）
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Cookie
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"true"`
	CookieDomain string `env:"COOKIE_DOMAIN"`
}

// ProviderCredentials は有効化されたIdPの認証情報を表す。
type ProviderCredentials struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	// Required fields
	var missing []string

	switch cfg.UserStore {
	case UserStorePostgres:
		if cfg.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case UserStoreMemory:
	default:
		return nil, fmt.Errorf("unsupported USER_STORE: %q", cfg.UserStore)
	}

	if cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if cfg.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if len(cfg.EnabledProviders()) == 0 {
		return nil, fmt.Errorf("at least one OAuth provider must be configured (GITHUB_*, GOOGLE_* or DISCORD_*)")
	}
	if cfg.SessionLifetime <= 0 || cfg.StateTTL <= 0 {
		return nil, fmt.Errorf("SESSION_LIFETIME and STATE_TTL must be positive")
	}

	return cfg, nil
}

// EnabledProviders はクライアントIDとシークレットの両方が設定されたIdPを返す。
// コールバックURLは BASE_URL + /auth/callback/<provider> とする。
func (c *Config) EnabledProviders() []ProviderCredentials {
	candidates := []ProviderCredentials{
		{Name: "github", ClientID: c.GitHubClientID, ClientSecret: c.GitHubClientSecret},
		{Name: "google", ClientID: c.GoogleClientID, ClientSecret: c.GoogleClientSecret},
		{Name: "discord", ClientID: c.DiscordClientID, ClientSecret: c.DiscordClientSecret},
	}

	var enabled []ProviderCredentials
	for _, p := range candidates {
		if p.ClientID == "" || p.ClientSecret == "" {
			continue
		}
		p.RedirectURL = c.BaseURL + "/auth/callback/" + p.Name
		enabled = append(enabled, p)
	}
	return enabled
}
