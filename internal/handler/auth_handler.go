// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/middleware"
	"github.com/hitoshi/authgate/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, providerName, redirectTo string) (string, error)
	CompleteLogin(ctx context.Context, providerName, code, state string, meta auth.ClientMeta) (*auth.LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	Providers() []model.ProviderName
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	SignInFailedPath string
	SignOutRedirect  string
	Cookie           middleware.CookieConfig
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, config AuthHandlerConfig) *AuthHandler {
	if config.SignInFailedPath == "" {
		config.SignInFailedPath = "/signin?error=signin_failed"
	}
	if config.SignOutRedirect == "" {
		config.SignOutRedirect = "/"
	}
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// SignIn はOAuthフローを開始する。
// GET /auth/signin?provider=github&redirectTo=/dashboard
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := q.Get("provider")

	authURL, err := h.service.BeginLogin(r.Context(), provider, q.Get("redirectTo"))
	if err != nil {
		slog.Warn("failed to begin login",
			slog.String("provider", provider),
			slog.String("reason", auth.FailureReason(err)),
			slog.String("error", err.Error()),
		)
		h.redirectFailed(w, r)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback はIdPからのコールバックを処理する。
// GET /auth/callback/{provider}?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	q := r.URL.Query()

	// IdP側で拒否された場合はコード交換を行わない
	if idpErr := q.Get("error"); idpErr != "" {
		slog.Warn("provider returned error",
			slog.String("provider", provider),
			slog.String("error", idpErr),
			slog.String("description", q.Get("error_description")),
		)
		h.redirectFailed(w, r)
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		slog.Warn("callback missing code or state", slog.String("provider", provider))
		h.redirectFailed(w, r)
		return
	}

	result, err := h.service.CompleteLogin(r.Context(), provider, code, state, auth.ClientMeta{
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		level := slog.LevelError
		if auth.IsClientError(err) {
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "oauth callback failed",
			slog.String("provider", provider),
			slog.String("reason", auth.FailureReason(err)),
			slog.String("error", err.Error()),
		)
		h.redirectFailed(w, r)
		return
	}

	middleware.SetSessionCookie(w, h.config.Cookie, result.SessionID, result.Session.ExpiresAt)
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, result.RedirectTo, http.StatusFound)
}

// SignOut はセッションを破棄する。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if sessionID, ok := middleware.SessionIDFromRequest(r); ok {
		if err := h.service.Logout(r.Context(), sessionID); err != nil {
			// 失効に失敗してもCookieはクリアする
			slog.Error("failed to revoke session", slog.String("error", err.Error()))
		}
	}

	middleware.ClearSessionCookie(w, h.config.Cookie)
	http.Redirect(w, r, h.config.SignOutRedirect, http.StatusFound)
}

// Providers は有効なIdPの一覧を返す。
// GET /auth/providers
func (h *AuthHandler) Providers(w http.ResponseWriter, r *http.Request) {
	names := h.service.Providers()
	if names == nil {
		names = []model.ProviderName{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": names})
}

// Me は現在のログインユーザー情報を返す。
// GET /api/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Dashboard はログインユーザー向けの簡易情報を返す。
// GET /dashboard
func (h *AuthHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	linked := make([]model.ProviderName, 0, len(user.Providers))
	for _, p := range h.service.Providers() {
		if user.HasProvider(p) {
			linked = append(linked, p)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"greeting":        "Welcome, " + user.Username,
		"userId":          user.ID,
		"linkedProviders": linked,
	})
}

func (h *AuthHandler) redirectFailed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, h.config.SignInFailedPath, http.StatusFound)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
