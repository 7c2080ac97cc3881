package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/auth"
	"github.com/hitoshi/authgate/internal/model"
)

// GateState はリクエストごとの認証ゲートの状態を表す。
type GateState int

const (
	// GatePublic は認証不要のリクエスト。
	GatePublic GateState = iota
	// GateAuthRequiredPending は保護パスでセッション検証前の状態。
	GateAuthRequiredPending
	// GateAuthenticated はセッション検証に成功した状態。
	GateAuthenticated
	// GateRejected はセッションがなく、サインインへ誘導する状態。
	GateRejected
)

// String はログ出力用の状態名を返す。
func (s GateState) String() string {
	switch s {
	case GatePublic:
		return "public"
	case GateAuthRequiredPending:
		return "auth_required_pending"
	case GateAuthenticated:
		return "authenticated"
	case GateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// contextKey はコンテキストキーの型。
type contextKey string

const (
	userContextKey        contextKey = "user"
	requestInfoContextKey contextKey = "request_info"
)

// SessionValidator はセッションIDからユーザーを解決するインターフェース。
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*model.User, error)
}

// SessionRecorder はセッション検証結果を記録するインターフェース。
type SessionRecorder interface {
	RecordSessionValidation(result string)
}

// GateConfig はゲートの設定を保持する。
type GateConfig struct {
	SignInPath        string
	BypassPrefixes    []string
	ProtectedPrefixes []string
	Cookie            CookieConfig
}

// DefaultBypassPrefixes はゲートを通さないパスのプレフィックス。
var DefaultBypassPrefixes = []string{"/auth/", "/health", "/metrics"}

// Gate はセッションCookieに基づいてリクエストを認証済み・匿名・拒否に振り分ける。
type Gate struct {
	sessions SessionValidator
	recorder SessionRecorder
	config   GateConfig
}

// NewGate はGateを生成する。recorderはnilでもよい。
func NewGate(sessions SessionValidator, recorder SessionRecorder, config GateConfig) *Gate {
	if config.SignInPath == "" {
		config.SignInPath = "/signin"
	}
	if config.BypassPrefixes == nil {
		config.BypassPrefixes = DefaultBypassPrefixes
	}
	return &Gate{
		sessions: sessions,
		recorder: recorder,
		config:   config,
	}
}

// Classify はパスに対する初期状態を返す。
// 保護パスはGateAuthRequiredPending、それ以外はGatePublic。
func (g *Gate) Classify(path string) GateState {
	if hasAnyPrefix(path, g.config.BypassPrefixes) {
		return GatePublic
	}
	if hasAnyPrefix(path, g.config.ProtectedPrefixes) {
		return GateAuthRequiredPending
	}
	return GatePublic
}

// Middleware はゲートのミドルウェアを返す。
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hasAnyPrefix(r.URL.Path, g.config.BypassPrefixes) {
			annotate(r.Context(), "", GatePublic)
			next.ServeHTTP(w, r)
			return
		}

		protected := g.Classify(r.URL.Path) == GateAuthRequiredPending

		sessionID, ok := SessionIDFromRequest(r)
		if !ok {
			g.deny(w, r, protected, next)
			return
		}

		user, err := g.sessions.ValidateSession(r.Context(), sessionID)
		switch {
		case err == nil:
			g.record("valid")
			annotate(r.Context(), user.ID, GateAuthenticated)
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		case errors.Is(err, auth.ErrInvalidSession):
			g.record("invalid")
			ClearSessionCookie(w, g.config.Cookie)
			g.deny(w, r, protected, next)
		default:
			g.record("error")
			slog.Error("session validation failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			g.deny(w, r, protected, next)
		}
	})
}

// deny は保護パスならサインインへリダイレクトし、それ以外は匿名で続行する。
func (g *Gate) deny(w http.ResponseWriter, r *http.Request, protected bool, next http.Handler) {
	if protected {
		annotate(r.Context(), "", GateRejected)
		http.Redirect(w, r, g.config.SignInPath, http.StatusFound)
		return
	}
	annotate(r.Context(), "", GatePublic)
	next.ServeHTTP(w, r)
}

func (g *Gate) record(result string) {
	if g.recorder != nil {
		g.recorder.RecordSessionValidation(result)
	}
}

// UserFromContext はコンテキストから認証済みユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil {
		return nil, false
	}
	return user, true
}

// ContextWithUser は認証済みユーザーをコンテキストに設定する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserIDFromContext はコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, bool) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return "", false
	}
	return user.ID, true
}

// requestInfo はロギングミドルウェアが内側のゲートから結果を受け取るための入れ物。
type requestInfo struct {
	userID string
	state  GateState
	set    bool
}

func contextWithRequestInfo(ctx context.Context) (context.Context, *requestInfo) {
	info := &requestInfo{}
	return context.WithValue(ctx, requestInfoContextKey, info), info
}

func annotate(ctx context.Context, userID string, state GateState) {
	info, ok := ctx.Value(requestInfoContextKey).(*requestInfo)
	if !ok {
		return
	}
	info.userID = userID
	info.state = state
	info.set = true
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		base := strings.TrimSuffix(prefix, "/")
		if path == base || strings.HasPrefix(path, base+"/") {
			return true
		}
	}
	return false
}
