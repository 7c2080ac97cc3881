// Package auth はOAuth2認可コードフローによるログインとセッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/security"
)

const tracerName = "github.com/hitoshi/authgate/internal/auth"

// Recorder はログイン処理の計測値を受け取る。
type Recorder interface {
	RecordLogin(provider, outcome string)
	ObserveProviderRequest(provider, step string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string, string) {}

func (nopRecorder) ObserveProviderRequest(string, string, time.Duration) {}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// DefaultRedirect はredirectTo未指定時のログイン後の遷移先。
	DefaultRedirect string
}

// ClientMeta はセッションに記録するクライアント情報。
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// LoginResult はログイン完了時の結果。
type LoginResult struct {
	SessionID  string
	Session    *model.Session
	User       *model.User
	RedirectTo string
}

// Service はログイン開始からセッション発行までのフローを統括する。
// IdPごとの差異はProviderに閉じ込め、コールバック処理は全IdPで共通。
type Service struct {
	providers  *Registry
	states     *StateManager
	reconciler *Reconciler
	sessions   *SessionManager
	recorder   Recorder
	tracer     trace.Tracer
	config     ServiceConfig
}

// NewService はServiceを生成する。recorderがnilの場合は計測しない。
func NewService(providers *Registry, states *StateManager, reconciler *Reconciler, sessions *SessionManager, recorder Recorder, config ServiceConfig) *Service {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if config.DefaultRedirect == "" {
		config.DefaultRedirect = "/dashboard"
	}
	return &Service{
		providers:  providers,
		states:     states,
		reconciler: reconciler,
		sessions:   sessions,
		recorder:   recorder,
		tracer:     otel.Tracer(tracerName),
		config:     config,
	}
}

// BeginLogin はstateトークンを発行し、IdPの認可URLを返す。
// redirectToは同一オリジンのパスのみ受け付け、それ以外はデフォルトの遷移先に置き換える。
func (s *Service) BeginLogin(ctx context.Context, providerName, redirectTo string) (string, error) {
	provider, err := s.providers.Lookup(providerName)
	if err != nil {
		s.recorder.RecordLogin(providerLabel(providerName), FailureReason(err))
		return "", err
	}

	target := security.SafeRedirectTarget(redirectTo, s.config.DefaultRedirect)

	token, err := s.states.Issue(ctx, provider.Name(), target)
	if err != nil {
		s.recorder.RecordLogin(string(provider.Name()), FailureReason(err))
		return "", err
	}

	return provider.AuthCodeURL(token), nil
}

// CompleteLogin はIdPからのコールバックを処理し、セッションを発行する。
// 1. stateの引き換え 2. コード交換 3. プロフィール取得 4. ユーザー解決 5. セッション発行
// の順に実行し、いずれかが失敗した時点で中断する。
func (s *Service) CompleteLogin(ctx context.Context, providerName, code, state string, meta ClientMeta) (result *LoginResult, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.complete_login",
		trace.WithAttributes(attribute.String("auth.provider", providerName)),
	)
	defer func() {
		s.recorder.RecordLogin(providerLabel(providerName), FailureReason(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, FailureReason(err))
		}
		span.End()
	}()

	provider, err := s.providers.Lookup(providerName)
	if err != nil {
		return nil, err
	}

	// 1. stateの引き換え。失敗した場合はIdPへの通信を一切行わない
	oauthState, err := traced(ctx, s.tracer, "auth.redeem_state", func(ctx context.Context) (*model.OAuthState, error) {
		return s.states.Redeem(ctx, state)
	})
	if err != nil {
		return nil, err
	}
	if oauthState.Provider != provider.Name() {
		return nil, fmt.Errorf("%w: state issued for %q", ErrInvalidState, oauthState.Provider)
	}

	// 2. 認可コードをアクセストークンに交換
	accessToken, err := timed(ctx, s, provider, "exchange_code", func(ctx context.Context) (string, error) {
		return provider.ExchangeCode(ctx, code)
	})
	if err != nil {
		return nil, err
	}

	// 3. プロフィール取得
	profile, err := timed(ctx, s, provider, "fetch_profile", func(ctx context.Context) (*model.ProviderProfile, error) {
		return provider.FetchProfile(ctx, accessToken)
	})
	if err != nil {
		return nil, err
	}

	// 4. ローカルユーザーに対応付け
	user, err := traced(ctx, s.tracer, "auth.resolve_identity", func(ctx context.Context) (*model.User, error) {
		return s.reconciler.Resolve(ctx, profile)
	})
	if err != nil {
		return nil, err
	}

	// 5. セッション発行
	var session *model.Session
	sessionID, err := traced(ctx, s.tracer, "auth.create_session", func(ctx context.Context) (string, error) {
		id, sess, err := s.sessions.CreateSession(ctx, user.ID, meta.IPAddress, meta.UserAgent)
		session = sess
		return id, err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("login succeeded",
		slog.String("user_id", user.ID),
		slog.String("provider", string(provider.Name())),
		slog.String("device", session.Device),
	)

	return &LoginResult{
		SessionID:  sessionID,
		Session:    session,
		User:       user,
		RedirectTo: oauthState.RedirectTo,
	}, nil
}

// Logout はセッションを失効させる。
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	return s.sessions.RevokeSession(ctx, sessionID)
}

// CurrentUser はセッションIDに対応するユーザーを返す。
func (s *Service) CurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	return s.sessions.ValidateSession(ctx, sessionID)
}

// Providers は有効化されたIdP名を返す。
func (s *Service) Providers() []model.ProviderName {
	return s.providers.Names()
}

// SessionLifetime はセッションの有効期間を返す。
func (s *Service) SessionLifetime() time.Duration {
	return s.sessions.Lifetime()
}

// timed はIdPへの通信をスパンで囲み、所要時間を記録する。
func timed[T any](ctx context.Context, s *Service, provider Provider, step string, fn func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	v, err := traced(ctx, s.tracer, "auth."+step, fn)
	s.recorder.ObserveProviderRequest(string(provider.Name()), step, time.Since(start))
	return v, err
}

func traced[T any](ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) (T, error)) (T, error) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	v, err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return v, err
}

// providerLabel は未知のIdP名をメトリクスのラベルに含めないよう "unknown" に丸める。
func providerLabel(name string) string {
	if pn, ok := model.ParseProviderName(name); ok {
		return string(pn)
	}
	return "unknown"
}

// IsClientError はエラーがユーザー操作起因（再ログインで解決しうる）かを返す。
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrUnknownProvider) ||
		errors.Is(err, ErrProviderExchange) ||
		errors.Is(err, ErrProviderProfile)
}
