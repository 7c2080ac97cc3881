package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

const sessionKeyPrefix = "authsession:"

// DefaultSessionLifetime はセッションの有効期間（30日）。
const DefaultSessionLifetime = 30 * 24 * time.Hour

// UserFinder はセッション検証時にユーザーを解決するためのインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SessionManager はセッションの発行・検証・失効を行う。
// 有効期限はストアのTTLのみで管理し、別途の掃除処理は持たない。
type SessionManager struct {
	store    repository.SessionStore
	users    UserFinder
	lifetime time.Duration
	now      func() time.Time
}

// NewSessionManager はSessionManagerを生成する。lifetimeが0以下の場合は30日とする。
func NewSessionManager(store repository.SessionStore, users UserFinder, lifetime time.Duration) *SessionManager {
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	return &SessionManager{
		store:    store,
		users:    users,
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Lifetime はセッションの有効期間を返す。
func (m *SessionManager) Lifetime() time.Duration {
	return m.lifetime
}

// CreateSession は新しいセッションを発行し、ストアにTTL付きで保存する。
func (m *SessionManager) CreateSession(ctx context.Context, userID, ipAddress, userAgent string) (string, *model.Session, error) {
	sessionID, err := generateToken()
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session id: %w", err)
	}

	now := m.now()
	session := &model.Session{
		UserID:    userID,
		UserAgent: userAgent,
		IPAddress: ipAddress,
		Device:    DeviceLabel(userAgent),
		CreatedAt: now,
		ExpiresAt: now.Add(m.lifetime),
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode session: %w", err)
	}

	if err := m.store.Set(ctx, sessionKeyPrefix+sessionID, string(payload), m.lifetime); err != nil {
		return "", nil, fmt.Errorf("%w: failed to store session: %v", ErrSessionStore, err)
	}

	return sessionID, session, nil
}

// ValidateSession はセッションIDに対応するユーザーを返す。
// セッションが存在しない・破損している・ユーザーが削除済みの場合はErrInvalidSessionを返す。
// 破損したセッションと孤立したセッションはストアから削除する。
func (m *SessionManager) ValidateSession(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, ErrInvalidSession
	}

	key := sessionKeyPrefix + sessionID
	raw, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load session: %v", ErrSessionStore, err)
	}
	if !ok {
		return nil, ErrInvalidSession
	}

	var session model.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil || session.UserID == "" {
		m.discard(ctx, key, "malformed session")
		return nil, ErrInvalidSession
	}

	user, err := m.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserDirectory, err)
	}
	if user == nil {
		m.discard(ctx, key, "orphaned session")
		return nil, ErrInvalidSession
	}

	return user, nil
}

// RevokeSession はセッションを削除する。存在しない場合も成功とする。
func (m *SessionManager) RevokeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := m.store.Delete(ctx, sessionKeyPrefix+sessionID); err != nil {
		return fmt.Errorf("%w: failed to revoke session: %v", ErrSessionStore, err)
	}
	return nil
}

func (m *SessionManager) discard(ctx context.Context, key, reason string) {
	if err := m.store.Delete(ctx, key); err != nil {
		slog.Warn("failed to discard session",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Info("session discarded", slog.String("reason", reason))
}
