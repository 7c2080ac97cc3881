package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

const stateKeyPrefix = "authstate:"

// DefaultStateTTL はstateトークンの有効期間。
const DefaultStateTTL = 10 * time.Minute

// StateManager はOAuthフローのCSRF対策用stateトークンを発行・引き換えする。
// トークンは1度だけ引き換え可能で、TTLを過ぎると存在しないものとして扱う。
type StateManager struct {
	store repository.SessionStore
	ttl   time.Duration
}

// NewStateManager はStateManagerを生成する。ttlが0以下の場合はDefaultStateTTLを使用する。
func NewStateManager(store repository.SessionStore, ttl time.Duration) *StateManager {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateManager{store: store, ttl: ttl}
}

// Issue は新しいstateトークンを発行し、リダイレクト先とIdPを紐付けて保存する。
func (m *StateManager) Issue(ctx context.Context, provider model.ProviderName, redirectTo string) (string, error) {
	token, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("failed to issue state: %w", err)
	}

	payload, err := json.Marshal(model.OAuthState{Provider: provider, RedirectTo: redirectTo})
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	if err := m.store.Set(ctx, stateKeyPrefix+token, string(payload), m.ttl); err != nil {
		return "", fmt.Errorf("%w: failed to store state: %v", ErrSessionStore, err)
	}

	return token, nil
}

// Redeem はstateトークンをアトミックに取得・削除する。
// 未発行・使用済み・期限切れ・破損したトークンはErrInvalidStateを返す。
func (m *StateManager) Redeem(ctx context.Context, token string) (*model.OAuthState, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidState)
	}

	raw, ok, err := m.store.GetAndDelete(ctx, stateKeyPrefix+token)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to redeem state: %v", ErrSessionStore, err)
	}
	if !ok {
		return nil, ErrInvalidState
	}

	var state model.OAuthState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		return nil, fmt.Errorf("%w: malformed state payload", ErrInvalidState)
	}
	state.Token = token

	return &state, nil
}
