package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

// --- モック定義 ---

type mockStore struct {
	getFn          func(ctx context.Context, key string) (string, bool, error)
	setFn          func(ctx context.Context, key, value string, ttl time.Duration) error
	deleteFn       func(ctx context.Context, key string) error
	getAndDeleteFn func(ctx context.Context, key string) (string, bool, error)
}

func (m *mockStore) Get(ctx context.Context, key string) (string, bool, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return "", false, nil
}

func (m *mockStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}

func (m *mockStore) Delete(ctx context.Context, key string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, key)
	}
	return nil
}

func (m *mockStore) GetAndDelete(ctx context.Context, key string) (string, bool, error) {
	if m.getAndDeleteFn != nil {
		return m.getAndDeleteFn(ctx, key)
	}
	return "", false, nil
}

type mockDirectory struct {
	findByEmailFn        func(ctx context.Context, email string) (*model.User, error)
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	createFn             func(ctx context.Context, user *model.User) error
	updateProviderLinkFn func(ctx context.Context, userID string, provider model.ProviderName, link model.ProviderLink) error
}

func (m *mockDirectory) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findByEmailFn != nil {
		return m.findByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockDirectory) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockDirectory) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockDirectory) UpdateProviderLink(ctx context.Context, userID string, provider model.ProviderName, link model.ProviderLink) error {
	if m.updateProviderLinkFn != nil {
		return m.updateProviderLinkFn(ctx, userID, provider, link)
	}
	return nil
}

type mockProvider struct {
	name           model.ProviderName
	exchangeCodeFn func(ctx context.Context, code string) (string, error)
	fetchProfileFn func(ctx context.Context, accessToken string) (*model.ProviderProfile, error)
	exchangeCalls  int
}

func (m *mockProvider) Name() model.ProviderName { return m.name }

func (m *mockProvider) AuthCodeURL(state string) string {
	return "https://idp.example.com/authorize?state=" + state
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	m.exchangeCalls++
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return "access-token", nil
}

func (m *mockProvider) FetchProfile(ctx context.Context, accessToken string) (*model.ProviderProfile, error) {
	if m.fetchProfileFn != nil {
		return m.fetchProfileFn(ctx, accessToken)
	}
	return nil, nil
}

type recordedLogin struct {
	provider string
	outcome  string
}

type mockRecorder struct {
	logins []recordedLogin
	steps  []string
}

func (m *mockRecorder) RecordLogin(provider, outcome string) {
	m.logins = append(m.logins, recordedLogin{provider, outcome})
}

func (m *mockRecorder) ObserveProviderRequest(provider, step string, _ time.Duration) {
	m.steps = append(m.steps, provider+":"+step)
}

// --- compile-time interface checks ---
var _ repository.SessionStore = (*mockStore)(nil)
var _ repository.UserDirectory = (*mockDirectory)(nil)
var _ Provider = (*mockProvider)(nil)
var _ Recorder = (*mockRecorder)(nil)

// --- ヘルパー ---

// newRedisStore はminiredisを使ったSessionStoreを返す。
func newRedisStore(t *testing.T) (*repository.RedisSessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return repository.NewRedisSessionStore(client, "storage_"), mr
}
