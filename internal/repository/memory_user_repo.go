package repository

import (
	"context"
	"sync"

	"github.com/hitoshi/authgate/internal/model"
)

// MemoryUserRepo はプロセス内メモリを使用したユーザーリポジトリ。
// ローカル開発とテスト用。プロセス終了でデータは失われる。
type MemoryUserRepo struct {
	mu      sync.RWMutex
	byID    map[string]*model.User
	byEmail map[string]string
}

// NewMemoryUserRepo はMemoryUserRepoを生成する。
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		byID:    make(map[string]*model.User),
		byEmail: make(map[string]string),
	}
}

// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	return cloneUser(r.byID[id]), nil
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *MemoryUserRepo) FindByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(user), nil
}

// Create はユーザーを作成する。
func (r *MemoryUserRepo) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[user.Email]; exists {
		return ErrDuplicateEmail
	}
	r.byID[user.ID] = cloneUser(user)
	r.byEmail[user.Email] = user.ID
	return nil
}

// UpdateProviderLink は指定IdPの紐付けを作成または上書きする。
func (r *MemoryUserRepo) UpdateProviderLink(_ context.Context, userID string, provider model.ProviderName, link model.ProviderLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	if user.Providers == nil {
		user.Providers = make(map[model.ProviderName]model.ProviderLink)
	}
	user.Providers[provider] = link
	user.UpdatedAt = link.UpdatedAt
	return nil
}

// Delete はユーザーを削除する。認証フローからは呼ばれない。
func (r *MemoryUserRepo) Delete(_ context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.byID[id]; ok {
		delete(r.byEmail, user.Email)
		delete(r.byID, id)
	}
}

// Count は登録済みユーザー数を返す。
func (r *MemoryUserRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func cloneUser(u *model.User) *model.User {
	c := *u
	c.Providers = make(map[model.ProviderName]model.ProviderLink, len(u.Providers))
	for k, v := range u.Providers {
		c.Providers[k] = v
	}
	return &c
}

// compile-time interface check
var _ UserDirectory = (*MemoryUserRepo)(nil)
