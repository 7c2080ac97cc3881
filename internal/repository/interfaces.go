// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/authgate/internal/model"
)

var (
	// ErrDuplicateEmail は同一メールアドレスのユーザーが既に存在する場合に返される。
	ErrDuplicateEmail = errors.New("repository: duplicate email")
	// ErrUserNotFound は更新対象のユーザーが存在しない場合に返される。
	ErrUserNotFound = errors.New("repository: user not found")
)

// UserDirectory はユーザーデータの永続化インターフェース。
type UserDirectory interface {
	// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Create はユーザーとIdP紐付けを作成する。
	// メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProviderLink は指定IdPの紐付けを作成または上書きする。
	// 他のIdPの紐付けやユーザーの他フィールドは変更しない。
	UpdateProviderLink(ctx context.Context, userID string, provider model.ProviderName, link model.ProviderLink) error
}

// SessionStore はTTL付きキーバリューストアのインターフェース。
// stateトークンとセッションの保存先として使用する。
type SessionStore interface {
	// Get は値を取得する。キーが存在しない場合はfalseを返す。
	Get(ctx context.Context, key string) (string, bool, error)

	// Set はTTL付きで値を保存する。
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete はキーを削除する。存在しないキーの削除はエラーにならない。
	Delete(ctx context.Context, key string) error

	// GetAndDelete は値の取得と削除をアトミックに行う。
	// キーが存在しない場合はfalseを返す。
	GetAndDelete(ctx context.Context, key string) (string, bool, error)
}
