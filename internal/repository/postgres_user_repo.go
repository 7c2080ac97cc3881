package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/authgate/internal/model"
)

// PostgreSQLのエラーコード
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
// IdP紐付けはuser_providersテーブルに (user_id, provider) 単位で保持する。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByEmail は正規化済みメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT id, username, email, avatar_url, created_at, updated_at FROM users WHERE email = $1`,
		email,
	)
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	return r.findOne(ctx,
		`SELECT id, username, email, avatar_url, created_at, updated_at FROM users WHERE id = $1`,
		id,
	)
}

func (r *PostgresUserRepo) findOne(ctx context.Context, query string, arg string) (*model.User, error) {
	user := &model.User{}
	err := r.db.QueryRowContext(ctx, query, arg).
		Scan(&user.ID, &user.Username, &user.Email, &user.AvatarURL, &user.CreatedAt, &user.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	providers, err := r.loadProviders(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Providers = providers

	return user, nil
}

func (r *PostgresUserRepo) loadProviders(ctx context.Context, userID string) (map[model.ProviderName]model.ProviderLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT provider, provider_user_id, username, avatar_url, updated_at
		 FROM user_providers WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list provider links: %w", err)
	}
	defer rows.Close()

	providers := make(map[model.ProviderName]model.ProviderLink)
	for rows.Next() {
		var (
			name string
			link model.ProviderLink
		)
		if err := rows.Scan(&name, &link.ProviderUserID, &link.Username, &link.AvatarURL, &link.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan provider link: %w", err)
		}
		providers[model.ProviderName(name)] = link
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate provider links: %w", err)
	}

	return providers, nil
}

// Create はユーザーとIdP紐付けを同一トランザクションで作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// ユーザーを作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, username, email, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID, user.Username, user.Email, user.AvatarURL, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isPQCode(err, pqUniqueViolation) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	// IdP紐付けを作成
	for provider, link := range user.Providers {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO user_providers (user_id, provider, provider_user_id, username, avatar_url, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			user.ID, string(provider), link.ProviderUserID, link.Username, link.AvatarURL, link.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert provider link: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// UpdateProviderLink は指定IdPの紐付けをUPSERTする。
// 紐付けの更新とusers.updated_atの更新を1ステートメントで行う。
func (r *PostgresUserRepo) UpdateProviderLink(ctx context.Context, userID string, provider model.ProviderName, link model.ProviderLink) error {
	_, err := r.db.ExecContext(ctx,
		`WITH link AS (
			INSERT INTO user_providers (user_id, provider, provider_user_id, username, avatar_url, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (user_id, provider) DO UPDATE SET
				provider_user_id = EXCLUDED.provider_user_id,
				username = EXCLUDED.username,
				avatar_url = EXCLUDED.avatar_url,
				updated_at = EXCLUDED.updated_at
			RETURNING user_id
		)
		UPDATE users SET updated_at = $6 WHERE id IN (SELECT user_id FROM link)`,
		userID, string(provider), link.ProviderUserID, link.Username, link.AvatarURL, link.UpdatedAt,
	)
	if err != nil {
		if isPQCode(err, pqForeignKeyViolation) {
			return ErrUserNotFound
		}
		return fmt.Errorf("failed to upsert provider link: %w", err)
	}
	return nil
}

func isPQCode(err error, code string) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == code
}

// compile-time interface check
var _ UserDirectory = (*PostgresUserRepo)(nil)
