package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
	"github.com/hitoshi/authgate/internal/security"
)

// Reconciler はIdPのプロフィールをローカルユーザーに対応付ける。
// 同一の検証済みメールアドレスを持つプロフィールは、IdPが異なっても同じユーザーに紐付く。
type Reconciler struct {
	users     repository.UserDirectory
	sanitizer *security.ProfileSanitizer
	now       func() time.Time
	newID     func() string
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(users repository.UserDirectory, sanitizer *security.ProfileSanitizer) *Reconciler {
	if sanitizer == nil {
		sanitizer = security.NewProfileSanitizer()
	}
	return &Reconciler{
		users:     users,
		sanitizer: sanitizer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Resolve はプロフィールに対応するユーザーを返す。
// 存在しなければ作成し、存在すれば該当IdPの紐付けのみを更新する。
func (r *Reconciler) Resolve(ctx context.Context, profile *model.ProviderProfile) (*model.User, error) {
	// 1. 検証済みメールアドレスのみを紐付けの根拠とする
	if profile == nil || !profile.EmailVerified || strings.TrimSpace(profile.Email) == "" {
		return nil, fmt.Errorf("%w: verified email required for linking", ErrProviderProfile)
	}
	if profile.ProviderUserID == "" {
		return nil, fmt.Errorf("%w: missing provider user id", ErrProviderProfile)
	}

	email := normalizeEmail(profile.Email)
	now := r.now()
	clean := *profile
	clean.DisplayName = r.sanitizer.DisplayName(profile.DisplayName)
	clean.AvatarURL = r.sanitizer.AvatarURL(profile.AvatarURL)
	link := clean.Link(now)

	// 2. メールアドレスで既存ユーザーを検索
	user, err := r.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserDirectory, err)
	}

	// 3. 未登録の場合は新規作成
	if user == nil {
		user = &model.User{
			ID:        r.newID(),
			Username:  link.Username,
			Email:     email,
			AvatarURL: link.AvatarURL,
			Providers: map[model.ProviderName]model.ProviderLink{profile.Provider: link},
			CreatedAt: now,
			UpdatedAt: now,
		}

		err := r.users.Create(ctx, user)
		if err == nil {
			slog.Info("user created",
				slog.String("user_id", user.ID),
				slog.String("provider", string(profile.Provider)),
			)
			return user, nil
		}
		if !errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, fmt.Errorf("%w: %v", ErrUserDirectory, err)
		}

		// 同時ログインで先に作成された場合は、そのユーザーに紐付ける
		user, err = r.users.FindByEmail(ctx, email)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserDirectory, err)
		}
		if user == nil {
			return nil, fmt.Errorf("%w: user vanished after duplicate email", ErrUserDirectory)
		}
	}

	// 4. 既存ユーザーの該当IdP紐付けを更新
	if err := r.users.UpdateProviderLink(ctx, user.ID, profile.Provider, link); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserDirectory, err)
	}
	if user.Providers == nil {
		user.Providers = make(map[model.ProviderName]model.ProviderLink)
	}
	user.Providers[profile.Provider] = link
	user.UpdatedAt = now

	return user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
