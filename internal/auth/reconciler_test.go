package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/authgate/internal/model"
	"github.com/hitoshi/authgate/internal/repository"
)

func githubProfile() *model.ProviderProfile {
	return &model.ProviderProfile{
		Provider:       model.ProviderGitHub,
		ProviderUserID: "583231",
		Email:          "A@X.com",
		EmailVerified:  true,
		DisplayName:    "octocat",
		AvatarURL:      "https://avatars.githubusercontent.com/u/583231",
	}
}

func TestReconciler_Resolve_CreatesUser(t *testing.T) {
	users := repository.NewMemoryUserRepo()
	r := NewReconciler(users, nil)

	user, err := r.Resolve(context.Background(), githubProfile())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected generated user ID")
	}
	if user.Email != "a@x.com" {
		t.Errorf("Email = %q, want normalized %q", user.Email, "a@x.com")
	}
	if user.Username != "octocat" {
		t.Errorf("Username = %q, want %q", user.Username, "octocat")
	}
	link, ok := user.Providers[model.ProviderGitHub]
	if !ok || link.ProviderUserID != "583231" {
		t.Errorf("github link = %+v, ok=%v", link, ok)
	}

	stored, _ := users.FindByEmail(context.Background(), "a@x.com")
	if stored == nil || stored.ID != user.ID {
		t.Errorf("stored user = %+v", stored)
	}
}

func TestReconciler_Resolve_Idempotent(t *testing.T) {
	users := repository.NewMemoryUserRepo()
	r := NewReconciler(users, nil)
	ctx := context.Background()

	first, err := r.Resolve(ctx, githubProfile())
	if err != nil {
		t.Fatalf("first Resolve returned error: %v", err)
	}
	second, err := r.Resolve(ctx, githubProfile())
	if err != nil {
		t.Fatalf("second Resolve returned error: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("user IDs differ: %q vs %q", first.ID, second.ID)
	}
	if len(second.Providers) != 1 {
		t.Errorf("len(Providers) = %d, want 1", len(second.Providers))
	}
}

func TestReconciler_Resolve_LinksAcrossProviders(t *testing.T) {
	users := repository.NewMemoryUserRepo()
	r := NewReconciler(users, nil)
	ctx := context.Background()

	gh, err := r.Resolve(ctx, githubProfile())
	if err != nil {
		t.Fatalf("Resolve(github) returned error: %v", err)
	}

	discord := &model.ProviderProfile{
		Provider:       model.ProviderDiscord,
		ProviderUserID: "80351110224678912",
		Email:          "a@x.com",
		EmailVerified:  true,
		DisplayName:    "nelly",
	}
	dc, err := r.Resolve(ctx, discord)
	if err != nil {
		t.Fatalf("Resolve(discord) returned error: %v", err)
	}

	if gh.ID != dc.ID {
		t.Errorf("user IDs differ: %q vs %q", gh.ID, dc.ID)
	}

	stored, _ := users.FindByID(ctx, gh.ID)
	if !stored.HasProvider(model.ProviderGitHub) || !stored.HasProvider(model.ProviderDiscord) {
		t.Errorf("providers = %v, want github and discord", stored.Providers)
	}
	// 既存ユーザーのトップレベル項目は変更しない
	if stored.Username != "octocat" {
		t.Errorf("Username = %q, want %q", stored.Username, "octocat")
	}
}

func TestReconciler_Resolve_UpdatesExistingLink(t *testing.T) {
	users := repository.NewMemoryUserRepo()
	r := NewReconciler(users, nil)
	ctx := context.Background()

	if _, err := r.Resolve(ctx, githubProfile()); err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	renamed := githubProfile()
	renamed.DisplayName = "octocat-renamed"
	user, err := r.Resolve(ctx, renamed)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	stored, _ := users.FindByID(ctx, user.ID)
	if got := stored.Providers[model.ProviderGitHub].Username; got != "octocat-renamed" {
		t.Errorf("link username = %q, want %q", got, "octocat-renamed")
	}
}

func TestReconciler_Resolve_RequiresVerifiedEmail(t *testing.T) {
	r := NewReconciler(repository.NewMemoryUserRepo(), nil)

	unverified := githubProfile()
	unverified.EmailVerified = false
	if _, err := r.Resolve(context.Background(), unverified); !errors.Is(err, ErrProviderProfile) {
		t.Errorf("unverified error = %v, want ErrProviderProfile", err)
	}

	blank := githubProfile()
	blank.Email = "  "
	if _, err := r.Resolve(context.Background(), blank); !errors.Is(err, ErrProviderProfile) {
		t.Errorf("blank email error = %v, want ErrProviderProfile", err)
	}
}

func TestReconciler_Resolve_SanitizesProfileFields(t *testing.T) {
	r := NewReconciler(repository.NewMemoryUserRepo(), nil)

	p := githubProfile()
	p.DisplayName = `<img src=x onerror=alert(1)>eve`
	p.AvatarURL = "javascript:alert(1)"

	user, err := r.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if user.Username != "eve" {
		t.Errorf("Username = %q, want %q", user.Username, "eve")
	}
	if user.AvatarURL != "" {
		t.Errorf("AvatarURL = %q, want empty", user.AvatarURL)
	}
	link := user.Providers[model.ProviderGitHub]
	if link.Username != "eve" || link.AvatarURL != "" {
		t.Errorf("github link = %+v, want sanitized fields", link)
	}
	// 呼び出し元のプロフィールは書き換えない
	if p.DisplayName != `<img src=x onerror=alert(1)>eve` {
		t.Errorf("profile DisplayName mutated: %q", p.DisplayName)
	}
}

// 同時ログインで作成が競合した場合、既存ユーザーへの紐付けに切り替わることを検証
func TestReconciler_Resolve_DuplicateOnCreateFallsBackToLink(t *testing.T) {
	existing := &model.User{ID: "u-existing", Email: "a@x.com", Providers: map[model.ProviderName]model.ProviderLink{}}
	findCalls := 0
	var linkedUser string

	dir := &mockDirectory{
		findByEmailFn: func(context.Context, string) (*model.User, error) {
			findCalls++
			if findCalls == 1 {
				return nil, nil
			}
			return existing, nil
		},
		createFn: func(context.Context, *model.User) error {
			return repository.ErrDuplicateEmail
		},
		updateProviderLinkFn: func(_ context.Context, userID string, _ model.ProviderName, _ model.ProviderLink) error {
			linkedUser = userID
			return nil
		},
	}

	user, err := NewReconciler(dir, nil).Resolve(context.Background(), githubProfile())
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if user.ID != "u-existing" || linkedUser != "u-existing" {
		t.Errorf("user.ID = %q, linked = %q, want u-existing", user.ID, linkedUser)
	}
}

func TestReconciler_Resolve_DirectoryError(t *testing.T) {
	dir := &mockDirectory{
		findByEmailFn: func(context.Context, string) (*model.User, error) {
			return nil, errors.New("connection reset")
		},
	}

	_, err := NewReconciler(dir, nil).Resolve(context.Background(), githubProfile())
	if !errors.Is(err, ErrUserDirectory) {
		t.Fatalf("error = %v, want ErrUserDirectory", err)
	}
}
