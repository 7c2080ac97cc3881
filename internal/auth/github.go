package auth

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hitoshi/authgate/internal/model"
)

// GitHubのデフォルトエンドポイント
const (
	defaultGitHubAuthURL   = "https://github.com/login/oauth/authorize"
	defaultGitHubTokenURL  = "https://github.com/login/oauth/access_token"
	defaultGitHubUserURL   = "https://api.github.com/user"
	defaultGitHubEmailsURL = "https://api.github.com/user/emails"
)

// GitHubConfig はGitHub OAuthの設定。URLはテスト用に上書き可能。
type GitHubConfig struct {
	ClientCredentials
	AuthURL    string
	TokenURL   string
	UserURL    string
	EmailsURL  string
	HTTPClient *http.Client
}

// GitHubProvider はGitHub用のProvider実装。
// メールアドレスは /user/emails から primary かつ verified のものを選ぶ。
type GitHubProvider struct {
	oauthClient
	userURL   string
	emailsURL string
}

// NewGitHubProvider はGitHubProviderを生成する。
func NewGitHubProvider(cfg GitHubConfig) *GitHubProvider {
	return &GitHubProvider{
		oauthClient: newOAuthClient(model.ProviderGitHub, cfg.ClientCredentials,
			orDefault(cfg.AuthURL, defaultGitHubAuthURL),
			orDefault(cfg.TokenURL, defaultGitHubTokenURL),
			[]string{"user", "user:email"},
			cfg.HTTPClient,
		),
		userURL:   orDefault(cfg.UserURL, defaultGitHubUserURL),
		emailsURL: orDefault(cfg.EmailsURL, defaultGitHubEmailsURL),
	}
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchProfile はGitHubのユーザー情報と検証済みプライマリメールを取得する。
func (p *GitHubProvider) FetchProfile(ctx context.Context, accessToken string) (*model.ProviderProfile, error) {
	// 1. ユーザー情報
	var user githubUser
	if err := p.getJSON(ctx, p.userURL, accessToken, &user); err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: github: missing user id", ErrProviderProfile)
	}

	// 2. メールアドレス一覧から primary && verified を選ぶ
	var emails []githubEmail
	if err := p.getJSON(ctx, p.emailsURL, accessToken, &emails); err != nil {
		return nil, err
	}

	var primary string
	for _, e := range emails {
		if e.Primary && e.Verified {
			primary = e.Email
			break
		}
	}
	if primary == "" {
		return nil, fmt.Errorf("%w: github: no verified primary email", ErrProviderProfile)
	}

	return &model.ProviderProfile{
		Provider:       model.ProviderGitHub,
		ProviderUserID: strconv.FormatInt(user.ID, 10),
		Email:          primary,
		EmailVerified:  true,
		DisplayName:    user.Login,
		AvatarURL:      user.AvatarURL,
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

var _ Provider = (*GitHubProvider)(nil)
