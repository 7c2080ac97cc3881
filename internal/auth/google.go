package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
)

// Googleのデフォルトエンドポイント
const (
	defaultGoogleAuthURL     = "https://accounts.google.com/o/oauth2/v2/auth"
	defaultGoogleTokenURL    = "https://oauth2.googleapis.com/token"
	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v1/userinfo"
)

// GoogleConfig はGoogle OAuthの設定。URLはテスト用に上書き可能。
type GoogleConfig struct {
	ClientCredentials
	AuthURL     string
	TokenURL    string
	UserInfoURL string
	HTTPClient  *http.Client
}

// GoogleProvider はGoogle用のProvider実装。
type GoogleProvider struct {
	oauthClient
	userInfoURL string
}

// NewGoogleProvider はGoogleProviderを生成する。
func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	return &GoogleProvider{
		oauthClient: newOAuthClient(model.ProviderGoogle, cfg.ClientCredentials,
			orDefault(cfg.AuthURL, defaultGoogleAuthURL),
			orDefault(cfg.TokenURL, defaultGoogleTokenURL),
			[]string{"profile", "email"},
			cfg.HTTPClient,
		),
		userInfoURL: orDefault(cfg.UserInfoURL, defaultGoogleUserInfoURL),
	}
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	VerifiedEmail bool   `json:"verified_email"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// FetchProfile はGoogleのuserinfoを取得する。
func (p *GoogleProvider) FetchProfile(ctx context.Context, accessToken string) (*model.ProviderProfile, error) {
	var info googleUserInfo
	if err := p.getJSON(ctx, p.userInfoURL, accessToken, &info); err != nil {
		return nil, err
	}

	if info.ID == "" {
		return nil, fmt.Errorf("%w: google: missing user id", ErrProviderProfile)
	}
	if info.Email == "" || !info.VerifiedEmail {
		return nil, fmt.Errorf("%w: google: email missing or unverified", ErrProviderProfile)
	}

	name := info.Name
	if name == "" {
		name, _, _ = strings.Cut(info.Email, "@")
	}

	return &model.ProviderProfile{
		Provider:       model.ProviderGoogle,
		ProviderUserID: info.ID,
		Email:          info.Email,
		EmailVerified:  info.VerifiedEmail,
		DisplayName:    name,
		AvatarURL:      info.Picture,
	}, nil
}

var _ Provider = (*GoogleProvider)(nil)
