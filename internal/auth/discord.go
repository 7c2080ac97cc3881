package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/authgate/internal/model"
)

// Discordのデフォルトエンドポイント
const (
	defaultDiscordAuthURL  = "https://discord.com/api/oauth2/authorize"
	defaultDiscordTokenURL = "https://discord.com/api/oauth2/token"
	defaultDiscordUserURL  = "https://discord.com/api/users/@me"
	defaultDiscordCDNURL   = "https://cdn.discordapp.com"
)

// DiscordConfig はDiscord OAuthの設定。URLはテスト用に上書き可能。
type DiscordConfig struct {
	ClientCredentials
	AuthURL    string
	TokenURL   string
	UserURL    string
	CDNURL     string
	HTTPClient *http.Client
}

// DiscordProvider はDiscord用のProvider実装。
// アバターはハッシュで返るため、CDNのURLに展開する。
type DiscordProvider struct {
	oauthClient
	userURL string
	cdnURL  string
}

// NewDiscordProvider はDiscordProviderを生成する。
func NewDiscordProvider(cfg DiscordConfig) *DiscordProvider {
	return &DiscordProvider{
		oauthClient: newOAuthClient(model.ProviderDiscord, cfg.ClientCredentials,
			orDefault(cfg.AuthURL, defaultDiscordAuthURL),
			orDefault(cfg.TokenURL, defaultDiscordTokenURL),
			[]string{"identify", "email"},
			cfg.HTTPClient,
		),
		userURL: orDefault(cfg.UserURL, defaultDiscordUserURL),
		cdnURL:  strings.TrimRight(orDefault(cfg.CDNURL, defaultDiscordCDNURL), "/"),
	}
}

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Avatar     string `json:"avatar"`
	Email      string `json:"email"`
	Verified   bool   `json:"verified"`
}

// displayName は表示名を返す。global_nameが未設定の場合はusername。
func (u *discordUser) displayName() string {
	if name := strings.TrimSpace(u.GlobalName); name != "" {
		return name
	}
	return u.Username
}

// FetchProfile はDiscordのユーザー情報を取得する。
func (p *DiscordProvider) FetchProfile(ctx context.Context, accessToken string) (*model.ProviderProfile, error) {
	var user discordUser
	if err := p.getJSON(ctx, p.userURL, accessToken, &user); err != nil {
		return nil, err
	}

	if user.ID == "" {
		return nil, fmt.Errorf("%w: discord: missing user id", ErrProviderProfile)
	}
	if user.Email == "" || !user.Verified {
		return nil, fmt.Errorf("%w: discord: email missing or unverified", ErrProviderProfile)
	}

	return &model.ProviderProfile{
		Provider:       model.ProviderDiscord,
		ProviderUserID: user.ID,
		Email:          user.Email,
		EmailVerified:  user.Verified,
		DisplayName:    user.displayName(),
		AvatarURL:      p.avatarURL(user.ID, user.Avatar),
	}, nil
}

// avatarURL はアバターハッシュをCDNのURLに展開する。ハッシュが空の場合は空文字列。
func (p *DiscordProvider) avatarURL(userID, hash string) string {
	if hash == "" {
		return ""
	}
	return fmt.Sprintf("%s/avatars/%s/%s.png", p.cdnURL, userID, hash)
}

var _ Provider = (*DiscordProvider)(nil)
