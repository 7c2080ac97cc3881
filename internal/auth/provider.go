package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/authgate/internal/model"
)

// maxProfileBodySize はプロフィール応答として読み込む最大バイト数。
const maxProfileBodySize = 1 << 20

// Provider はIdPごとの認可URL生成・コード交換・プロフィール取得を抽象化する。
type Provider interface {
	// Name はIdP名を返す。
	Name() model.ProviderName
	// AuthCodeURL はstateを埋め込んだ認可画面のURLを返す。
	AuthCodeURL(state string) string
	// ExchangeCode は認可コードをアクセストークンに交換する。
	ExchangeCode(ctx context.Context, code string) (string, error)
	// FetchProfile はアクセストークンで正規化済みプロフィールを取得する。
	FetchProfile(ctx context.Context, accessToken string) (*model.ProviderProfile, error)
}

// ClientCredentials はIdPに登録したOAuthクライアントの情報。
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewProvider はIdP名に対応するProviderをデフォルトのエンドポイントで生成する。
func NewProvider(name model.ProviderName, creds ClientCredentials, httpClient *http.Client) (Provider, error) {
	switch name {
	case model.ProviderGitHub:
		return NewGitHubProvider(GitHubConfig{ClientCredentials: creds, HTTPClient: httpClient}), nil
	case model.ProviderGoogle:
		return NewGoogleProvider(GoogleConfig{ClientCredentials: creds, HTTPClient: httpClient}), nil
	case model.ProviderDiscord:
		return NewDiscordProvider(DiscordConfig{ClientCredentials: creds, HTTPClient: httpClient}), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
}

// oauthClient は各IdPアダプタが共有するOAuth2クライアント処理。
type oauthClient struct {
	name       model.ProviderName
	conf       *oauth2.Config
	httpClient *http.Client
}

func newOAuthClient(name model.ProviderName, creds ClientCredentials, authURL, tokenURL string, scopes []string, httpClient *http.Client) oauthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return oauthClient{
		name: name,
		conf: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
	}
}

// Name はIdP名を返す。
func (c *oauthClient) Name() model.ProviderName {
	return c.name
}

// AuthCodeURL はresponse_type=codeの認可URLを返す。
func (c *oauthClient) AuthCodeURL(state string) string {
	return c.conf.AuthCodeURL(state)
}

// ExchangeCode はトークンエンドポイントにフォームPOSTし、アクセストークンを返す。
// 非2xx応答、errorフィールド、access_tokenの欠落はErrProviderExchangeとする。
func (c *oauthClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", fmt.Errorf("%w: %s: empty authorization code", ErrProviderExchange, c.name)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.conf.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrProviderExchange, c.name, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: %s: empty access token", ErrProviderExchange, c.name)
	}

	return tok.AccessToken, nil
}

// getJSON はBearerトークン付きでGETし、JSON応答をdstにデコードする。
func (c *oauthClient) getJSON(ctx context.Context, url, accessToken string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: failed to create request: %v", ErrProviderProfile, c.name, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "authgate")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: request failed: %v", ErrProviderProfile, c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s: %s returned status %d: %s", ErrProviderProfile, c.name, url, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBodySize)).Decode(dst); err != nil {
		return fmt.Errorf("%w: %s: failed to decode response: %v", ErrProviderProfile, c.name, err)
	}

	return nil
}

// Registry は有効化されたIdPアダプタを名前で引けるようにする。
type Registry struct {
	providers map[model.ProviderName]Provider
}

// NewRegistry はRegistryを生成する。
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[model.ProviderName]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Lookup は名前に対応するProviderを返す。
// 未知または無効化されたIdPの場合はErrUnknownProviderを返す。
func (r *Registry) Lookup(name string) (Provider, error) {
	pn, ok := model.ParseProviderName(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	p, ok := r.providers[pn]
	if !ok {
		return nil, fmt.Errorf("%w: %q is not enabled", ErrUnknownProvider, name)
	}
	return p, nil
}

// Names は有効化されたIdP名をソート済みで返す。
func (r *Registry) Names() []model.ProviderName {
	names := make([]model.ProviderName, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
