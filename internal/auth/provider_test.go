package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/authgate/internal/model"
)

var testCreds = ClientCredentials{
	ClientID:     "test-client-id",
	ClientSecret: "test-client-secret",
	RedirectURL:  "https://auth.example.com/auth/callback/github",
}

// newTokenServer はフォームパラメータを検証し、固定のアクセストークンを返すトークンエンドポイント。
func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token endpoint method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		want := map[string]string{
			"client_id":     "test-client-id",
			"client_secret": "test-client-secret",
			"code":          "ABC",
			"grant_type":    "authorization_code",
			"redirect_uri":  testCreds.RedirectURL,
		}
		for k, v := range want {
			if got := r.PostForm.Get(k); got != v {
				t.Errorf("form %s = %q, want %q", k, got, v)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "AT1",
			"token_type":   "bearer",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newJSONServer はBearerトークンを検証してbodyを返すプロフィールエンドポイント。
func newJSONServer(t *testing.T, body interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer AT1" {
			t.Errorf("Authorization = %q, want %q", got, "Bearer AT1")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAuthCodeURL_ContainsRequiredParams(t *testing.T) {
	tests := []struct {
		provider Provider
		host     string
		scope    string
	}{
		{NewGitHubProvider(GitHubConfig{ClientCredentials: testCreds}), "github.com", "user user:email"},
		{NewGoogleProvider(GoogleConfig{ClientCredentials: testCreds}), "accounts.google.com", "profile email"},
		{NewDiscordProvider(DiscordConfig{ClientCredentials: testCreds}), "discord.com", "identify email"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider.Name()), func(t *testing.T) {
			u, err := url.Parse(tt.provider.AuthCodeURL("test-state-value"))
			if err != nil {
				t.Fatalf("invalid URL: %v", err)
			}
			if u.Host != tt.host {
				t.Errorf("host = %q, want %q", u.Host, tt.host)
			}
			q := u.Query()
			if q.Get("client_id") != "test-client-id" {
				t.Errorf("client_id = %q", q.Get("client_id"))
			}
			if q.Get("redirect_uri") != testCreds.RedirectURL {
				t.Errorf("redirect_uri = %q", q.Get("redirect_uri"))
			}
			if q.Get("state") != "test-state-value" {
				t.Errorf("state = %q", q.Get("state"))
			}
			if q.Get("response_type") != "code" {
				t.Errorf("response_type = %q, want code", q.Get("response_type"))
			}
			if q.Get("scope") != tt.scope {
				t.Errorf("scope = %q, want %q", q.Get("scope"), tt.scope)
			}
		})
	}
}

func TestExchangeCode_Success(t *testing.T) {
	tokenSrv := newTokenServer(t)
	p := NewGoogleProvider(GoogleConfig{ClientCredentials: testCreds, TokenURL: tokenSrv.URL})

	token, err := p.ExchangeCode(context.Background(), "ABC")
	if err != nil {
		t.Fatalf("ExchangeCode returned error: %v", err)
	}
	if token != "AT1" {
		t.Errorf("token = %q, want %q", token, "AT1")
	}
}

func TestExchangeCode_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-2xx",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
			},
		},
		{
			name: "error payload with 200",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`))
			},
		},
		{
			name: "missing access token",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(`{"token_type":"bearer"}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			p := NewGitHubProvider(GitHubConfig{ClientCredentials: testCreds, TokenURL: srv.URL})
			_, err := p.ExchangeCode(context.Background(), "ABC")
			if !errors.Is(err, ErrProviderExchange) {
				t.Fatalf("error = %v, want ErrProviderExchange", err)
			}
		})
	}
}

func TestExchangeCode_EmptyCode(t *testing.T) {
	p := NewDiscordProvider(DiscordConfig{ClientCredentials: testCreds, TokenURL: "http://127.0.0.1:1"})

	if _, err := p.ExchangeCode(context.Background(), ""); !errors.Is(err, ErrProviderExchange) {
		t.Fatalf("error = %v, want ErrProviderExchange", err)
	}
}

func TestGitHubProvider_FetchProfile(t *testing.T) {
	userSrv := newJSONServer(t, map[string]interface{}{
		"id":         583231,
		"login":      "octocat",
		"avatar_url": "https://avatars.githubusercontent.com/u/583231?v=4",
	})
	emailsSrv := newJSONServer(t, []map[string]interface{}{
		{"email": "old@example.com", "primary": false, "verified": true},
		{"email": "unverified@example.com", "primary": true, "verified": false},
		{"email": "octocat@github.com", "primary": true, "verified": true},
	})

	p := NewGitHubProvider(GitHubConfig{ClientCredentials: testCreds, UserURL: userSrv.URL, EmailsURL: emailsSrv.URL})
	profile, err := p.FetchProfile(context.Background(), "AT1")
	if err != nil {
		t.Fatalf("FetchProfile returned error: %v", err)
	}

	want := &model.ProviderProfile{
		Provider:       model.ProviderGitHub,
		ProviderUserID: "583231",
		Email:          "octocat@github.com",
		EmailVerified:  true,
		DisplayName:    "octocat",
		AvatarURL:      "https://avatars.githubusercontent.com/u/583231?v=4",
	}
	if *profile != *want {
		t.Errorf("profile = %+v, want %+v", profile, want)
	}
}

func TestGitHubProvider_FetchProfile_NoVerifiedPrimaryEmail(t *testing.T) {
	userSrv := newJSONServer(t, map[string]interface{}{"id": 1, "login": "octocat"})
	emailsSrv := newJSONServer(t, []map[string]interface{}{
		{"email": "a@example.com", "primary": true, "verified": false},
		{"email": "b@example.com", "primary": false, "verified": true},
	})

	p := NewGitHubProvider(GitHubConfig{ClientCredentials: testCreds, UserURL: userSrv.URL, EmailsURL: emailsSrv.URL})
	if _, err := p.FetchProfile(context.Background(), "AT1"); !errors.Is(err, ErrProviderProfile) {
		t.Fatalf("error = %v, want ErrProviderProfile", err)
	}
}

func TestGoogleProvider_FetchProfile(t *testing.T) {
	srv := newJSONServer(t, map[string]interface{}{
		"id":             "1234567890",
		"email":          "user@gmail.com",
		"verified_email": true,
		"name":           "Google User",
		"picture":        "https://lh3.googleusercontent.com/a/photo.jpg",
	})

	p := NewGoogleProvider(GoogleConfig{ClientCredentials: testCreds, UserInfoURL: srv.URL})
	profile, err := p.FetchProfile(context.Background(), "AT1")
	if err != nil {
		t.Fatalf("FetchProfile returned error: %v", err)
	}
	if profile.ProviderUserID != "1234567890" {
		t.Errorf("ProviderUserID = %q", profile.ProviderUserID)
	}
	if profile.Email != "user@gmail.com" || !profile.EmailVerified {
		t.Errorf("Email = %q verified=%v", profile.Email, profile.EmailVerified)
	}
	if profile.DisplayName != "Google User" {
		t.Errorf("DisplayName = %q", profile.DisplayName)
	}
	if profile.AvatarURL != "https://lh3.googleusercontent.com/a/photo.jpg" {
		t.Errorf("AvatarURL = %q", profile.AvatarURL)
	}
}

func TestGoogleProvider_FetchProfile_UnverifiedEmail(t *testing.T) {
	srv := newJSONServer(t, map[string]interface{}{
		"id":             "1",
		"email":          "user@gmail.com",
		"verified_email": false,
	})

	p := NewGoogleProvider(GoogleConfig{ClientCredentials: testCreds, UserInfoURL: srv.URL})
	if _, err := p.FetchProfile(context.Background(), "AT1"); !errors.Is(err, ErrProviderProfile) {
		t.Fatalf("error = %v, want ErrProviderProfile", err)
	}
}

func TestGoogleProvider_FetchProfile_NameFallsBackToEmailLocalPart(t *testing.T) {
	srv := newJSONServer(t, map[string]interface{}{
		"id":             "1",
		"email":          "someone@gmail.com",
		"verified_email": true,
	})

	p := NewGoogleProvider(GoogleConfig{ClientCredentials: testCreds, UserInfoURL: srv.URL})
	profile, err := p.FetchProfile(context.Background(), "AT1")
	if err != nil {
		t.Fatalf("FetchProfile returned error: %v", err)
	}
	if profile.DisplayName != "someone" {
		t.Errorf("DisplayName = %q, want %q", profile.DisplayName, "someone")
	}
}

func TestDiscordProvider_FetchProfile_ExpandsAvatarHash(t *testing.T) {
	srv := newJSONServer(t, map[string]interface{}{
		"id":       "80351110224678912",
		"username": "nelly",
		"avatar":   "8342729096ea3675442027381ff50dfe",
		"email":    "nelly@discord.com",
		"verified": true,
	})

	p := NewDiscordProvider(DiscordConfig{ClientCredentials: testCreds, UserURL: srv.URL})
	profile, err := p.FetchProfile(context.Background(), "AT1")
	if err != nil {
		t.Fatalf("FetchProfile returned error: %v", err)
	}

	wantAvatar := "https://cdn.discordapp.com/avatars/80351110224678912/8342729096ea3675442027381ff50dfe.png"
	if profile.AvatarURL != wantAvatar {
		t.Errorf("AvatarURL = %q, want %q", profile.AvatarURL, wantAvatar)
	}
	if profile.DisplayName != "nelly" {
		t.Errorf("DisplayName = %q, want %q", profile.DisplayName, "nelly")
	}
}

func TestDiscordProvider_FetchProfile_PrefersGlobalName(t *testing.T) {
	tests := []struct {
		name       string
		globalName interface{}
		want       string
	}{
		{"global name set", "Nelly", "Nelly"},
		{"global name null", nil, "nelly"},
		{"global name blank", "  ", "nelly"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newJSONServer(t, map[string]interface{}{
				"id":          "1",
				"username":    "nelly",
				"global_name": tt.globalName,
				"email":       "nelly@discord.com",
				"verified":    true,
			})

			p := NewDiscordProvider(DiscordConfig{ClientCredentials: testCreds, UserURL: srv.URL})
			profile, err := p.FetchProfile(context.Background(), "AT1")
			if err != nil {
				t.Fatalf("FetchProfile returned error: %v", err)
			}
			if profile.DisplayName != tt.want {
				t.Errorf("DisplayName = %q, want %q", profile.DisplayName, tt.want)
			}
		})
	}
}

func TestDiscordProvider_FetchProfile_NullAvatar(t *testing.T) {
	srv := newJSONServer(t, map[string]interface{}{
		"id":       "1",
		"username": "nelly",
		"avatar":   nil,
		"email":    "nelly@discord.com",
		"verified": true,
	})

	p := NewDiscordProvider(DiscordConfig{ClientCredentials: testCreds, UserURL: srv.URL})
	profile, err := p.FetchProfile(context.Background(), "AT1")
	if err != nil {
		t.Fatalf("FetchProfile returned error: %v", err)
	}
	if profile.AvatarURL != "" {
		t.Errorf("AvatarURL = %q, want empty", profile.AvatarURL)
	}
}

func TestDiscordProvider_FetchProfile_UnverifiedEmail(t *testing.T) {
	srv := newJSONServer(t, map[string]interface{}{
		"id":       "1",
		"username": "nelly",
		"email":    "nelly@discord.com",
		"verified": false,
	})

	p := NewDiscordProvider(DiscordConfig{ClientCredentials: testCreds, UserURL: srv.URL})
	if _, err := p.FetchProfile(context.Background(), "AT1"); !errors.Is(err, ErrProviderProfile) {
		t.Fatalf("error = %v, want ErrProviderProfile", err)
	}
}

func TestFetchProfile_Non2xxAndMalformed(t *testing.T) {
	statusSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer statusSrv.Close()

	malformedSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	}))
	defer malformedSrv.Close()

	for _, u := range []string{statusSrv.URL, malformedSrv.URL} {
		p := NewGoogleProvider(GoogleConfig{ClientCredentials: testCreds, UserInfoURL: u})
		if _, err := p.FetchProfile(context.Background(), "AT1"); !errors.Is(err, ErrProviderProfile) {
			t.Errorf("error = %v, want ErrProviderProfile", err)
		}
	}
}

func TestFetchProfile_ContextCanceled(t *testing.T) {
	srv := newJSONServer(t, map[string]interface{}{"id": "1"})
	p := NewGoogleProvider(GoogleConfig{ClientCredentials: testCreds, UserInfoURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.FetchProfile(ctx, "AT1"); !errors.Is(err, ErrProviderProfile) {
		t.Fatalf("error = %v, want ErrProviderProfile", err)
	}
}

func TestNewProvider(t *testing.T) {
	for _, name := range []model.ProviderName{model.ProviderGitHub, model.ProviderGoogle, model.ProviderDiscord} {
		p, err := NewProvider(name, testCreds, nil)
		if err != nil {
			t.Fatalf("NewProvider(%s) returned error: %v", name, err)
		}
		if p.Name() != name {
			t.Errorf("Name() = %q, want %q", p.Name(), name)
		}
	}

	if _, err := NewProvider("gitlab", testCreds, nil); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("error = %v, want ErrUnknownProvider", err)
	}
}

func TestRegistry_Lookup(t *testing.T) {
	r := NewRegistry(
		NewGitHubProvider(GitHubConfig{ClientCredentials: testCreds}),
		NewDiscordProvider(DiscordConfig{ClientCredentials: testCreds}),
	)

	if p, err := r.Lookup("github"); err != nil || p.Name() != model.ProviderGitHub {
		t.Errorf("Lookup(github) = %v, %v", p, err)
	}
	// 既知だが無効化されたIdP
	if _, err := r.Lookup("google"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Lookup(google) error = %v, want ErrUnknownProvider", err)
	}
	if _, err := r.Lookup("myspace"); !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("Lookup(myspace) error = %v, want ErrUnknownProvider", err)
	}

	names := r.Names()
	if len(names) != 2 || names[0] != model.ProviderDiscord || names[1] != model.ProviderGitHub {
		t.Errorf("Names() = %v", names)
	}
}
