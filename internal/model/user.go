// Package model はドメインモデルを定義する。
package model

import "time"

// ProviderName は外部IdPの識別子を表す。
type ProviderName string

const (
	ProviderGitHub  ProviderName = "github"
	ProviderGoogle  ProviderName = "google"
	ProviderDiscord ProviderName = "discord"
)

// ParseProviderName は文字列を既知のProviderNameに変換する。
// 未知の値の場合はfalseを返す。
func ParseProviderName(s string) (ProviderName, bool) {
	switch ProviderName(s) {
	case ProviderGitHub, ProviderGoogle, ProviderDiscord:
		return ProviderName(s), true
	default:
		return "", false
	}
}

// User はサービス利用ユーザーを表す。
// Emailは正規化（小文字化）済みで一意。IDは初回作成時に1度だけ採番される。
type User struct {
	ID        string                        `json:"id"`
	Username  string                        `json:"username"`
	Email     string                        `json:"email"`
	AvatarURL string                        `json:"avatarUrl,omitempty"`
	Providers map[ProviderName]ProviderLink `json:"providers"`
	CreatedAt time.Time                     `json:"createdAt"`
	UpdatedAt time.Time                     `json:"updatedAt"`
}

// ProviderLink はユーザーと外部IdPアカウントの紐付け情報を表す。
// ログインの度に最新のプロフィールで上書きされる。
type ProviderLink struct {
	ProviderUserID string    `json:"id"`
	Username       string    `json:"username"`
	AvatarURL      string    `json:"avatarUrl,omitempty"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// HasProvider は指定IdPとの紐付けが存在するかを返す。
func (u *User) HasProvider(p ProviderName) bool {
	_, ok := u.Providers[p]
	return ok
}

// ProviderProfile はIdPから取得した正規化済みプロフィール。永続化はしない。
type ProviderProfile struct {
	Provider       ProviderName
	ProviderUserID string
	Email          string
	EmailVerified  bool
	DisplayName    string
	AvatarURL      string
}

// Link はプロフィールからProviderLinkを組み立てる。
func (p *ProviderProfile) Link(now time.Time) ProviderLink {
	return ProviderLink{
		ProviderUserID: p.ProviderUserID,
		Username:       p.DisplayName,
		AvatarURL:      p.AvatarURL,
		UpdatedAt:      now,
	}
}
