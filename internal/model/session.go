package model

import "time"

// Session はセッションストアに保存されるログインセッションを表す。
// セッションIDはキー側に持つため構造体には含めない。
type Session struct {
	UserID    string    `json:"userId"`
	UserAgent string    `json:"userAgent"`
	IPAddress string    `json:"ipAddress"`
	Device    string    `json:"device,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired は指定時刻時点でセッションが期限切れかを返す。
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// OAuthState はOAuth開始時に発行するstateトークンに紐づく情報。
// 1度だけ引き換え可能で、引き換え後は削除される。
type OAuthState struct {
	Token      string       `json:"-"`
	Provider   ProviderName `json:"provider"`
	RedirectTo string       `json:"redirectTo"`
}
