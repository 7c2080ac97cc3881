package middleware

import (
	"net/http"
	"time"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "sid"

// CookieConfig はセッションCookieの属性設定を保持する。
type CookieConfig struct {
	Secure bool
	Domain string
}

// SetSessionCookie はセッションCookieを設定する。
// 有効期限はセッションのExpiresAtに揃える。
func SetSessionCookie(w http.ResponseWriter, cfg CookieConfig, sessionID string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie はセッションCookieを削除する。
func ClearSessionCookie(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   cfg.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// SessionIDFromRequest はリクエストのセッションCookieの値を返す。
func SessionIDFromRequest(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	return cookie.Value, true
}
