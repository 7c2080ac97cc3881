package security

import (
	"net/url"
	"strings"
)

// SafeRedirectTarget はログイン後のリダイレクト先として同一オリジンのパスのみを許可する。
// スキーム付きURL、"//host" 形式、バックスラッシュや制御文字を含む値はfallbackに置き換える。
func SafeRedirectTarget(raw, fallback string) string {
	if raw == "" {
		return fallback
	}
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") {
		return fallback
	}
	if strings.ContainsAny(raw, "\\\r\n\t") {
		return fallback
	}
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return fallback
		}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return raw
}
