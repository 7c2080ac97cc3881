// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ProfileSanitizer はIdPから取得した表示名やアバターURLを保存前に無害化する。
// 表示名はbluemondayのStrictPolicyで全タグを除去したプレーンテキストにする。
package security

import (
	"html"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxDisplayNameRunes は表示名の最大文字数。
const maxDisplayNameRunes = 100

// ProfileSanitizer は外部プロフィール値のサニタイズを行う。
// bluemondayのポリシーはスレッドセーフなので共有して使用できる。
type ProfileSanitizer struct {
	policy *bluemonday.Policy
}

// NewProfileSanitizer はProfileSanitizerを生成する。
func NewProfileSanitizer() *ProfileSanitizer {
	return &ProfileSanitizer{policy: bluemonday.StrictPolicy()}
}

// DisplayName はHTMLタグを除去し、前後の空白を落として最大文字数で切り詰める。
func (s *ProfileSanitizer) DisplayName(raw string) string {
	// StrictPolicyはエンティティをエスケープして返すため、プレーンテキストに戻す
	clean := html.UnescapeString(s.policy.Sanitize(raw))
	clean = strings.TrimSpace(clean)

	if utf8.RuneCountInString(clean) > maxDisplayNameRunes {
		clean = string([]rune(clean)[:maxDisplayNameRunes])
	}
	return clean
}

// AvatarURL はhttpsの絶対URLのみを許可する。それ以外は空文字列を返す。
func (s *ProfileSanitizer) AvatarURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" || u.User != nil {
		return ""
	}
	return u.String()
}
