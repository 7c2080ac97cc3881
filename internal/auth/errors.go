package auth

import "errors"

// 認証フローのエラー分類。
// コールバック処理中のエラーはすべて同一のサインイン失敗ページへのリダイレクトとして扱い、
// 詳細はサーバーログにのみ記録する。
var (
	// ErrInvalidState はstateトークンが未発行・期限切れ・使用済みであることを示す。
	ErrInvalidState = errors.New("auth: invalid or expired state")
	// ErrProviderExchange はトークンエンドポイントが失敗応答またはerrorペイロードを返したことを示す。
	ErrProviderExchange = errors.New("auth: provider code exchange failed")
	// ErrProviderProfile はプロフィール取得の失敗、または検証済みメールなど必須項目の欠落を示す。
	ErrProviderProfile = errors.New("auth: provider profile unavailable")
	// ErrSessionStore はセッションストアへの書き込み失敗を示す。
	ErrSessionStore = errors.New("auth: session store failure")
	// ErrUserDirectory はユーザーディレクトリの読み書き失敗を示す。
	ErrUserDirectory = errors.New("auth: user directory failure")
	// ErrInvalidSession はCookieのセッションが存在しない・期限切れ・孤立していることを示す。
	ErrInvalidSession = errors.New("auth: invalid session")
	// ErrUnknownProvider は未対応または無効化されたIdPが指定されたことを示す。
	ErrUnknownProvider = errors.New("auth: unknown provider")
)

// FailureReason はエラーをメトリクス・ログ用の短いラベルに変換する。
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrUnknownProvider):
		return "unknown_provider"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrProviderExchange):
		return "exchange_failed"
	case errors.Is(err, ErrProviderProfile):
		return "profile_failed"
	case errors.Is(err, ErrUserDirectory):
		return "directory_failed"
	case errors.Is(err, ErrSessionStore):
		return "store_failed"
	default:
		return "internal_error"
	}
}
