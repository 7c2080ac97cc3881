package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// randReader はトークン生成に使う乱数源。テストでのみ差し替える。
var randReader io.Reader = rand.Reader

// generateToken は暗号学的に安全なランダムトークンを生成する。
// 32バイトのランダム値を16進数文字列（64文字）に変換する。
func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := io.ReadFull(randReader, b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}
