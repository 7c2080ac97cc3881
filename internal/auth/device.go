package auth

import (
	"fmt"

	"github.com/mssola/useragent"
)

// DeviceLabel はUser-Agentから "Browser on OS" 形式の表示用ラベルを生成する。
func DeviceLabel(userAgent string) string {
	if userAgent == "" {
		return "Unknown device"
	}

	ua := useragent.New(userAgent)
	browser, _ := ua.Browser()
	os := ua.OS()

	switch {
	case browser == "" && os == "":
		return "Unknown device"
	case os == "":
		return browser
	case browser == "":
		return os
	default:
		return fmt.Sprintf("%s on %s", browser, os)
	}
}
