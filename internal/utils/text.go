package utils

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// cast 正文只保留纯文本
var strictPolicy = bluemonday.StrictPolicy()

// SanitizeCastText strips any markup from inbound cast text and returns plain text.
func SanitizeCastText(s string) string {
	if s == "" {
		return ""
	}
	// StrictPolicy 会转义 & < > 等字符，存储时还原为原始文本
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}
