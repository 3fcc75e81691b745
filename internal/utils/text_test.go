package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeCastText(t *testing.T) {
	assert.Equal(t, "", SanitizeCastText(""))
	assert.Equal(t, "gm farcaster", SanitizeCastText("gm farcaster"))
	assert.Equal(t, "hello world", SanitizeCastText("<b>hello</b> <script>alert(1)</script>world"))
	assert.Equal(t, "tom & jerry", SanitizeCastText("tom & jerry"))
	assert.Equal(t, "visit https://example.com/?a=1&b=2", SanitizeCastText(`visit <a href="x">https://example.com/?a=1&b=2</a>`))
}
