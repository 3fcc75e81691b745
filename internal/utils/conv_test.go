package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntOrDefault(t *testing.T) {
	assert.Equal(t, 20, IntOrDefault("", 20, 1, 100))
	assert.Equal(t, 20, IntOrDefault("x", 20, 1, 100))
	assert.Equal(t, 1, IntOrDefault("-3", 20, 1, 100))
	assert.Equal(t, 100, IntOrDefault("500", 20, 1, 100))
	assert.Equal(t, 500, IntOrDefault("500", 20, 0, 0))
}

func TestParseUintPtr(t *testing.T) {
	assert.Nil(t, ParseUintPtr(""))
	assert.Nil(t, ParseUintPtr("0"))
	assert.Nil(t, ParseUintPtr("-1"))
	v := ParseUintPtr("7")
	require.NotNil(t, v)
	assert.Equal(t, uint(7), *v)
}
