package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiry(t *testing.T) {
	c, err := NewTTLCache[string](10)
	require.NoError(t, err)

	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("a", "alpha", time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, "alpha", v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.False(t, c.lruCache.Contains("a"), "expired entry is evicted on read")
}

func TestTTLCachePop(t *testing.T) {
	c, err := NewTTLCache[int](10)
	require.NoError(t, err)

	c.Set("n", 7, time.Minute)
	v, ok := c.Pop("n")
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = c.Pop("n")
	assert.False(t, ok)
}

func TestTTLCacheEvictsOldest(t *testing.T) {
	c, err := NewTTLCache[int](2)
	require.NoError(t, err)

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("c", 3, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}
