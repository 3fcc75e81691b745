package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 100, cfg.Worker.BatchSize)
	assert.Equal(t, 5*time.Minute, cfg.Worker.Interval)
	assert.Equal(t, 3, cfg.Worker.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Worker.RetryDelay)
	assert.Equal(t, 50, cfg.Worker.CastLimit)
	assert.Equal(t, 5*time.Minute, cfg.AuthSessionTTL)
	assert.Equal(t, "allow", cfg.ShortenerPolicy)
	assert.Equal(t, DefaultSessionSecret, cfg.SessionSecret)
	assert.Equal(t, 7*24*time.Hour, cfg.SessionMaxAge)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WORKER_BATCH_SIZE", "25")
	t.Setenv("WORKER_INTERVAL", "90s")
	t.Setenv("NEYNAR_BASE_URL", "https://hub.example.com/")
	t.Setenv("WORKER_AUTOSTART", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 25, cfg.Worker.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Worker.Interval)
	assert.Equal(t, "https://hub.example.com", cfg.NeynarBaseURL)
	assert.True(t, cfg.Worker.AutoStart)
}
