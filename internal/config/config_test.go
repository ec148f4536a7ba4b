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

	assert.Equal(t, "filestore", cfg.State.Backend)
	assert.Equal(t, "both", cfg.Sync.Mode)
	assert.Equal(t, "scheduler", cfg.Sync.TieWinner)
	assert.Equal(t, 90, cfg.Sync.HorizonDays)
	assert.Equal(t, 30*time.Second, cfg.Source.FetchTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Source.CacheTTL)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STATE_BACKEND", "sqlite")
	t.Setenv("SYNC_MODE", "cal-to-sched")
	t.Setenv("HORIZON_DAYS", "30")
	t.Setenv("ICS_FETCH_TIMEOUT", "5s")
	t.Setenv("LATITUDE", "40.5")
	t.Setenv("ICS_URL", "https://example.com/feed.ics")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.State.Backend)
	assert.Equal(t, "cal-to-sched", cfg.Sync.Mode)
	assert.Equal(t, 30, cfg.Sync.HorizonDays)
	assert.Equal(t, 5*time.Second, cfg.Source.FetchTimeout)
	assert.Equal(t, 40.5, cfg.Location.Latitude)
	assert.Equal(t, "https://example.com/feed.ics", cfg.Source.ICSURL)
}

func TestBadEnvFallsBackToDefaults(t *testing.T) {
	t.Setenv("HORIZON_DAYS", "not-a-number")
	t.Setenv("ICS_FETCH_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90, cfg.Sync.HorizonDays)
	assert.Equal(t, 30*time.Second, cfg.Source.FetchTimeout)
}
