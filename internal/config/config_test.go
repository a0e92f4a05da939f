package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"LedgerStats/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// ============================================================================
// Test: Load
// ============================================================================

func TestLoad_DefaultsAreValid(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, 10*time.Millisecond, cfg.Persist.FlushTimeout)
	assert.Equal(t, "@every 5m", cfg.Checkpoint.Schedule)
	assert.Equal(t, 30*time.Second, cfg.Feed.AckWait)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
feed:
  url: nats://feed:4222
  durable: stats-a
store:
  driver: postgres
  dsn: postgres://stats@db/stats
persist:
  batch_size: 200
  flush_timeout: 50ms
engine:
  allow_gaps: true
  workers: 2
`)
	t.Setenv("STATS_STORE_DSN", "postgres://override@db/stats")
	t.Setenv("STATS_LOGGING_LEVEL", "debug")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "nats://feed:4222", cfg.Feed.URL)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://override@db/stats", cfg.Store.DSN)
	assert.Equal(t, 200, cfg.Persist.BatchSize)
	assert.Equal(t, 50*time.Millisecond, cfg.Persist.FlushTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)

	core := cfg.CoreConfig()
	assert.True(t, core.AllowGaps)
	assert.Equal(t, 2, core.Aggregate.Workers)
	assert.Equal(t, 512, core.Aggregate.ParallelThreshold)

	sub := cfg.SubscriberConfig()
	assert.Equal(t, "stats-a", sub.Durable)
	assert.Equal(t, -1, sub.MaxDeliver)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

// ============================================================================
// Test: Validate
// ============================================================================

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Store.Driver = "mysql"
	cfg.Persist.BatchSize = 0
	cfg.Checkpoint.Keep = 0
	cfg.Logging.Level = "loud"

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"store.driver", "persist.batch_size", "checkpoint.keep", "logging.level"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_FeedSettingsIgnoredWhenDisabled(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.Feed.Enabled = false
	cfg.Feed.URL = ""
	assert.NoError(t, cfg.Validate())

	cfg.Feed.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "feed.url")
}
