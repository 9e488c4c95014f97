package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Worker.World)
	assert.Equal(t, 15*time.Second, cfg.Worker.PollInterval.Std())
	assert.True(t, cfg.Worker.PinToSystemDay)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
database:
  url: postgres://db:5432/world?sslmode=disable
worker:
  world: limbo
  poll_interval: 5s
  pin_to_system_day: false
logging:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://db:5432/world?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, "limbo", cfg.Worker.World)
	assert.Equal(t, 5*time.Second, cfg.Worker.PollInterval.Std())
	assert.False(t, cfg.Worker.PinToSystemDay)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://env:5432/world")
	t.Setenv("WORLD_NAME", "env-world")
	t.Setenv("WORLD_POLL_INTERVAL", "1m")

	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://env:5432/world", cfg.Database.URL)
	assert.Equal(t, "env-world", cfg.Worker.World)
	assert.Equal(t, time.Minute, cfg.Worker.PollInterval.Std())
}

func TestInvalidPollIntervalRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("worker:\n  poll_interval: -1s\n"), 0o644))

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}
