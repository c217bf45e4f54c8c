package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowrooms/server/internal/models"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test")
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, models.DefaultSoftCap, cfg.SoftCap)
	assert.Equal(t, models.DefaultHardCap, cfg.HardCap)
	assert.Equal(t, 30*time.Second, cfg.PresenceTimeout)
	assert.Equal(t, 2*time.Second, cfg.PresencePoll)
	assert.Equal(t, 24*time.Hour, cfg.MessageTTL)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CONFIG_ENV", "staging")
	yaml := "mode: dev\nport: 9090\nsoft_cap: 4\nhard_cap: 6\npresence_timeout: 45s\ndatabase_driver: sqlite\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.staging.yaml"), []byte(yaml), 0o600))
	t.Setenv("HARD_CAP", "9")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, cfg.Dev())
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 4, cfg.SoftCap)
	assert.Equal(t, 9, cfg.HardCap)
	assert.Equal(t, 45*time.Second, cfg.PresenceTimeout)
	assert.Equal(t, "sqlite", cfg.DatabaseDriver)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("SOFT_CAP", "20")
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("CONFIG_ENV", "test")
	t.Setenv("DATABASE_DRIVER", "mysql")
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}
