package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadInDir(t *testing.T, dir string) (*Config, error) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return LoadConfig()
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadInDir(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
	assert.Equal(t, "vanguard", cfg.MongoDB.Database)
	assert.True(t, cfg.MongoDB.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 60*time.Second, cfg.Correlation.Window)
	assert.Equal(t, 256, cfg.Correlation.LockStripes)
	assert.Equal(t, 100*time.Millisecond, cfg.Detection.PatternTimeout)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, filepath.Join("data", "vanguard.db"), filepath.Clean(cfg.SQLite.Path))
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
mongodb:
  database: vanguard_test
  enabled: false
correlation:
  window: 2m
server:
  port: 9091
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	cfg, err := loadInDir(t, dir)
	require.NoError(t, err)

	assert.Equal(t, "vanguard_test", cfg.MongoDB.Database)
	assert.False(t, cfg.MongoDB.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Correlation.Window)
	assert.Equal(t, 9091, cfg.Server.Port)
	// Untouched keys keep their defaults.
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoDB.URI)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("VANGUARD_MONGODB_DATABASE", "vanguard_env")
	t.Setenv("VANGUARD_SERVER_PORT", "9999")

	cfg, err := loadInDir(t, t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "vanguard_env", cfg.MongoDB.Database)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
correlation:
  window: -5s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), content, 0o644))

	_, err := loadInDir(t, dir)
	assert.ErrorContains(t, err, "correlation.window")
}

func TestLoadConfig_SQLitePathDerivedFromDataDir(t *testing.T) {
	t.Setenv("VANGUARD_DATA_DIR", "/var/lib/vanguard")

	cfg, err := loadInDir(t, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/lib/vanguard", "vanguard.db"), cfg.SQLite.Path)
}
