package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, time.Hour, cfg.Refresh.Interval)
	assert.Equal(t, "file", cfg.Storage.Registry)
	assert.Equal(t, filepath.Join("data", "aliases"), cfg.Storage.AliasesDir)
	assert.Equal(t, filepath.Join("data", "versions"), cfg.Storage.VersionsDir)
	assert.Equal(t, ".code-indexer/index", cfg.Layout.Semantic)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
storage:
  dataDir: /srv/index
refresh:
  interval: 5m
  scipTimeout: 90s
  indexCommand: ["sh", "-c", "true"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Refresh.Interval)
	assert.Equal(t, 90*time.Second, cfg.Refresh.ScipTimeout)
	assert.Equal(t, []string{"sh", "-c", "true"}, cfg.Refresh.IndexCommand)
	assert.Equal(t, "/srv/index/aliases", cfg.Storage.AliasesDir)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CIR_REFRESH_INTERVAL", "15s")
	t.Setenv("CIR_REDIS_ADDR", "cache:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Refresh.Interval)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6379", cfg.Redis.Addr)
}

func TestLoad_AdminSettings(t *testing.T) {
	t.Setenv("CIR_ADMIN_TOKEN", "from-env")
	path := writeConfig(t, t.TempDir(), `
server:
  refreshRateLimit: 2
notify:
  retryAttempts: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.AdminToken)
	assert.Equal(t, 2, cfg.Server.RefreshRateLimit)
	assert.Equal(t, 5, cfg.Notify.RetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.Notify.Timeout, "unset fields keep defaults")
}

func TestLoad_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(writeConfig(t, dir, "refresh:\n  interval: 0s\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, dir, "storage:\n  registry: sqlite\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, dir, "refresh:\n  materializeExclude: [\"[unclosed\"]\n"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestLive_ReloadSwapsValues(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "refresh:\n  interval: 10m\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	live := NewLive(path, cfg)
	assert.Equal(t, 10*time.Minute, live.RefreshInterval())

	writeConfig(t, dir, "refresh:\n  interval: 2m\n  scipTimeout: 1m\n")
	require.NoError(t, live.Reload())
	assert.Equal(t, 2*time.Minute, live.RefreshInterval())
	assert.Equal(t, time.Minute, live.ScipTimeout())
}

func TestLive_BadReloadKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "refresh:\n  interval: 10m\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	live := NewLive(path, cfg)

	writeConfig(t, dir, "refresh: [not a map")
	assert.Error(t, live.Reload())
	assert.Equal(t, 10*time.Minute, live.RefreshInterval())
}
