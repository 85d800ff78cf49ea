package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, "signalrelay.db", cfg.Database.Path)
	assert.Equal(t, 2000, cfg.Watcher.PollIntervalMs)
	assert.Equal(t, 10, cfg.Watcher.ErrorThreshold)
	assert.Equal(t, 30000, cfg.Watcher.BackoffMs)
	assert.Equal(t, 300, cfg.Dispatch.DedupWindowSecs)
	assert.Equal(t, 10, cfg.Monitor.IntervalSecs)
	assert.Equal(t, 10, cfg.Monitor.MaxRetries)
	assert.Equal(t, 120, cfg.Sessions.StaleAfterMins)
	assert.Equal(t, 30, cfg.Retention.SignalMaxAgeDays)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.False(t, cfg.File.Enabled)
	assert.False(t, cfg.Remote.Enabled)
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
database:
  path: /var/lib/relay.db
file_watcher:
  enabled: true
  path: /srv/signals/signal.txt
remote_watcher:
  enabled: true
  url: https://signals.example.com/latest
  clear_url: https://signals.example.com/clear
  timeout_ms: 2500
watcher:
  poll_interval_ms: 500
  error_threshold: 5
  backoff_ms: 10000
dispatch:
  dedup_window_seconds: 60
monitor:
  interval_seconds: 3
  max_retries: 4
sessions:
  stale_after_minutes: 45
retention:
  signal_max_age_days: 7
server:
  port: "9090"
  jwt_secret: test-secret
`))
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/relay.db", cfg.Database.Path)
	assert.True(t, cfg.File.Enabled)
	assert.Equal(t, "/srv/signals/signal.txt", cfg.File.Path)
	assert.True(t, cfg.Remote.Enabled)
	assert.Equal(t, 2500, cfg.Remote.TimeoutMs)
	assert.Equal(t, 500, cfg.Watcher.PollIntervalMs)
	assert.Equal(t, 60, cfg.Dispatch.DedupWindowSecs)
	assert.Equal(t, 4, cfg.Monitor.MaxRetries)
	assert.Equal(t, 45, cfg.Sessions.StaleAfterMins)
	assert.Equal(t, 7, cfg.Retention.SignalMaxAgeDays)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "test-secret", cfg.Server.JWTSecret)
}

func TestLoad_EnabledFileWatcherNeedsPath(t *testing.T) {
	_, err := Load(writeConfig(t, `
file_watcher:
  enabled: true
`))
	assert.Error(t, err)
}

func TestLoad_EnabledRemoteWatcherNeedsURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
remote_watcher:
  enabled: true
`))
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "watcher: ["))
	assert.Error(t, err)
}
