package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tunequeue.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"TUNEQUEUE_TOKEN", "TUNEQUEUE_DB_PATH", "SPOTIFY_CLIENT_ID", "SPOTIFY_CLIENT_SECRET", "SPOTIFY_REFRESH_TOKEN"} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Server.Addr)
	assert.Empty(t, cfg.Server.Token)
	assert.Empty(t, cfg.Storage.Path)
	assert.Equal(t, 500*time.Millisecond, cfg.Playback.PollInterval())
	assert.Equal(t, 44100, cfg.Playback.SampleRate)
	assert.Equal(t, 100*time.Millisecond, cfg.Playback.Buffer())
	assert.Equal(t, 30*time.Second, cfg.Playback.HTTPTimeout())
	assert.Equal(t, int64(64<<20), cfg.Playback.MaxSourceBytes())
	assert.True(t, cfg.Playback.SilentMode)
	require.Contains(t, cfg.Filters, "duration_limit_filter")
	assert.True(t, cfg.Filters["duration_limit_filter"].Enabled)
	assert.Equal(t, 8, cfg.Filters["duration_limit_filter"].Settings["max_minutes"])
	assert.True(t, cfg.Playback.Background)
	assert.True(t, cfg.Playback.DuckOthers)
	assert.Equal(t, time.Duration(0), cfg.Storage.PersistDebounce())
	assert.Equal(t, "JP", cfg.Spotify.Market)
	assert.False(t, cfg.Spotify.Enabled())
}

func TestLoad_FileValues(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
server:
  addr: "127.0.0.1:9000"
  token: secret
  hooks:
    on_started: ["echo up"]
storage:
  path: /tmp/q.db
  persist_debounce_ms: 250
playback:
  poll_interval_ms: 200
  duck_others: false
spotify:
  client_id: id
  client_secret: cs
  refresh_token: rt
  market: US
filters:
  duration_limit_filter:
    enabled: true
    settings:
      max_minutes: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Server.Token)
	assert.Equal(t, []string{"echo up"}, cfg.Server.Hooks.OnStarted)
	assert.Equal(t, "/tmp/q.db", cfg.Storage.Path)
	assert.Equal(t, 250*time.Millisecond, cfg.Storage.PersistDebounce())
	assert.Equal(t, 200*time.Millisecond, cfg.Playback.PollInterval())
	assert.False(t, cfg.Playback.DuckOthers, "explicit false must survive defaults")
	assert.True(t, cfg.Playback.SilentMode)
	assert.True(t, cfg.Spotify.Enabled())
	assert.Equal(t, "US", cfg.Spotify.Market)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("TUNEQUEUE_TOKEN", "from-env")
	t.Setenv("TUNEQUEUE_DB_PATH", "/var/lib/q.db")
	t.Setenv("SPOTIFY_CLIENT_ID", "env-id")
	t.Setenv("SPOTIFY_CLIENT_SECRET", "env-secret")
	t.Setenv("SPOTIFY_REFRESH_TOKEN", "env-refresh")
	path := writeConfig(t, "server:\n  token: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Server.Token)
	assert.Equal(t, "/var/lib/q.db", cfg.Storage.Path)
	assert.Equal(t, "env-id", cfg.Spotify.ClientID)
	assert.True(t, cfg.Spotify.Enabled())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "poll interval too small", body: "playback:\n  poll_interval_ms: 10\n"},
		{name: "poll interval too large", body: "playback:\n  poll_interval_ms: 60000\n"},
		{name: "negative debounce", body: "storage:\n  persist_debounce_ms: -1\n"},
		{name: "bad market", body: "spotify:\n  market: JPN\n"},
		{name: "partial spotify credentials", body: "spotify:\n  client_id: only-id\n"},
		{name: "empty addr", body: "server:\n  addr: \"\"\n"},
		{name: "malformed yaml", body: "server: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
