package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"":        zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, expected := range tests {
		assert.Equal(t, expected, ParseLevel(in), in)
	}
}

func TestShortCaller(t *testing.T) {
	assert.Equal(t, "playback/coordinator.go:12", shortCaller(0, "/src/internal/app/playback/coordinator.go", 12))
	assert.Equal(t, "main.go:3", shortCaller(0, "main.go", 3))
}

func TestInit_FileOutputIsJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "tunequeue.log")
	closeLog, err := Init(Config{Output: path, Level: "info"})
	require.NoError(t, err)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	zlog.Debug().Msg("hidden")
	zlog.Info().Str("song", "a").Msg("playback: started")
	require.NoError(t, closeLog())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "playback: started", entry["message"])
	assert.Equal(t, "a", entry["song"])
}
