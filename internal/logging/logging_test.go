package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/lectern/internal/config"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelWarn,
		"verbose": slog.LevelWarn,
	} {
		require.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, config.LogConfig{Level: "info", Format: "json"}))
	log.Debug("hidden")
	log.Info("step finished", "step", 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "step finished", entry["msg"])
	require.EqualValues(t, 1, entry["step"])
}

func TestNewHandlerText(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, config.LogConfig{Level: "debug"}))
	log.Debug("tool call", "name", "search")
	require.True(t, strings.Contains(buf.String(), "name=search"), buf.String())
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lectern.log")
	log, closer, err := New(config.LogConfig{Level: "info", Output: path})
	require.NoError(t, err)
	log.Info("hello")
	require.NoError(t, closer())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "hello")
}

func TestOrDiscard(t *testing.T) {
	require.NotNil(t, OrDiscard(nil))
	l := slog.Default()
	require.Same(t, l, OrDiscard(l))
}
