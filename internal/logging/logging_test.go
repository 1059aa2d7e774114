package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"schema-mapper/internal/config"
)

func restoreDefault(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func TestNew_FileSink(t *testing.T) {
	restoreDefault(t)
	path := filepath.Join(t.TempDir(), "logs", "mapper.log")

	logger, closer, err := New(config.LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1, MaxBackups: 1})
	require.NoError(t, err)
	logger.Debug("completion_received", "stage", "mapping", "round", 2)
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	require.Equal(t, "completion_received", entry["msg"])
	require.Equal(t, "mapping", entry["stage"])
	require.Same(t, logger, slog.Default())
}

func TestNew_Stderr(t *testing.T) {
	restoreDefault(t)
	logger, closer, err := New(config.LogConfig{Level: "warn", Format: "text"})
	require.NoError(t, err)
	require.NoError(t, closer.Close())
	require.False(t, logger.Enabled(t.Context(), slog.LevelInfo))
	require.True(t, logger.Enabled(t.Context(), slog.LevelWarn))
}

func TestParseLogLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLogLevel(" DEBUG "))
	require.Equal(t, slog.LevelWarn, parseLogLevel("warning"))
	require.Equal(t, slog.LevelError, parseLogLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}
