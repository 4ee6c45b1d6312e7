package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"":      slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}

func TestNewWithWriter(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewWithWriter(Config{Level: "warn", Format: "json"}, &buf)
		require.NoError(t, err)

		logger.Info("dropped")
		logger.Warn("kept", "component", "cache")

		var rec map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
		assert.Equal(t, "kept", rec["msg"])
		assert.Equal(t, "cache", rec["component"])
	})

	t.Run("Text", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := NewWithWriter(Config{Level: "debug", Format: "text"}, &buf)
		require.NoError(t, err)
		logger.Debug("health check finished", "quality", "good")
		assert.Contains(t, buf.String(), "quality=good")
	})

	t.Run("Unknown Format", func(t *testing.T) {
		_, err := NewWithWriter(Config{Format: "xml"}, &bytes.Buffer{})
		require.Error(t, err)
	})
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layer.log")
	logger, err := New(Config{Level: "info", Format: "text", Output: path})
	require.NoError(t, err)
	logger.Info("written")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written")
}
