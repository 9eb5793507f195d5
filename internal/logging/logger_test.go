package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestNewWithWriterJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, Options{Level: "info", Format: "json"})

	logger.Debug("hidden")
	logger.Info("receiver_started", "addr", "127.0.0.1:8765")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "receiver_started", entry["msg"])
	assert.Equal(t, "127.0.0.1:8765", entry["addr"])
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bot.log")
	logger := New(Options{Level: "debug", Format: "text", File: path})
	logger.Info("written_to_file")

	assert.FileExists(t, path)
}
