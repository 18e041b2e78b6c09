package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"DEBUG", slog.LevelDebug},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLevel(tt.input), "level %q", tt.input)
	}
}

func TestSetupWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "knova.log")

	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: path, WriteToStderr: false})
	require.NoError(t, err)

	logger.Info("test event", slog.String("project_id", "p1"))
	cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "test event", entry["msg"])
	assert.Equal(t, "p1", entry["project_id"])
}

func TestSetupCreatesLogDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "knova.log")

	logger, cleanup, err := Setup(Config{Level: "info", FilePath: path, WriteToStderr: false})
	require.NoError(t, err)
	defer cleanup()

	logger.Info("hello")
	_, err = os.Stat(path)
	assert.NoError(t, err)
}
