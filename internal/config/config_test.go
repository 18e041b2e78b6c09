package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, BackendEmbedded, cfg.Backend.Type)
	assert.Equal(t, 0.5, cfg.Search.Alpha)
	assert.Equal(t, 10, cfg.Search.TopK)
	assert.Equal(t, 1000, cfg.Chunking.ChunkSize)
	assert.Equal(t, 200, cfg.Chunking.ChunkOverlap)
	assert.Equal(t, 30*time.Second, cfg.Heartbeat.Interval)
	assert.Equal(t, 30, cfg.RateLimits.QueryPerMinute)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, NewConfig().Server.ListenAddr, cfg.Server.ListenAddr)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	body := `
version: 1
server:
  listen_addr: "0.0.0.0:9000"
search:
  alpha: 0.7
  top_k: 25
chunking:
  chunk_size: 500
  chunk_overlap: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(body), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.ListenAddr)
	assert.Equal(t, 0.7, cfg.Search.Alpha)
	assert.Equal(t, 25, cfg.Search.TopK)
	assert.Equal(t, 500, cfg.Chunking.ChunkSize)
	// Untouched sections keep defaults.
	assert.Equal(t, BackendEmbedded, cfg.Backend.Type)
}

func TestLoadEnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	body := "server:\n  listen_addr: \"0.0.0.0:9000\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(body), 0o644))

	t.Setenv("KNOVA_LISTEN_ADDR", "127.0.0.1:7777")
	t.Setenv("KNOVA_SEARCH_ALPHA", "0.9")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Server.ListenAddr)
	assert.Equal(t, 0.9, cfg.Search.Alpha)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	body := "search:\n  alpha: 1.5\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(body), 0o644))

	_, err := Load(dir)
	assert.ErrorContains(t, err, "search.alpha")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"pgvector needs dsn", func(c *Config) { c.Backend.Type = BackendPGVector }, "backend.dsn"},
		{"unknown backend", func(c *Config) { c.Backend.Type = "mystery" }, "backend.type"},
		{"overlap too large", func(c *Config) { c.Chunking.ChunkOverlap = c.Chunking.ChunkSize }, "chunk_overlap"},
		{"bad lambda", func(c *Config) { c.Search.Lambda = -0.1 }, "search.lambda"},
		{"bad pool", func(c *Config) { c.Backend.MaxConns = 1 }, "connection pool"},
		{"bad threshold", func(c *Config) { c.Cache.SimilarityThreshold = 2 }, "similarity_threshold"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestWriteYAMLRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	cfg := NewConfig()
	cfg.Server.ListenAddr = "127.0.0.1:8123"

	require.NoError(t, cfg.WriteYAML(path))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8123", loaded.Server.ListenAddr)
	assert.Equal(t, cfg.Search.TopK, loaded.Search.TopK)
}

func TestWriteYAMLCreatesBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	cfg := NewConfig()

	require.NoError(t, cfg.WriteYAML(path))
	// First write has nothing to back up.
	backups, err := ListBackups(path)
	require.NoError(t, err)
	assert.Empty(t, backups)

	cfg.Server.ListenAddr = "127.0.0.1:8124"
	require.NoError(t, cfg.WriteYAML(path))
	backups, err = ListBackups(path)
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestRestore(t *testing.T) {
	path := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	backupPath, err := Backup(path)
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	require.NoError(t, os.WriteFile(path, []byte("version: 2\n"), 0o644))
	require.NoError(t, Restore(path, backupPath))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}
