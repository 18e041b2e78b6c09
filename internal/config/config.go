// Package config loads the service configuration from YAML with
// environment overrides, and writes it back with backups.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/knovalab/knova/internal/chunk"
	"github.com/knovalab/knova/internal/embed"
	"github.com/knovalab/knova/internal/search"
)

// BackendType selects the vector storage implementation.
type BackendType string

const (
	BackendEmbedded BackendType = "embedded"
	BackendPGVector BackendType = "pgvector"
)

// Config is the complete service configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Backend    BackendConfig    `yaml:"backend" json:"backend"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Heartbeat  HeartbeatConfig  `yaml:"heartbeat" json:"heartbeat"`
	RateLimits RateLimitConfig  `yaml:"rate_limits" json:"rate_limits"`
}

// ServerConfig configures the service entry point.
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr" json:"listen_addr"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format" json:"format"`
}

// BackendConfig selects and configures vector storage.
type BackendConfig struct {
	Type BackendType `yaml:"type" json:"type"`

	// DataDir holds embedded backend indexes and the metadata database.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// DSN is the PostgreSQL connection string for the pgvector backend.
	DSN string `yaml:"dsn" json:"dsn"`

	// MinConns and MaxConns bound the pgvector connection pool.
	MinConns int `yaml:"min_conns" json:"min_conns"`
	MaxConns int `yaml:"max_conns" json:"max_conns"`

	// CallTimeout bounds individual backend calls.
	CallTimeout time.Duration `yaml:"call_timeout" json:"call_timeout"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	Model      string `yaml:"model" json:"model"`
	Dimensions int    `yaml:"dimensions" json:"dimensions"`
	BatchSize  int    `yaml:"batch_size" json:"batch_size"`
	CacheSize  int    `yaml:"cache_size" json:"cache_size"`
}

// SearchConfig configures retrieval defaults.
type SearchConfig struct {
	// Alpha balances vector against keyword rank in hybrid fusion.
	Alpha float64 `yaml:"alpha" json:"alpha"`
	// Lambda balances relevance against diversity in MMR reranking.
	Lambda float64 `yaml:"lambda" json:"lambda"`
	TopK   int     `yaml:"top_k" json:"top_k"`
	// Expansion toggles synonym and acronym query expansion.
	Expansion bool `yaml:"expansion" json:"expansion"`
}

// ChunkingConfig configures document splitting.
type ChunkingConfig struct {
	ChunkSize     int `yaml:"chunk_size" json:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap" json:"chunk_overlap"`
	MaxChunkLines int `yaml:"max_chunk_lines" json:"max_chunk_lines"`
}

// CacheConfig configures the per-project semantic query cache.
type CacheConfig struct {
	MaxEntries          int           `yaml:"max_entries" json:"max_entries"`
	SimilarityThreshold float64       `yaml:"similarity_threshold" json:"similarity_threshold"`
	TTL                 time.Duration `yaml:"ttl" json:"ttl"`
}

// HeartbeatConfig configures the background backend probe.
type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled"`
	Interval time.Duration `yaml:"interval" json:"interval"`

	// WarmQueries are run against every healthy project to keep its
	// query cache populated.
	WarmQueries []string `yaml:"warm_queries" json:"warm_queries"`
}

// RateLimitConfig holds per-minute operation budgets.
type RateLimitConfig struct {
	CreatePerMinute int `yaml:"create_per_minute" json:"create_per_minute"`
	ListPerMinute   int `yaml:"list_per_minute" json:"list_per_minute"`
	QueryPerMinute  int `yaml:"query_per_minute" json:"query_per_minute"`
	IngestPerMinute int `yaml:"ingest_per_minute" json:"ingest_per_minute"`
}

// ConfigFileName is the per-directory config file.
const ConfigFileName = "knova.yaml"

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			ListenAddr:     "127.0.0.1:8750",
			RequestTimeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Backend: BackendConfig{
			Type:        BackendEmbedded,
			DataDir:     defaultDataDir(),
			MinConns:    2,
			MaxConns:    10,
			CallTimeout: 60 * time.Second,
		},
		Embeddings: EmbeddingsConfig{
			Model:      "hashing-256",
			Dimensions: embed.DefaultDimensions,
			BatchSize:  embed.DefaultBatchSize,
			CacheSize:  embed.DefaultEmbeddingCacheSize,
		},
		Search: SearchConfig{
			Alpha:     search.DefaultAlpha,
			Lambda:    search.DefaultLambda,
			TopK:      search.DefaultTopK,
			Expansion: true,
		},
		Chunking: ChunkingConfig{
			ChunkSize:     chunk.DefaultChunkSize,
			ChunkOverlap:  chunk.DefaultChunkOverlap,
			MaxChunkLines: chunk.DefaultMaxChunkLines,
		},
		Cache: CacheConfig{
			MaxEntries:          1000,
			SimilarityThreshold: 0.95,
			TTL:                 5 * time.Minute,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
		RateLimits: RateLimitConfig{
			CreatePerMinute: 10,
			ListPerMinute:   60,
			QueryPerMinute:  30,
			IngestPerMinute: 20,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".knova"
	}
	return filepath.Join(home, ".knova")
}

// Load builds the effective configuration: defaults, then the config
// file in dir (if present), then environment overrides.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	path := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(path); err == nil {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads the configuration from an explicit path, with
// environment overrides applied on top.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets the environment win over file values.
// KNOVA_LISTEN_ADDR, KNOVA_LOG_LEVEL, KNOVA_BACKEND, KNOVA_DSN,
// KNOVA_DATA_DIR, KNOVA_SEARCH_ALPHA, KNOVA_EMBEDDING_MODEL.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KNOVA_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("KNOVA_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("KNOVA_BACKEND"); v != "" {
		c.Backend.Type = BackendType(v)
	}
	if v := os.Getenv("KNOVA_DSN"); v != "" {
		c.Backend.DSN = v
	}
	if v := os.Getenv("KNOVA_DATA_DIR"); v != "" {
		c.Backend.DataDir = v
	}
	if v := os.Getenv("KNOVA_EMBEDDING_MODEL"); v != "" {
		c.Embeddings.Model = v
	}
	if v := os.Getenv("KNOVA_SEARCH_ALPHA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.Alpha = f
		}
	}
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	var problems []string

	switch c.Backend.Type {
	case BackendEmbedded:
		if c.Backend.DataDir == "" {
			problems = append(problems, "backend.data_dir required for embedded backend")
		}
	case BackendPGVector:
		if c.Backend.DSN == "" {
			problems = append(problems, "backend.dsn required for pgvector backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown backend.type %q", c.Backend.Type))
	}
	if c.Backend.MinConns < 1 || c.Backend.MaxConns < c.Backend.MinConns {
		problems = append(problems, "backend connection pool bounds invalid")
	}

	if c.Embeddings.Dimensions <= 0 {
		problems = append(problems, "embeddings.dimensions must be positive")
	}
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		problems = append(problems, "search.alpha must be in [0, 1]")
	}
	if c.Search.Lambda < 0 || c.Search.Lambda > 1 {
		problems = append(problems, "search.lambda must be in [0, 1]")
	}
	if c.Search.TopK <= 0 {
		problems = append(problems, "search.top_k must be positive")
	}
	if c.Chunking.ChunkSize <= 0 {
		problems = append(problems, "chunking.chunk_size must be positive")
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		problems = append(problems, "chunking.chunk_overlap must be smaller than chunk_size")
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		problems = append(problems, "cache.similarity_threshold must be in [0, 1]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// WriteYAML writes the configuration to path, backing up any existing
// file first.
func (c *Config) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := Backup(path); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
