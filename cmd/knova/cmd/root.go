// Package cmd provides the CLI commands for knova.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/knovalab/knova/internal/cache"
	"github.com/knovalab/knova/internal/config"
	"github.com/knovalab/knova/internal/embed"
	"github.com/knovalab/knova/internal/kberr"
	"github.com/knovalab/knova/internal/logging"
	"github.com/knovalab/knova/internal/metrics"
	"github.com/knovalab/knova/internal/project"
	"github.com/knovalab/knova/internal/service"
	"github.com/knovalab/knova/internal/store"
	"github.com/knovalab/knova/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the knova CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "knova",
		Short:   "Multi-tenant retrieval service over vector and keyword search",
		Long:    `knova manages isolated per-project knowledge bases: documents are chunked, embedded, and indexed for hybrid (vector + keyword) retrieval behind scoped API keys.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("knova version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to knova.yaml (default: ./knova.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(*cobra.Command, []string) {
		if loggingCleanup != nil {
			loggingCleanup()
		}
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newProjectCmd())
	cmd.AddCommand(newQueryCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func setupLogging(_ *cobra.Command, _ []string) error {
	level := "info"
	if debugMode {
		level = "debug"
	}
	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         level,
		WriteToStderr: true,
	})
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	loggingCleanup = cleanup
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return config.Load(cwd)
}

// buildService assembles the manager and service from the effective
// configuration and restores persisted projects.
func buildService(ctx context.Context, cfg *config.Config) (*service.Service, *project.Manager, *metrics.Registry, error) {
	backendFactory := func(_ context.Context, p *project.Project) (store.VectorBackend, error) {
		switch cfg.Backend.Type {
		case config.BackendPGVector:
			return store.NewPGVectorBackend(store.PGVectorConfig{
				DSN:        cfg.Backend.DSN,
				Collection: p.CollectionName,
				Dimensions: cfg.Embeddings.Dimensions,
				MinConns:   int32(cfg.Backend.MinConns),
				MaxConns:   int32(cfg.Backend.MaxConns),
			})
		default:
			return store.NewEmbeddedBackend(store.EmbeddedConfig{
				Dimensions: cfg.Embeddings.Dimensions,
				Path:       filepath.Join(cfg.Backend.DataDir, "collections", p.CollectionName),
			})
		}
	}

	embedderFactory := func(model string) (embed.Embedder, error) {
		inner := embed.NewHashingEmbedderWithDimensions(cfg.Embeddings.Dimensions)
		if model != "" && model != inner.ModelName() {
			return nil, kberr.Newf(kberr.KindInvalidArgument, "unknown embedding model %q", model)
		}
		return embed.NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
	}

	meta, err := project.OpenMetaStore(filepath.Join(cfg.Backend.DataDir, "metadata.db"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open metadata store: %w", err)
	}

	reg := metrics.NewRegistry()
	manager := project.NewManager(backendFactory, embedderFactory,
		project.WithMetaStore(meta),
		project.WithMetrics(reg),
		project.WithManagerLogger(slog.Default()),
		project.WithCacheConfig(cache.SemanticConfig{
			MaxEntries:          cfg.Cache.MaxEntries,
			SimilarityThreshold: cfg.Cache.SimilarityThreshold,
			TTL:                 cfg.Cache.TTL,
		}),
	)
	if err := manager.Load(ctx); err != nil {
		_ = manager.Close()
		return nil, nil, nil, fmt.Errorf("restore projects: %w", err)
	}

	svc, err := service.New(cfg, manager, reg, service.WithLogger(slog.Default()))
	if err != nil {
		_ = manager.Close()
		return nil, nil, nil, err
	}
	return svc, manager, reg, nil
}
