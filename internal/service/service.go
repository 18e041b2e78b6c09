// Package service is the operation facade over the project registry,
// retrieval engines, and document pipeline. It enforces rate limits,
// shapes errors for callers, and records metrics.
package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/knovalab/knova/internal/chunk"
	"github.com/knovalab/knova/internal/config"
	"github.com/knovalab/knova/internal/kberr"
	"github.com/knovalab/knova/internal/metrics"
	"github.com/knovalab/knova/internal/project"
	"github.com/knovalab/knova/internal/repo"
	"github.com/knovalab/knova/internal/search"
)

// Service wires the per-project components behind a flat operation
// surface. Engines, chunkers, and repositories are created lazily per
// project and dropped when the project goes away.
type Service struct {
	cfg      *config.Config
	manager  *project.Manager
	metrics  *metrics.Registry
	logger   *slog.Logger
	expander *search.Expander
	limits   *limiterSet

	mu       sync.Mutex
	engines  map[string]*search.Engine
	chunkers map[string]*chunk.AutoChunker
	repos    map[string]*repo.Repository
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// New creates the service facade.
func New(cfg *config.Config, manager *project.Manager, reg *metrics.Registry, opts ...Option) (*Service, error) {
	s := &Service{
		cfg:      cfg,
		manager:  manager,
		metrics:  reg,
		logger:   slog.Default(),
		expander: search.NewExpander(),
		limits:   newLimiterSet(cfg.RateLimits),
		engines:  make(map[string]*search.Engine),
		chunkers: make(map[string]*chunk.AutoChunker),
		repos:    make(map[string]*repo.Repository),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateProject creates a project, subject to the create budget.
func (s *Service) CreateProject(ctx context.Context, params project.CreateParams) (*project.Project, error) {
	if !s.limits.create.Allow() {
		return nil, kberr.New(kberr.KindRateLimited, "project creation rate limit exceeded")
	}
	return s.manager.CreateProject(ctx, params)
}

// GetProject returns one project.
func (s *Service) GetProject(id string) (*project.Project, error) {
	return s.manager.GetProject(id)
}

// ListProjects lists projects, subject to the list budget.
func (s *Service) ListProjects() ([]*project.Project, error) {
	if !s.limits.list.Allow() {
		return nil, kberr.New(kberr.KindRateLimited, "project list rate limit exceeded")
	}
	return s.manager.ListProjects(), nil
}

// UpdateProject patches a project.
func (s *Service) UpdateProject(ctx context.Context, id string, patch project.Patch) (*project.Project, error) {
	return s.manager.UpdateProject(ctx, id, patch)
}

// DeleteProject removes a project and every derived component,
// including the persisted document records.
func (s *Service) DeleteProject(ctx context.Context, id string) error {
	if err := s.manager.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.engines, id)
	delete(s.chunkers, id)
	delete(s.repos, id)
	s.mu.Unlock()
	s.limits.forget(id)

	if path := s.repositoryPath(id); path != "" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("remove document records file",
				slog.String("project_id", id),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// engine returns the project's retrieval engine, building it on first
// use.
func (s *Service) engine(projectID string) (*search.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if eng, ok := s.engines[projectID]; ok {
		return eng, nil
	}
	backend, err := s.manager.Backend(projectID)
	if err != nil {
		return nil, err
	}
	embedder, err := s.manager.Embedder(projectID)
	if err != nil {
		return nil, err
	}
	eng := search.NewEngine(backend, embedder, search.WithLogger(s.logger))
	s.engines[projectID] = eng
	return eng, nil
}

// chunker returns the project's auto-dispatching chunker, built with
// the project's embedder so the semantic strategy is available.
func (s *Service) chunker(projectID string) (*chunk.AutoChunker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chunkers[projectID]; ok {
		return c, nil
	}
	embedder, err := s.manager.Embedder(projectID)
	if err != nil {
		return nil, err
	}
	c, err := chunk.NewAutoChunkerWithEmbedder(embedder)
	if err != nil {
		return nil, err
	}
	s.chunkers[projectID] = c
	return c, nil
}

// repositoryPath is the persisted location of a project's document
// records, empty when no data directory is configured.
func (s *Service) repositoryPath(projectID string) string {
	if s.cfg.Backend.DataDir == "" {
		return ""
	}
	return filepath.Join(s.cfg.Backend.DataDir, "documents", projectID+".json")
}

// repository returns the project's document repository, building it on
// first use and restoring any persisted records.
func (s *Service) repository(projectID string) (*repo.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.repos[projectID]; ok {
		return r, nil
	}
	if _, err := s.manager.GetProject(projectID); err != nil {
		return nil, err
	}
	var opts []repo.RepositoryOption
	if path := s.repositoryPath(projectID); path != "" {
		opts = append(opts, repo.WithPath(path))
	}
	r := repo.NewRepository(opts...)
	if err := r.Load(); err != nil {
		return nil, kberr.Wrap(kberr.KindInternal, "load document records", err)
	}
	s.repos[projectID] = r
	return r, nil
}

// ProjectStatus is one project's health snapshot.
type ProjectStatus struct {
	ProjectID string  `json:"project_id"`
	Name      string  `json:"name"`
	Healthy   bool    `json:"healthy"`
	Detail    string  `json:"detail,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
	Documents int     `json:"documents"`
}

// Status probes every project backend.
func (s *Service) Status(ctx context.Context) []ProjectStatus {
	projects, _ := s.ListProjectsUnlimited()
	out := make([]ProjectStatus, 0, len(projects))
	for _, p := range projects {
		status := ProjectStatus{ProjectID: p.ID, Name: p.Name}
		backend, err := s.manager.Backend(p.ID)
		if err != nil {
			status.Detail = "backend unavailable"
			out = append(out, status)
			continue
		}
		health := backend.Health(ctx)
		status.Healthy = health.Healthy
		status.Detail = health.Detail
		status.LatencyMS = float64(health.Latency) / float64(time.Millisecond)
		if stats, err := backend.Stats(ctx); err == nil {
			status.Documents = stats.Documents
		}
		out = append(out, status)
	}
	return out
}

// ListProjectsUnlimited bypasses the list budget for internal callers
// like the status probe.
func (s *Service) ListProjectsUnlimited() ([]*project.Project, error) {
	return s.manager.ListProjects(), nil
}

// MetricsDump renders the metrics registry in text exposition format.
func (s *Service) MetricsDump() (string, error) {
	return s.metrics.Dump()
}

// Close releases the manager and everything under it.
func (s *Service) Close() error {
	return s.manager.Close()
}
