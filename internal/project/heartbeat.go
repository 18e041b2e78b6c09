package project

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/knovalab/knova/internal/search"
)

const (
	// MinHeartbeatInterval is the floor for the probe interval.
	MinHeartbeatInterval = 10 * time.Second

	// heartbeatProbeTimeout bounds each per-project health probe.
	heartbeatProbeTimeout = 5 * time.Second
)

// Heartbeat periodically probes every project backend so failures
// surface in logs before a request hits them. Probe failures are
// logged and counted, never fatal.
type Heartbeat struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	warmQueries []string

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	failures map[string]int
}

// HeartbeatOption configures a Heartbeat.
type HeartbeatOption func(*Heartbeat)

// WithHeartbeatLogger sets the heartbeat logger.
func WithHeartbeatLogger(logger *slog.Logger) HeartbeatOption {
	return func(h *Heartbeat) { h.logger = logger }
}

// WithWarmQueries makes each healthy probe run the given queries
// against the project and seed its query cache with the results.
func WithWarmQueries(queries []string) HeartbeatOption {
	return func(h *Heartbeat) { h.warmQueries = queries }
}

// withHeartbeatInterval overrides the interval floor. Test hook.
func withHeartbeatInterval(d time.Duration) HeartbeatOption {
	return func(h *Heartbeat) { h.interval = d }
}

// NewHeartbeat creates a heartbeat over the manager's projects.
// Intervals below the floor are clamped up.
func NewHeartbeat(m *Manager, interval time.Duration, opts ...HeartbeatOption) *Heartbeat {
	if interval < MinHeartbeatInterval {
		interval = MinHeartbeatInterval
	}
	h := &Heartbeat{
		manager:  m,
		interval: interval,
		logger:   slog.Default(),
		failures: make(map[string]int),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start launches the probe loop. Returns immediately; the first probe
// runs after one interval.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop != nil {
		return
	}
	h.stop = make(chan struct{})
	h.done = make(chan struct{})
	go h.run(h.stop, h.done)
	h.logger.Info("heartbeat started", slog.Duration("interval", h.interval))
}

// Stop halts the loop and waits for it to exit. Returns within one
// interval plus an in-flight probe round. Safe to call twice.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	stop, done := h.stop, h.done
	h.stop, h.done = nil, nil
	h.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	h.logger.Info("heartbeat stopped")
}

func (h *Heartbeat) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			h.probeAll(stop)
		}
	}
}

// probeAll checks every project backend, each under its own deadline.
func (h *Heartbeat) probeAll(stop <-chan struct{}) {
	for _, p := range h.manager.ListProjects() {
		select {
		case <-stop:
			return
		default:
		}
		h.probe(p)
	}
}

func (h *Heartbeat) probe(p *Project) {
	backend, err := h.manager.Backend(p.ID)
	if err != nil {
		// Project deleted between listing and probing.
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), heartbeatProbeTimeout)
	defer cancel()

	health := backend.Health(ctx)
	if !health.Healthy {
		h.mu.Lock()
		h.failures[p.ID]++
		count := h.failures[p.ID]
		h.mu.Unlock()

		h.logger.Warn("heartbeat probe failed",
			slog.String("project_id", p.ID),
			slog.String("detail", health.Detail),
			slog.Int("consecutive_failures", count))
		return
	}

	h.mu.Lock()
	delete(h.failures, p.ID)
	h.mu.Unlock()

	if len(h.warmQueries) > 0 {
		h.warm(ctx, p)
	}

	h.logger.Debug("heartbeat probe ok",
		slog.String("project_id", p.ID),
		slog.Duration("latency", health.Latency))
}

// warm seeds the project's query cache by running the configured
// queries through its engine.
func (h *Heartbeat) warm(ctx context.Context, p *Project) {
	cache, err := h.manager.ProjectCache(p.ID)
	if err != nil {
		return
	}
	backend, err := h.manager.Backend(p.ID)
	if err != nil {
		return
	}
	embedder, err := h.manager.Embedder(p.ID)
	if err != nil {
		return
	}

	engine := search.NewEngine(backend, embedder, search.WithLogger(h.logger))
	warmed := cache.Warm(ctx, h.warmQueries, embedder.Embed,
		func(ctx context.Context, text string, _ []float32) ([]*search.Result, error) {
			return engine.SearchHybrid(ctx, text, search.Options{})
		})
	if warmed > 0 {
		h.logger.Debug("cache warmed",
			slog.String("project_id", p.ID),
			slog.Int("queries", warmed))
	}
}

// Failures returns the consecutive failure count for a project.
func (h *Heartbeat) Failures(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failures[projectID]
}
