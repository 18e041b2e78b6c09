package service

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/knovalab/knova/internal/config"
)

// opLimiters throttle the per-project operation classes. Project
// management ops (create, list) share service-wide limiters instead.
type opLimiters struct {
	query  *rate.Limiter
	ingest *rate.Limiter
}

// limiterSet hands out rate limiters: one global pair for project
// management, one lazily-created pair per project for data operations.
type limiterSet struct {
	cfg    config.RateLimitConfig
	create *rate.Limiter
	list   *rate.Limiter

	mu         sync.Mutex
	perProject map[string]*opLimiters
}

func newLimiterSet(cfg config.RateLimitConfig) *limiterSet {
	return &limiterSet{
		cfg:        cfg,
		create:     perMinute(cfg.CreatePerMinute),
		list:       perMinute(cfg.ListPerMinute),
		perProject: make(map[string]*opLimiters),
	}
}

// perMinute builds a limiter with burst equal to the full budget, so a
// quiet minute can be spent at once.
func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
}

func (l *limiterSet) forProject(projectID string) *opLimiters {
	l.mu.Lock()
	defer l.mu.Unlock()
	ops, ok := l.perProject[projectID]
	if !ok {
		ops = &opLimiters{
			query:  perMinute(l.cfg.QueryPerMinute),
			ingest: perMinute(l.cfg.IngestPerMinute),
		}
		l.perProject[projectID] = ops
	}
	return ops
}

func (l *limiterSet) forget(projectID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.perProject, projectID)
}
