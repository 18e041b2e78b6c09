package search

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/knovalab/knova/internal/embed"
	"github.com/knovalab/knova/internal/kberr"
	"github.com/knovalab/knova/internal/store"
)

// Engine runs retrieval over one backend. Scoring never holds backend
// locks: each operation works on the result snapshots returned by the
// backend queries.
type Engine struct {
	backend  store.VectorBackend
	embedder embed.Embedder
	retry    kberr.RetryConfig
	logger   *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRetryConfig overrides the backend retry policy.
func WithRetryConfig(cfg kberr.RetryConfig) EngineOption {
	return func(e *Engine) {
		e.retry = cfg
	}
}

// NewEngine creates a retrieval engine.
func NewEngine(backend store.VectorBackend, embedder embed.Embedder, opts ...EngineOption) *Engine {
	e := &Engine{
		backend:  backend,
		embedder: embedder,
		retry:    kberr.DefaultRetryConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SearchVector embeds the query and returns the nearest documents.
func (e *Engine) SearchVector(ctx context.Context, query string, opts Options) ([]*Result, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	embedding, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := e.queryVector(ctx, embedding, opts.TopK, opts.Filter)
	if err != nil {
		return nil, err
	}
	return vectorResults(hits), nil
}

// SearchKeyword returns the best keyword matches for the query.
func (e *Engine) SearchKeyword(ctx context.Context, query string, opts Options) ([]*Result, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	hits, err := e.queryKeyword(ctx, query, opts.TopK, opts.Filter)
	if err != nil {
		return nil, err
	}
	return keywordResults(hits), nil
}

// SearchHybrid runs vector and keyword search in parallel and fuses
// the lists with alpha-weighted RRF. If one source fails the other
// still contributes; only a double failure is an error.
func (e *Engine) SearchHybrid(ctx context.Context, query string, opts Options) ([]*Result, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	start := time.Now()
	candidateN := candidateCount(opts.TopK)

	var (
		vecHits, kwHits []*store.SearchResult
		vecErr, kwErr   error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		embedding, err := e.embedQuery(gctx, query)
		if err != nil {
			vecErr = err
			return nil
		}
		vecHits, vecErr = e.queryVector(gctx, embedding, candidateN, opts.Filter)
		return nil
	})
	g.Go(func() error {
		kwHits, kwErr = e.queryKeyword(gctx, query, candidateN, opts.Filter)
		return nil
	})
	_ = g.Wait()

	if vecErr != nil && kwErr != nil {
		return nil, vecErr
	}
	if vecErr != nil {
		e.logger.Warn("hybrid search degraded to keyword only", slog.String("error", vecErr.Error()))
	}
	if kwErr != nil {
		e.logger.Warn("hybrid search degraded to vector only", slog.String("error", kwErr.Error()))
	}

	fused := fuseRRF(vecHits, kwHits, opts.Alpha, candidateN)
	if len(fused) > opts.TopK {
		fused = fused[:opts.TopK]
	}

	e.logger.Debug("hybrid search complete",
		slog.Int("vector_hits", len(vecHits)),
		slog.Int("keyword_hits", len(kwHits)),
		slog.Int("returned", len(fused)),
		slog.Duration("elapsed", time.Since(start)))
	return fused, nil
}

// SearchWithMMR runs the selected retrieval mode (hybrid by default,
// pure vector via Options.MMRPool) over an enlarged candidate pool and
// reranks it with maximal marginal relevance for diversity.
func (e *Engine) SearchWithMMR(ctx context.Context, query string, opts Options) ([]*Result, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	poolOpts := opts
	poolOpts.TopK = opts.TopK * 2

	var (
		candidates []*Result
		err        error
	)
	if opts.MMRPool == PoolVector {
		candidates, err = e.SearchVector(ctx, query, poolOpts)
	} else {
		candidates, err = e.SearchHybrid(ctx, query, poolOpts)
	}
	if err != nil {
		return nil, err
	}
	if len(candidates) <= 1 {
		return candidates, nil
	}

	queryEmbedding, err := e.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	embeddings, err := kberr.RetryBackendResult(ctx, e.retry, func() (map[string][]float32, error) {
		return e.backend.FetchEmbeddings(ctx, ids)
	})
	if err != nil {
		return nil, err
	}

	return mmrRerank(candidates, queryEmbedding, embeddings, opts.Lambda, opts.TopK), nil
}

// embedQuery embeds the query text, mapping embedder failures onto the
// unavailable kind.
func (e *Engine) embedQuery(ctx context.Context, query string) ([]float32, error) {
	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, kberr.Wrap(kberr.KindBackendUnavailable, "embed query", err)
	}
	return embedding, nil
}

func (e *Engine) queryVector(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]*store.SearchResult, error) {
	return kberr.RetryBackendResult(ctx, e.retry, func() ([]*store.SearchResult, error) {
		return e.backend.QueryVector(ctx, embedding, topK, filter)
	})
}

func (e *Engine) queryKeyword(ctx context.Context, query string, topK int, filter map[string]string) ([]*store.SearchResult, error) {
	return kberr.RetryBackendResult(ctx, e.retry, func() ([]*store.SearchResult, error) {
		return e.backend.QueryKeyword(ctx, query, topK, filter)
	})
}

func validateQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		return kberr.New(kberr.KindInvalidArgument, "query must not be empty")
	}
	return nil
}

func vectorResults(hits []*store.SearchResult) []*Result {
	results := make([]*Result, len(hits))
	for i, hit := range hits {
		results[i] = &Result{
			ID:          hit.ID,
			Score:       hit.Score,
			Text:        hit.Text,
			Metadata:    hit.Metadata,
			VectorRank:  i + 1,
			VectorScore: hit.Score,
		}
	}
	return results
}

func keywordResults(hits []*store.SearchResult) []*Result {
	results := make([]*Result, len(hits))
	for i, hit := range hits {
		results[i] = &Result{
			ID:           hit.ID,
			Score:        hit.Score,
			Text:         hit.Text,
			Metadata:     hit.Metadata,
			KeywordRank:  i + 1,
			KeywordScore: hit.Score,
		}
	}
	return results
}
