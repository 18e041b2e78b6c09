package service

import (
	"context"
	"time"

	"github.com/knovalab/knova/internal/kberr"
	"github.com/knovalab/knova/internal/search"
)

// Query modes.
const (
	ModeVector  = "vector"
	ModeKeyword = "keyword"
	ModeHybrid  = "hybrid"
	ModeMMR     = "mmr"
)

// QueryRequest asks one project for relevant chunks. Alpha and Lambda
// are pointers so an explicit zero (pure keyword weighting, pure
// diversity) is distinguishable from an unset field.
type QueryRequest struct {
	ProjectID string            `json:"project_id"`
	Query     string            `json:"query"`
	Mode      string            `json:"mode,omitempty"`
	TopK      int               `json:"top_k,omitempty"`
	Alpha     *float64          `json:"alpha,omitempty"`
	Lambda    *float64          `json:"lambda,omitempty"`
	Filter    map[string]string `json:"filter,omitempty"`

	// MMRMode selects the retrieval mode behind MMR reranking: "vector"
	// or "hybrid" (the default).
	MMRMode string `json:"mmr_mode,omitempty"`

	// SkipCache bypasses the semantic cache for this request.
	SkipCache bool `json:"skip_cache,omitempty"`

	// SkipExpansion disables synonym and acronym expansion.
	SkipExpansion bool `json:"skip_expansion,omitempty"`
}

// QueryResponse carries the results and how they were produced.
type QueryResponse struct {
	Results []*search.Result `json:"results"`

	// Cached reports a semantic cache hit; Similarity is the match
	// similarity and CachedQuery the query that produced the entry.
	Cached      bool    `json:"cached"`
	Similarity  float64 `json:"similarity,omitempty"`
	CachedQuery string  `json:"cached_query,omitempty"`

	// ExpandedQuery is the query actually searched.
	ExpandedQuery string        `json:"expanded_query,omitempty"`
	Took          time.Duration `json:"took"`
}

// Query runs the retrieval pipeline: rate limit, expansion, semantic
// cache, then the engine.
func (s *Service) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	started := time.Now()
	resp, err := s.query(ctx, req)
	s.recordQuery(req.ProjectID, started, err)
	return resp, err
}

func (s *Service) query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	if !s.limits.forProject(req.ProjectID).query.Allow() {
		return nil, kberr.New(kberr.KindRateLimited, "query rate limit exceeded")
	}

	eng, err := s.engine(req.ProjectID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	searched := req.Query
	if s.cfg.Search.Expansion && !req.SkipExpansion {
		expStart := time.Now()
		expansion := s.expander.Expand(req.Query)
		searched = expansion.Expanded
		if s.metrics != nil {
			s.metrics.ExpansionDuration.Observe(time.Since(expStart).Seconds())
			s.metrics.QueryExpansions.Inc()
		}
	}

	opts := search.Options{
		TopK:    req.TopK,
		Alpha:   s.cfg.Search.Alpha,
		Lambda:  s.cfg.Search.Lambda,
		Filter:  req.Filter,
		MMRPool: req.MMRMode,
	}
	if req.Alpha != nil {
		opts.Alpha = *req.Alpha
	}
	if req.Lambda != nil {
		opts.Lambda = *req.Lambda
	}

	// The cache only serves unfiltered requests; a filter changes the
	// result set without changing the query embedding.
	useCache := !req.SkipCache && len(req.Filter) == 0
	var queryEmbedding []float32
	if useCache {
		embedder, err := s.manager.Embedder(req.ProjectID)
		if err != nil {
			return nil, err
		}
		queryEmbedding, err = embedder.Embed(ctx, searched)
		if err != nil {
			return nil, kberr.Wrap(kberr.KindBackendUnavailable, "embed query", err)
		}

		cache, err := s.manager.ProjectCache(req.ProjectID)
		if err != nil {
			return nil, err
		}
		if value, similarity, cachedQuery, ok := cache.Get(searched, queryEmbedding); ok {
			s.countCache(req.ProjectID, true, similarity)
			return &QueryResponse{
				Results:       value,
				Cached:        true,
				Similarity:    similarity,
				CachedQuery:   cachedQuery,
				ExpandedQuery: searched,
				Took:          time.Since(started),
			}, nil
		}
		s.countCache(req.ProjectID, false, 0)
	}

	results, err := s.dispatch(ctx, eng, searched, req.Mode, opts)
	if err != nil {
		return nil, err
	}

	if useCache {
		cache, err := s.manager.ProjectCache(req.ProjectID)
		if err == nil {
			cache.Put(searched, queryEmbedding, results)
		}
	}

	return &QueryResponse{
		Results:       results,
		ExpandedQuery: searched,
		Took:          time.Since(started),
	}, nil
}

func (s *Service) dispatch(ctx context.Context, eng *search.Engine, query, mode string, opts search.Options) ([]*search.Result, error) {
	switch mode {
	case ModeVector:
		return eng.SearchVector(ctx, query, opts)
	case ModeKeyword:
		return eng.SearchKeyword(ctx, query, opts)
	case ModeMMR:
		return eng.SearchWithMMR(ctx, query, opts)
	case ModeHybrid, "":
		return eng.SearchHybrid(ctx, query, opts)
	default:
		return nil, kberr.Newf(kberr.KindInvalidArgument, "unknown query mode %q", mode)
	}
}

func (s *Service) recordQuery(projectID string, started time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		s.metrics.ProjectErrors.WithLabelValues(projectID, string(kberr.KindOf(err))).Inc()
	}
	s.metrics.ProjectQueries.WithLabelValues(projectID, status).Inc()
	s.metrics.QueryDuration.WithLabelValues(projectID).Observe(time.Since(started).Seconds())
}

func (s *Service) countCache(projectID string, hit bool, similarity float64) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.CacheHits.WithLabelValues(projectID).Inc()
		s.metrics.SemanticCacheHits.Inc()
		s.metrics.SemanticSimilarity.Observe(similarity)
		return
	}
	s.metrics.CacheMisses.WithLabelValues(projectID).Inc()
	s.metrics.SemanticCacheMisses.Inc()
}
