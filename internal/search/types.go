// Package search implements the retrieval engine: vector, keyword, and
// hybrid search with reciprocal rank fusion, plus MMR reranking for
// result diversity.
package search

import (
	"github.com/knovalab/knova/internal/kberr"
)

// Defaults for search options.
const (
	// DefaultTopK is the result count when the caller does not set one.
	DefaultTopK = 10

	// DefaultAlpha balances vector and keyword contributions in hybrid
	// fusion. 1 is pure vector, 0 is pure keyword.
	DefaultAlpha = 0.5

	// DefaultLambda balances relevance and diversity in MMR. 1 is pure
	// relevance, 0 is pure diversity.
	DefaultLambda = 0.5

	// MinCandidates is the per-source floor for fusion candidate lists.
	MinCandidates = 20

	// rrfConstant is the RRF smoothing parameter, empirically validated
	// across domains.
	rrfConstant = 60

	// absentRankOffset is added to the candidate count to form the
	// sentinel rank for documents missing from one source.
	absentRankOffset = 1000
)

// Candidate pool modes for MMR reranking.
const (
	PoolVector = "vector"
	PoolHybrid = "hybrid"
)

// Options controls a search request.
type Options struct {
	// TopK is the number of results to return. Zero selects the default.
	TopK int

	// Alpha is the hybrid fusion weight in [0, 1].
	Alpha float64

	// Lambda is the MMR relevance/diversity weight in [0, 1].
	Lambda float64

	// Filter restricts results to documents whose metadata contains
	// every pair.
	Filter map[string]string

	// MMRPool selects the retrieval mode that builds the MMR candidate
	// pool: PoolVector or PoolHybrid. Empty selects hybrid.
	MMRPool string
}

// DefaultOptions returns the default search options.
func DefaultOptions() Options {
	return Options{
		TopK:   DefaultTopK,
		Alpha:  DefaultAlpha,
		Lambda: DefaultLambda,
	}
}

// normalize applies defaults and validates ranges.
func (o *Options) normalize() error {
	if o.TopK == 0 {
		o.TopK = DefaultTopK
	}
	if o.TopK < 0 {
		return kberr.Newf(kberr.KindInvalidArgument, "top_k must be positive, got %d", o.TopK)
	}
	if o.Alpha < 0 || o.Alpha > 1 {
		return kberr.Newf(kberr.KindInvalidArgument, "alpha must be in [0, 1], got %g", o.Alpha)
	}
	if o.Lambda < 0 || o.Lambda > 1 {
		return kberr.Newf(kberr.KindInvalidArgument, "lambda must be in [0, 1], got %g", o.Lambda)
	}
	switch o.MMRPool {
	case "", PoolVector, PoolHybrid:
	default:
		return kberr.Newf(kberr.KindInvalidArgument, "mmr pool must be %q or %q, got %q", PoolVector, PoolHybrid, o.MMRPool)
	}
	return nil
}

// Result is one scored hit returned by the engine. For hybrid search
// the per-source ranks and scores are preserved alongside the fused
// score.
type Result struct {
	ID       string            `json:"id"`
	Score    float64           `json:"score"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`

	// VectorRank and KeywordRank are 1-based positions in the source
	// lists, zero when the document was absent from that source.
	VectorRank  int `json:"vector_rank,omitempty"`
	KeywordRank int `json:"keyword_rank,omitempty"`

	VectorScore  float64 `json:"vector_score,omitempty"`
	KeywordScore float64 `json:"keyword_score,omitempty"`
}

// candidateCount returns the per-source list size for hybrid fusion.
func candidateCount(topK int) int {
	if topK > MinCandidates {
		return topK
	}
	return MinCandidates
}
