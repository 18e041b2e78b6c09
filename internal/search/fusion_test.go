package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knovalab/knova/internal/store"
)

func hits(ids ...string) []*store.SearchResult {
	out := make([]*store.SearchResult, len(ids))
	for i, id := range ids {
		out[i] = &store.SearchResult{ID: id, Score: 1.0 - float64(i)*0.1, Text: "text " + id}
	}
	return out
}

func resultIDs(results []*Result) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

func TestFuseRRFEmpty(t *testing.T) {
	fused := fuseRRF(nil, nil, 0.5, 20)
	assert.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestFuseRRFPureVectorPreservesOrder(t *testing.T) {
	vec := hits("a", "b", "c")
	kw := hits("c", "d", "a")

	fused := fuseRRF(vec, kw, 1.0, 20)
	// alpha=1: vector order first, keyword-only documents after, in
	// keyword order.
	assert.Equal(t, []string{"a", "b", "c", "d"}, resultIDs(fused))
}

func TestFuseRRFPureKeywordPreservesOrder(t *testing.T) {
	vec := hits("a", "b")
	kw := hits("c", "d", "a")

	fused := fuseRRF(vec, kw, 0.0, 20)
	assert.Equal(t, []string{"c", "d", "a", "b"}, resultIDs(fused))
}

func TestFuseRRFScores(t *testing.T) {
	vec := hits("a")
	kw := hits("a")

	fused := fuseRRF(vec, kw, 0.5, 20)
	require.Len(t, fused, 1)

	// Both sources rank the document first.
	want := 0.5/float64(60+1) + 0.5/float64(60+1)
	assert.InDelta(t, want, fused[0].Score, 1e-12)
	assert.Equal(t, 1, fused[0].VectorRank)
	assert.Equal(t, 1, fused[0].KeywordRank)
}

func TestFuseRRFSentinelRank(t *testing.T) {
	vec := hits("a")
	kw := hits("b")

	fused := fuseRRF(vec, kw, 0.5, 20)
	require.Len(t, fused, 2)

	sentinel := 20 + absentRankOffset
	wantA := 0.5/float64(60+1) + 0.5/float64(60+sentinel)
	assert.InDelta(t, wantA, fused[0].Score, 1e-12)
	assert.Equal(t, "a", fused[0].ID, "equal-weight tie breaks on smaller vector rank")
}

func TestFuseRRFBothSourcesBeatSingleSource(t *testing.T) {
	vec := hits("both", "veconly")
	kw := hits("both", "kwonly")

	fused := fuseRRF(vec, kw, 0.5, 20)
	assert.Equal(t, "both", fused[0].ID)
}

func TestFuseRRFTieBreaksVectorRank(t *testing.T) {
	// Symmetric positions produce an exact score tie.
	vec := hits("x", "y")
	kw := hits("y", "x")

	fused := fuseRRF(vec, kw, 0.5, 20)
	require.Len(t, fused, 2)
	// Scores are identical: each doc has ranks {1,2} across sources.
	assert.InDelta(t, fused[0].Score, fused[1].Score, 1e-12)
	// Tie breaks on smaller vector rank: x ranked 1 in vector.
	assert.Equal(t, "x", fused[0].ID)
}

func TestFuseRRFMetadataPrefersVector(t *testing.T) {
	vec := []*store.SearchResult{{ID: "a", Score: 0.9, Text: "vector text", Metadata: map[string]string{"src": "vec"}}}
	kw := []*store.SearchResult{
		{ID: "a", Score: 2.0, Text: "keyword text", Metadata: map[string]string{"src": "kw"}},
		{ID: "b", Score: 1.0, Text: "kw only", Metadata: map[string]string{"src": "kw"}},
	}

	fused := fuseRRF(vec, kw, 0.5, 20)
	byID := map[string]*Result{}
	for _, r := range fused {
		byID[r.ID] = r
	}
	assert.Equal(t, "vector text", byID["a"].Text)
	assert.Equal(t, "vec", byID["a"].Metadata["src"])
	assert.Equal(t, "kw only", byID["b"].Text)
	assert.Equal(t, "kw", byID["b"].Metadata["src"])
}

func TestCandidateCount(t *testing.T) {
	assert.Equal(t, 20, candidateCount(5))
	assert.Equal(t, 20, candidateCount(20))
	assert.Equal(t, 50, candidateCount(50))
}
