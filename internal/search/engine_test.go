package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knovalab/knova/internal/embed"
	"github.com/knovalab/knova/internal/kberr"
	"github.com/knovalab/knova/internal/store"
)

// fakeBackend serves canned results and injects failures.
type fakeBackend struct {
	vectorHits  []*store.SearchResult
	keywordHits []*store.SearchResult
	embeddings  map[string][]float32

	vectorFailures  int32
	keywordFailures int32
	vectorCalls     int32
	keywordCalls    int32
}

func (f *fakeBackend) Initialize(context.Context) error { return nil }

func (f *fakeBackend) AddDocuments(context.Context, []*store.Document) error { return nil }

func (f *fakeBackend) QueryVector(_ context.Context, _ []float32, topK int, _ map[string]string) ([]*store.SearchResult, error) {
	atomic.AddInt32(&f.vectorCalls, 1)
	if atomic.AddInt32(&f.vectorFailures, -1) >= 0 {
		return nil, errors.New("vector index unavailable")
	}
	return truncateHits(f.vectorHits, topK), nil
}

func (f *fakeBackend) QueryKeyword(_ context.Context, _ string, topK int, _ map[string]string) ([]*store.SearchResult, error) {
	atomic.AddInt32(&f.keywordCalls, 1)
	if atomic.AddInt32(&f.keywordFailures, -1) >= 0 {
		return nil, errors.New("keyword index unavailable")
	}
	return truncateHits(f.keywordHits, topK), nil
}

func (f *fakeBackend) FetchEmbeddings(_ context.Context, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32)
	for _, id := range ids {
		if v, ok := f.embeddings[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (f *fakeBackend) DeleteDocuments(context.Context, []string, map[string]string) (int, error) {
	return 0, nil
}

func (f *fakeBackend) Stats(context.Context) (*store.Stats, error) { return &store.Stats{}, nil }

func (f *fakeBackend) Health(context.Context) store.Health { return store.Health{Healthy: true} }

func (f *fakeBackend) Close() error { return nil }

func truncateHits(hits []*store.SearchResult, topK int) []*store.SearchResult {
	if len(hits) > topK {
		return hits[:topK]
	}
	return hits
}

var _ store.VectorBackend = (*fakeBackend)(nil)

func fastRetry() kberr.RetryConfig {
	return kberr.RetryConfig{MaxRetries: 1, Delay: time.Millisecond}
}

func newTestEngine(backend *fakeBackend) *Engine {
	return NewEngine(backend, embed.NewHashingEmbedder(), WithRetryConfig(fastRetry()))
}

func TestEngineRejectsEmptyQuery(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	ctx := context.Background()

	for _, query := range []string{"", "   "} {
		_, err := e.SearchVector(ctx, query, DefaultOptions())
		assert.True(t, kberr.IsKind(err, kberr.KindInvalidArgument), "query %q", query)
		_, err = e.SearchHybrid(ctx, query, DefaultOptions())
		assert.True(t, kberr.IsKind(err, kberr.KindInvalidArgument), "query %q", query)
	}
}

func TestEngineRejectsBadWeights(t *testing.T) {
	e := newTestEngine(&fakeBackend{})
	ctx := context.Background()

	opts := DefaultOptions()
	opts.Alpha = 1.5
	_, err := e.SearchHybrid(ctx, "query", opts)
	assert.True(t, kberr.IsKind(err, kberr.KindInvalidArgument))

	opts = DefaultOptions()
	opts.Lambda = -0.1
	_, err = e.SearchWithMMR(ctx, "query", opts)
	assert.True(t, kberr.IsKind(err, kberr.KindInvalidArgument))
}

func TestEngineSearchVector(t *testing.T) {
	backend := &fakeBackend{vectorHits: hits("a", "b")}
	e := newTestEngine(backend)

	results, err := e.SearchVector(context.Background(), "some query", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, 1, results[0].VectorRank)
	assert.Zero(t, results[0].KeywordRank)
}

func TestEngineSearchKeyword(t *testing.T) {
	backend := &fakeBackend{keywordHits: hits("k1", "k2")}
	e := newTestEngine(backend)

	results, err := e.SearchKeyword(context.Background(), "some query", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "k1", results[0].ID)
	assert.Equal(t, 1, results[0].KeywordRank)
}

func TestEngineHybridFusesBothSources(t *testing.T) {
	backend := &fakeBackend{
		vectorHits:  hits("shared", "veconly"),
		keywordHits: hits("shared", "kwonly"),
	}
	e := newTestEngine(backend)

	results, err := e.SearchHybrid(context.Background(), "some query", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "shared", results[0].ID)
}

func TestEngineHybridDegradesWhenOneSourceFails(t *testing.T) {
	backend := &fakeBackend{
		vectorFailures: 10, // fails beyond the retry budget
		keywordHits:    hits("k1"),
	}
	e := newTestEngine(backend)

	results, err := e.SearchHybrid(context.Background(), "some query", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "k1", results[0].ID)
}

func TestEngineRetriesTransientFailure(t *testing.T) {
	backend := &fakeBackend{
		vectorHits:     hits("a"),
		vectorFailures: 1, // first call fails, retry succeeds
	}
	e := newTestEngine(backend)

	results, err := e.SearchVector(context.Background(), "some query", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&backend.vectorCalls))
}

func TestEngineBothSourcesFailing(t *testing.T) {
	backend := &fakeBackend{vectorFailures: 10, keywordFailures: 10}
	e := newTestEngine(backend)

	_, err := e.SearchHybrid(context.Background(), "some query", DefaultOptions())
	require.Error(t, err)
	assert.True(t, kberr.IsKind(err, kberr.KindBackendUnavailable))
}

func TestEngineTopKTruncation(t *testing.T) {
	backend := &fakeBackend{
		vectorHits:  hits("a", "b", "c", "d", "e"),
		keywordHits: hits("f", "g"),
	}
	e := newTestEngine(backend)

	opts := DefaultOptions()
	opts.TopK = 3
	results, err := e.SearchHybrid(context.Background(), "some query", opts)
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestEngineSearchWithMMRDiversifies(t *testing.T) {
	backend := &fakeBackend{
		vectorHits: hits("a", "b", "c"),
		embeddings: map[string][]float32{
			"a": {1, 0, 0},
			"b": {0.995, -0.0998, 0},
			"c": {0.5, 0.866, 0},
		},
	}
	// A custom embedder keeps the query embedding deterministic.
	e := NewEngine(backend, &fixedEmbedder{vector: []float32{1, 0.2, 0}}, WithRetryConfig(fastRetry()))

	opts := DefaultOptions()
	opts.TopK = 2
	opts.Lambda = 0.5
	results, err := e.SearchWithMMR(context.Background(), "some query", opts)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
}

func TestEngineSearchWithMMRVectorPool(t *testing.T) {
	backend := &fakeBackend{
		vectorHits:  hits("a", "b"),
		keywordHits: hits("kwonly"),
		embeddings: map[string][]float32{
			"a": {1, 0, 0},
			"b": {0, 1, 0},
		},
	}
	e := NewEngine(backend, &fixedEmbedder{vector: []float32{1, 0, 0}}, WithRetryConfig(fastRetry()))

	opts := DefaultOptions()
	opts.TopK = 2
	opts.MMRPool = PoolVector
	results, err := e.SearchWithMMR(context.Background(), "some query", opts)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// A pure-vector pool never touches the keyword source.
	assert.Zero(t, atomic.LoadInt32(&backend.keywordCalls))
	for _, r := range results {
		assert.NotEqual(t, "kwonly", r.ID)
	}
}

func TestEngineRejectsBadMMRPool(t *testing.T) {
	e := newTestEngine(&fakeBackend{})

	opts := DefaultOptions()
	opts.MMRPool = "sideways"
	_, err := e.SearchWithMMR(context.Background(), "query", opts)
	assert.True(t, kberr.IsKind(err, kberr.KindInvalidArgument))
}

// fixedEmbedder returns the same vector for every text.
type fixedEmbedder struct {
	vector []float32
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) { return f.vector, nil }

func (f *fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vector
	}
	return out, nil
}

func (f *fixedEmbedder) Dimensions() int                { return len(f.vector) }
func (f *fixedEmbedder) ModelName() string              { return "fixed" }
func (f *fixedEmbedder) Available(context.Context) bool { return true }
func (f *fixedEmbedder) Close() error                   { return nil }

var _ embed.Embedder = (*fixedEmbedder)(nil)
