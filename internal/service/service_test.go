package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knovalab/knova/internal/config"
	"github.com/knovalab/knova/internal/embed"
	"github.com/knovalab/knova/internal/kberr"
	"github.com/knovalab/knova/internal/metrics"
	"github.com/knovalab/knova/internal/project"
	"github.com/knovalab/knova/internal/store"
)

const testDims = 64

func newTestService(t *testing.T, mutate ...func(*config.Config)) *Service {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Backend.DataDir = t.TempDir()
	for _, m := range mutate {
		m(cfg)
	}

	manager := project.NewManager(
		func(_ context.Context, _ *project.Project) (store.VectorBackend, error) {
			return store.NewEmbeddedBackend(store.EmbeddedConfig{Dimensions: testDims})
		},
		func(string) (embed.Embedder, error) {
			return embed.NewHashingEmbedderWithDimensions(testDims), nil
		},
	)

	svc, err := New(cfg, manager, metrics.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func createProject(t *testing.T, svc *Service, name string) *project.Project {
	t.Helper()
	p, err := svc.CreateProject(context.Background(), project.CreateParams{Name: name})
	require.NoError(t, err)
	return p
}

func ingestDocs(t *testing.T, svc *Service, projectID string, docs ...IngestDocument) *IngestResponse {
	t.Helper()
	resp, err := svc.Ingest(context.Background(), IngestRequest{
		ProjectID: projectID,
		Documents: docs,
	})
	require.NoError(t, err)
	return resp
}

func TestIngestAndQuery(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")

	resp := ingestDocs(t, svc, p.ID,
		IngestDocument{Title: "audio", Text: "librosa loads audio files for spectral analysis"},
		IngestDocument{Title: "http", Text: "the http server exposes the query endpoint"},
	)
	assert.Equal(t, 2, resp.Succeeded)
	assert.Zero(t, resp.Failed)
	require.Len(t, resp.Items, 2)
	assert.NotEmpty(t, resp.Items[0].DocID)
	assert.Greater(t, resp.Items[0].Chunks, 0)

	// The repository tracks the chunk ids behind each document.
	doc, err := svc.GetDocument(p.ID, resp.Items[0].DocID)
	require.NoError(t, err)
	assert.Len(t, doc.ChunkIDs, resp.Items[0].Chunks)

	out, err := svc.Query(context.Background(), QueryRequest{
		ProjectID: p.ID,
		Query:     "librosa audio",
		SkipCache: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.Results)
	assert.False(t, out.Cached)
}

func TestQueryServedFromCache(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	ingestDocs(t, svc, p.ID, IngestDocument{Text: "caching keeps repeated queries fast"})

	req := QueryRequest{ProjectID: p.ID, Query: "repeated queries"}
	first, err := svc.Query(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := svc.Query(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 1.0, second.Similarity)
	assert.Equal(t, len(first.Results), len(second.Results))
}

func TestIngestInvalidatesCache(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	ingestDocs(t, svc, p.ID, IngestDocument{Text: "original content about parsers"})

	req := QueryRequest{ProjectID: p.ID, Query: "parsers"}
	_, err := svc.Query(context.Background(), req)
	require.NoError(t, err)

	ingestDocs(t, svc, p.ID, IngestDocument{Text: "new content about parsers and lexers"})

	after, err := svc.Query(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, after.Cached)
}

func TestQueryFilteredRequestsBypassCache(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	ingestDocs(t, svc, p.ID,
		IngestDocument{Text: "guide in english", Metadata: map[string]string{"lang": "en"}})

	req := QueryRequest{
		ProjectID: p.ID,
		Query:     "guide",
		Filter:    map[string]string{"lang": "en"},
	}
	first, err := svc.Query(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.Query(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.False(t, second.Cached)
}

func TestQueryModes(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	ingestDocs(t, svc, p.ID, IngestDocument{Text: "vector and keyword retrieval modes"})

	for _, mode := range []string{ModeVector, ModeKeyword, ModeHybrid, ModeMMR, ""} {
		_, err := svc.Query(context.Background(), QueryRequest{
			ProjectID: p.ID,
			Query:     "retrieval modes",
			Mode:      mode,
			SkipCache: true,
		})
		require.NoError(t, err, "mode %q", mode)
	}

	_, err := svc.Query(context.Background(), QueryRequest{
		ProjectID: p.ID,
		Query:     "retrieval modes",
		Mode:      "telepathy",
		SkipCache: true,
	})
	assert.True(t, kberr.IsKind(err, kberr.KindInvalidArgument))
}

func floatPtr(v float64) *float64 { return &v }

func TestQueryExplicitZeroWeights(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	ingestDocs(t, svc, p.ID,
		IngestDocument{Text: "keyword ranking favors exact matches"},
		IngestDocument{Text: "vector ranking favors semantic neighbors"},
	)

	// alpha=0 is a valid request for pure keyword weighting, not "unset".
	out, err := svc.Query(context.Background(), QueryRequest{
		ProjectID: p.ID,
		Query:     "keyword ranking",
		Alpha:     floatPtr(0),
		SkipCache: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "keyword ranking favors exact matches", out.Results[0].Text)

	// lambda=0 selects pure diversity in MMR.
	_, err = svc.Query(context.Background(), QueryRequest{
		ProjectID: p.ID,
		Query:     "ranking",
		Mode:      ModeMMR,
		Lambda:    floatPtr(0),
		SkipCache: true,
	})
	require.NoError(t, err)
}

func TestQueryMMRModeSelectsPool(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	ingestDocs(t, svc, p.ID, IngestDocument{Text: "diverse retrieval over a vector pool"})

	_, err := svc.Query(context.Background(), QueryRequest{
		ProjectID: p.ID,
		Query:     "vector pool",
		Mode:      ModeMMR,
		MMRMode:   "vector",
		SkipCache: true,
	})
	require.NoError(t, err)

	_, err = svc.Query(context.Background(), QueryRequest{
		ProjectID: p.ID,
		Query:     "vector pool",
		Mode:      ModeMMR,
		MMRMode:   "sideways",
		SkipCache: true,
	})
	assert.True(t, kberr.IsKind(err, kberr.KindInvalidArgument))
}

func TestQueryUnknownProject(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Query(context.Background(), QueryRequest{
		ProjectID: "missing",
		Query:     "anything",
	})
	assert.True(t, kberr.IsKind(err, kberr.KindNotFound))
}

func TestIngestPartialFailure(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")

	resp := ingestDocs(t, svc, p.ID,
		IngestDocument{Text: "a perfectly fine document"},
		IngestDocument{Text: ""},
	)
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	require.NotNil(t, resp.Items[1].Error)
	assert.Equal(t, string(kberr.KindInvalidArgument), resp.Items[1].Error.ErrorKind)
}

func TestIngestDispatchesSemanticChunking(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	ingestDocs(t, svc, p.ID, IngestDocument{
		Text: "Vectors encode meaning. Similar sentences cluster together. " +
			"Boundaries appear where similarity drops. This is the core idea. " +
			"It works on plain prose. No markup is needed.",
	})

	out, err := svc.Query(context.Background(), QueryRequest{
		ProjectID: p.ID,
		Query:     "vectors encode meaning",
		SkipCache: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.Results)
	assert.Equal(t, "semantic", out.Results[0].Metadata["chunking_strategy"])
}

func TestIngestFailureLeavesNoRecord(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")

	// Whitespace-only text passes the empty check but produces zero
	// chunks, failing after the record was registered.
	resp := ingestDocs(t, svc, p.ID, IngestDocument{Text: "   \n\t  "})
	assert.Equal(t, 1, resp.Failed)
	require.NotNil(t, resp.Items[0].Error)

	docs, err := svc.ListDocuments(p.ID)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentRecordsSurviveServiceRestart(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Backend.DataDir = t.TempDir()

	manager := project.NewManager(
		func(_ context.Context, _ *project.Project) (store.VectorBackend, error) {
			return store.NewEmbeddedBackend(store.EmbeddedConfig{Dimensions: testDims})
		},
		func(string) (embed.Embedder, error) {
			return embed.NewHashingEmbedderWithDimensions(testDims), nil
		},
	)
	t.Cleanup(func() { _ = manager.Close() })

	first, err := New(cfg, manager, metrics.NewRegistry())
	require.NoError(t, err)
	p, err := first.CreateProject(context.Background(), project.CreateParams{Name: "docs"})
	require.NoError(t, err)
	resp, err := first.Ingest(context.Background(), IngestRequest{
		ProjectID: p.ID,
		Documents: []IngestDocument{{Title: "kept", Text: "records outlive the facade"}},
	})
	require.NoError(t, err)
	docID := resp.Items[0].DocID

	// A fresh facade over the same data directory restores the records.
	second, err := New(cfg, manager, metrics.NewRegistry())
	require.NoError(t, err)
	doc, err := second.GetDocument(p.ID, docID)
	require.NoError(t, err)
	assert.Equal(t, "kept", doc.Title)
	assert.Len(t, doc.ChunkIDs, resp.Items[0].Chunks)
}

func TestIngestEmptyBatch(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")

	_, err := svc.Ingest(context.Background(), IngestRequest{ProjectID: p.ID})
	assert.True(t, kberr.IsKind(err, kberr.KindInvalidArgument))
}

func TestDeleteDocumentsRequiresSelector(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")

	_, err := svc.DeleteDocuments(context.Background(), p.ID, nil, nil)
	assert.True(t, kberr.IsKind(err, kberr.KindInvalidArgument))
}

func TestDeleteDocumentsByID(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	resp := ingestDocs(t, svc, p.ID, IngestDocument{Text: "to be removed"})
	docID := resp.Items[0].DocID

	deleted, err := svc.DeleteDocuments(context.Background(), p.ID, []string{docID}, nil)
	require.NoError(t, err)
	assert.Equal(t, resp.Items[0].Chunks, deleted)

	_, err = svc.GetDocument(p.ID, docID)
	assert.True(t, kberr.IsKind(err, kberr.KindNotFound))
}

func TestDeleteDocumentsByFilter(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	ingestDocs(t, svc, p.ID,
		IngestDocument{Text: "english guide", Metadata: map[string]string{"lang": "en"}},
		IngestDocument{Text: "spanish guide", Metadata: map[string]string{"lang": "es"}},
	)

	deleted, err := svc.DeleteDocuments(context.Background(), p.ID, nil, map[string]string{"lang": "es"})
	require.NoError(t, err)
	assert.Greater(t, deleted, 0)
}

func TestCreateProjectRateLimit(t *testing.T) {
	svc := newTestService(t, func(c *config.Config) {
		c.RateLimits.CreatePerMinute = 2
	})

	createProject(t, svc, "one")
	createProject(t, svc, "two")
	_, err := svc.CreateProject(context.Background(), project.CreateParams{Name: "three"})
	assert.True(t, kberr.IsKind(err, kberr.KindRateLimited))
}

func TestQueryRateLimitIsPerProject(t *testing.T) {
	svc := newTestService(t, func(c *config.Config) {
		c.RateLimits.QueryPerMinute = 1
	})
	a := createProject(t, svc, "alpha")
	b := createProject(t, svc, "beta")
	ingestDocs(t, svc, a.ID, IngestDocument{Text: "content"})
	ingestDocs(t, svc, b.ID, IngestDocument{Text: "content"})

	_, err := svc.Query(context.Background(), QueryRequest{ProjectID: a.ID, Query: "content", SkipCache: true})
	require.NoError(t, err)
	_, err = svc.Query(context.Background(), QueryRequest{ProjectID: a.ID, Query: "content", SkipCache: true})
	assert.True(t, kberr.IsKind(err, kberr.KindRateLimited))

	// The other project's budget is untouched.
	_, err = svc.Query(context.Background(), QueryRequest{ProjectID: b.ID, Query: "content", SkipCache: true})
	require.NoError(t, err)
}

func TestStatusReportsProjects(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	ingestDocs(t, svc, p.ID, IngestDocument{Text: "a document"})

	statuses := svc.Status(context.Background())
	require.Len(t, statuses, 1)
	assert.Equal(t, p.ID, statuses[0].ProjectID)
	assert.True(t, statuses[0].Healthy)
	assert.Greater(t, statuses[0].Documents, 0)
}

func TestMetricsDumpAfterTraffic(t *testing.T) {
	svc := newTestService(t)
	p := createProject(t, svc, "docs")
	ingestDocs(t, svc, p.ID, IngestDocument{Text: "observable content"})
	_, err := svc.Query(context.Background(), QueryRequest{ProjectID: p.ID, Query: "observable"})
	require.NoError(t, err)

	dump, err := svc.MetricsDump()
	require.NoError(t, err)
	assert.Contains(t, dump, "project_queries_total")
	assert.Contains(t, dump, "project_ingests_total")
	assert.Contains(t, dump, "chunks_created_total")
}

func TestFromErrorShapes(t *testing.T) {
	structured := kberr.New(kberr.KindNotFound, "project missing").WithDetail("project_id", "p1")
	apiErr := FromError(structured)
	assert.Equal(t, "NotFound", apiErr.ErrorKind)
	assert.Equal(t, "project missing", apiErr.Message)
	assert.Equal(t, "p1", apiErr.Details["project_id"])

	plain := FromError(errors.New("pool exhausted: dsn=postgres://secret"))
	assert.Equal(t, "Internal", plain.ErrorKind)
	assert.Equal(t, "internal error", plain.Message)

	assert.Nil(t, FromError(nil))
}
