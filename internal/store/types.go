// Package store provides the vector backend abstraction and its two
// reference implementations: an embedded in-process backend (HNSW graph
// plus a bleve keyword index) and a relational backend on PostgreSQL
// with the pgvector extension.
package store

import (
	"context"
	"fmt"
	"time"
)

// Document is the stored unit: one chunk with its embedding and flat
// metadata.
type Document struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

// SearchResult is one scored hit from a backend query. Score is a
// similarity in [0, 1] for vector queries and a relevance score for
// keyword queries.
type SearchResult struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]string
}

// Stats describes the size of a backend.
type Stats struct {
	// Documents is the number of live documents.
	Documents int

	// IndexNodes is the number of nodes held by the vector index,
	// including lazily deleted ones.
	IndexNodes int

	// Orphans is IndexNodes minus Documents.
	Orphans int
}

// Health is the result of a backend health probe.
type Health struct {
	Healthy bool
	Detail  string
	Latency time.Duration
}

// VectorBackend is the storage interface the retrieval engine runs on.
// Implementations are safe for concurrent use.
type VectorBackend interface {
	// Initialize prepares the backend (creates tables, loads indexes).
	// It must be called before any other method.
	Initialize(ctx context.Context) error

	// AddDocuments upserts documents. A document with an existing ID
	// replaces the stored one.
	AddDocuments(ctx context.Context, docs []*Document) error

	// QueryVector returns the topK nearest documents to the embedding,
	// restricted to documents whose metadata contains every filter pair.
	QueryVector(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]*SearchResult, error)

	// QueryKeyword returns the topK best keyword matches for the query
	// text, restricted by the metadata filter.
	QueryKeyword(ctx context.Context, query string, topK int, filter map[string]string) ([]*SearchResult, error)

	// FetchEmbeddings returns the stored embeddings for the given ids.
	// Unknown ids are omitted from the result.
	FetchEmbeddings(ctx context.Context, ids []string) (map[string][]float32, error)

	// DeleteDocuments removes documents by id, by metadata filter, or
	// both, and returns the number removed.
	DeleteDocuments(ctx context.Context, ids []string, filter map[string]string) (int, error)

	// Stats returns backend size counters.
	Stats(ctx context.Context) (*Stats, error)

	// Health probes the backend.
	Health(ctx context.Context) Health

	// Close releases resources. The backend is unusable afterwards.
	Close() error
}

// ErrDimensionMismatch reports an embedding whose length does not match
// the backend's configured dimensionality.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

// matchesFilter reports whether metadata contains every key/value pair
// of filter. A nil or empty filter matches everything.
func matchesFilter(metadata, filter map[string]string) bool {
	for k, v := range filter {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// copyMetadata returns a defensive copy of m, or nil for empty input.
func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
