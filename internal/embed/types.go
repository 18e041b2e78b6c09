// Package embed defines the Embedder interface consumed by the knowledge
// base core, a deterministic hash-based reference implementation, and an
// LRU-cached wrapper.
package embed

import (
	"context"
	"math"
)

// Embedding defaults.
const (
	// DefaultDimensions is the dimension of the hashing embedder.
	DefaultDimensions = 256

	// DefaultBatchSize is the default batch size for embedding requests.
	DefaultBatchSize = 32

	// DefaultEmbeddingCacheSize is the default number of cached embeddings.
	DefaultEmbeddingCacheSize = 1000
)

// Embedder generates vector embeddings for text. Implementations must
// return unit-length vectors of a fixed dimension.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder is ready.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector normalizes a vector to unit length.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}

// finiteVector reports whether v has no NaN or Inf components.
func finiteVector(v []float32) bool {
	for _, val := range v {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// zeroVector reports whether v is empty or all zeros.
func zeroVector(v []float32) bool {
	for _, val := range v {
		if val != 0 {
			return false
		}
	}
	return true
}
