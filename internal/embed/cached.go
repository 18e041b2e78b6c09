package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder wraps an Embedder with LRU caching to avoid redundant
// embedding computations. Vectors are unit-normalized before caching;
// zero-length or NaN vectors are never cached.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

// NewCachedEmbedder creates a cached embedder wrapping the given embedder.
// Cache size determines the number of unique embeddings kept in memory.
func NewCachedEmbedder(inner Embedder, cacheSize int) *CachedEmbedder {
	if cacheSize <= 0 {
		cacheSize = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](cacheSize)
	return &CachedEmbedder{
		inner: inner,
		cache: cache,
	}
}

// cacheKey generates a unique key for the cache based on model and text.
// SHA-256 gives consistent key length for arbitrary text.
func (c *CachedEmbedder) cacheKey(text string) string {
	combined := c.inner.ModelName() + "\x00" + text
	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}

// Embed returns a cached embedding if available, otherwise computes,
// normalizes, and caches it.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)

	if vec, ok := c.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if !finiteVector(vec) {
		return nil, fmt.Errorf("embedder %s returned non-finite vector for text of %d chars", c.inner.ModelName(), len(text))
	}
	if zeroVector(vec) {
		// Zero vectors carry no signal; return but never cache.
		return vec, nil
	}

	vec = normalizeVector(vec)
	c.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch generates embeddings for multiple texts. Cached texts are
// served from memory; the misses are embedded in a single inner batch and
// the results reassembled in input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	uncachedIndices := make([]int, 0, len(texts))
	uncachedTexts := make([]string, 0, len(texts))

	for i, text := range texts {
		if vec, ok := c.cache.Get(c.cacheKey(text)); ok {
			results[i] = vec
		} else {
			uncachedIndices = append(uncachedIndices, i)
			uncachedTexts = append(uncachedTexts, text)
		}
	}

	if len(uncachedTexts) == 0 {
		return results, nil
	}

	newEmbeddings, err := c.inner.EmbedBatch(ctx, uncachedTexts)
	if err != nil {
		return nil, err
	}
	if len(newEmbeddings) != len(uncachedTexts) {
		return nil, fmt.Errorf("embedder %s returned %d vectors for %d texts", c.inner.ModelName(), len(newEmbeddings), len(uncachedTexts))
	}

	for j, idx := range uncachedIndices {
		vec := newEmbeddings[j]
		if !finiteVector(vec) {
			return nil, fmt.Errorf("embedder %s returned non-finite vector at batch index %d", c.inner.ModelName(), j)
		}
		if zeroVector(vec) {
			results[idx] = vec
			continue
		}
		vec = normalizeVector(vec)
		results[idx] = vec
		c.cache.Add(c.cacheKey(texts[idx]), vec)
	}

	return results, nil
}

// Dimensions returns the embedding dimension (passthrough to inner).
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// ModelName returns the model identifier (passthrough to inner).
func (c *CachedEmbedder) ModelName() string {
	return c.inner.ModelName()
}

// Available checks if the embedder is ready (passthrough to inner).
func (c *CachedEmbedder) Available(ctx context.Context) bool {
	return c.inner.Available(ctx)
}

// Close releases resources and closes the inner embedder.
func (c *CachedEmbedder) Close() error {
	return c.inner.Close()
}

// Inner returns the underlying embedder.
func (c *CachedEmbedder) Inner() Embedder {
	return c.inner
}

// CacheLen returns the number of cached embeddings.
func (c *CachedEmbedder) CacheLen() int {
	return c.cache.Len()
}

var _ Embedder = (*CachedEmbedder)(nil)
