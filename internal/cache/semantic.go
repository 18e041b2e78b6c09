package cache

import (
	"container/list"
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

// Semantic cache defaults.
const (
	DefaultSemanticMaxEntries          = 1000
	DefaultSemanticSimilarityThreshold = 0.95
	DefaultSemanticTTL                 = time.Hour
)

// SemanticConfig configures a SemanticCache.
type SemanticConfig struct {
	// MaxEntries bounds the cache; LRU eviction on overflow.
	MaxEntries int

	// SimilarityThreshold is the minimum cosine similarity for a hit.
	SimilarityThreshold float64

	// TTL is the entry lifetime. Expired entries are dropped lazily.
	TTL time.Duration
}

// DefaultSemanticConfig returns sensible semantic cache defaults.
func DefaultSemanticConfig() SemanticConfig {
	return SemanticConfig{
		MaxEntries:          DefaultSemanticMaxEntries,
		SimilarityThreshold: DefaultSemanticSimilarityThreshold,
		TTL:                 DefaultSemanticTTL,
	}
}

// SemanticMetrics are cumulative counters for cache observability.
type SemanticMetrics struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// semanticEntry is one cached (query, embedding, value) triple.
type semanticEntry[V any] struct {
	text      string
	embedding []float32
	value     V
	createdAt time.Time
}

// SemanticCache stores query results keyed by the query embedding. Lookup
// first tries an exact text match, then a linear cosine scan over the
// non-expired entries; the best entry wins iff its similarity reaches the
// configured threshold. Ties go to the most recent entry.
type SemanticCache[V any] struct {
	mu      sync.Mutex
	cfg     SemanticConfig
	order   *list.List               // front = most recently used
	entries map[string]*list.Element // normalized text -> element
	metrics SemanticMetrics
	now     func() time.Time
}

// NewSemanticCache creates a semantic cache with the given configuration.
func NewSemanticCache[V any](cfg SemanticConfig) *SemanticCache[V] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultSemanticMaxEntries
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSemanticSimilarityThreshold
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSemanticTTL
	}
	return &SemanticCache[V]{
		cfg:     cfg,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// normalizeQuery canonicalizes query text for exact-match lookups.
func normalizeQuery(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Put inserts or refreshes an entry. When the cache is over capacity the
// least-recently-used entry is evicted.
func (c *SemanticCache[V]) Put(text string, embedding []float32, value V) {
	key := normalizeQuery(text)
	if key == "" {
		return
	}

	emb := make([]float32, len(embedding))
	copy(emb, embedding)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*semanticEntry[V])
		entry.embedding = emb
		entry.value = value
		entry.createdAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&semanticEntry[V]{
		text:      text,
		embedding: emb,
		value:     value,
		createdAt: c.now(),
	})
	c.entries[key] = el

	for c.order.Len() > c.cfg.MaxEntries {
		c.evictOldest()
	}
}

// Get looks up a result for the query. An exact, non-expired text match
// returns with similarity 1.0. Otherwise the non-expired entries are
// scanned for the maximum cosine similarity to embedding; a hit requires
// that maximum to be at least the configured threshold. Returns the cached
// value, the similarity, and the matched query text.
func (c *SemanticCache[V]) Get(text string, embedding []float32) (V, float64, string, bool) {
	var zero V
	key := normalizeQuery(text)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	// Exact-match fast path.
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*semanticEntry[V])
		if c.expired(entry, now) {
			c.remove(el, entry)
		} else {
			c.order.MoveToFront(el)
			c.metrics.Hits++
			return entry.value, 1.0, entry.text, true
		}
	}

	// Linear similarity scan, most recent first so ties favor recency.
	var (
		best    *list.Element
		bestSim = -1.0
	)
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		entry := el.Value.(*semanticEntry[V])
		if c.expired(entry, now) {
			c.remove(el, entry)
			el = next
			continue
		}
		if sim := cosineSimilarity(embedding, entry.embedding); sim > bestSim {
			bestSim = sim
			best = el
		}
		el = next
	}

	if best == nil || bestSim < c.cfg.SimilarityThreshold {
		c.metrics.Misses++
		return zero, 0, "", false
	}

	entry := best.Value.(*semanticEntry[V])
	c.order.MoveToFront(best)
	c.metrics.Hits++
	return entry.value, bestSim, entry.text, true
}

// Warm batch-populates the cache from a list of queries: each query is
// embedded, executed, and stored. Individual failures are skipped.
func (c *SemanticCache[V]) Warm(
	ctx context.Context,
	queries []string,
	embedFn func(ctx context.Context, text string) ([]float32, error),
	queryFn func(ctx context.Context, text string, embedding []float32) (V, error),
) int {
	warmed := 0
	for _, q := range queries {
		if ctx.Err() != nil {
			break
		}
		emb, err := embedFn(ctx, q)
		if err != nil {
			continue
		}
		result, err := queryFn(ctx, q, emb)
		if err != nil {
			continue
		}
		c.Put(q, emb, result)
		warmed++
	}
	return warmed
}

// Len returns the number of live entries.
func (c *SemanticCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes all entries.
func (c *SemanticCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// Metrics returns a snapshot of the cache counters.
func (c *SemanticCache[V]) Metrics() SemanticMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

func (c *SemanticCache[V]) expired(entry *semanticEntry[V], now time.Time) bool {
	return now.Sub(entry.createdAt) > c.cfg.TTL
}

func (c *SemanticCache[V]) evictOldest() {
	el := c.order.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*semanticEntry[V])
	c.remove(el, entry)
	c.metrics.Evictions++
}

func (c *SemanticCache[V]) remove(el *list.Element, entry *semanticEntry[V]) {
	c.order.Remove(el)
	delete(c.entries, normalizeQuery(entry.text))
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
