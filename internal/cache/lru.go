// Package cache provides the bounded caches used throughout knova: a
// generic LRU with hit/miss accounting and a semantic query-result cache
// keyed by embedding similarity.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 1024

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size        int     `json:"size"`
	Capacity    int     `json:"capacity"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Utilization float64 `json:"utilization"`
	HitRate     float64 `json:"hit_rate"`
}

// LRU is a thread-safe bounded map with least-recently-used eviction.
// Get promotes the key to most-recently-used; Put on a full cache evicts
// the least-recently-used entry. Values are returned as stored; callers
// must not mutate values that are shared across goroutines.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	inner    *lru.Cache[K, V]
	capacity int
	hits     uint64
	misses   uint64
}

// NewLRU creates an LRU cache with the given capacity.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	inner, _ := lru.New[K, V](capacity)
	return &LRU[K, V]{inner: inner, capacity: capacity}
}

// Get returns the value for key, promoting it to most-recently-used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.inner.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return v, ok
}

// Put inserts or refreshes a key. When the cache is full the
// least-recently-used entry is evicted.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, value)
}

// Contains reports whether key is present without promoting it.
func (c *LRU[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Contains(key)
}

// Clear removes all entries. Counters are preserved.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}

// Stats returns a snapshot of size, capacity, and hit/miss counters.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	size := c.inner.Len()
	s := Stats{
		Size:     size,
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
	if c.capacity > 0 {
		s.Utilization = float64(size) / float64(c.capacity)
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}
