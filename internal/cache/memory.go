package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ppiankov/markxiv/internal/metrics"
)

// MemoryCache is a fixed-capacity LRU of markdown keyed by canonical key.
// It is safe for concurrent use; all operations serialize on one lock.
type MemoryCache struct {
	lru *lru.Cache[string, string]
}

// NewMemoryCache creates a memory cache holding at most capacity entries (minimum 1)
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity < 1 {
		capacity = 1
	}
	// lru.New only fails for non-positive sizes.
	c, _ := lru.New[string, string](capacity)
	return &MemoryCache{lru: c}
}

// Get returns the value for key and marks it most recently used
func (c *MemoryCache) Get(key string) (string, bool) {
	value, ok := c.lru.Get(key)
	if ok {
		metrics.CacheLookups.WithLabelValues(metrics.TierMemory, "hit").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues(metrics.TierMemory, "miss").Inc()
	}
	return value, ok
}

// Put stores value, evicting the least recently used entry when full
func (c *MemoryCache) Put(key, value string) {
	c.lru.Add(key, value)
}

// Len returns the number of cached entries
func (c *MemoryCache) Len() int {
	return c.lru.Len()
}
