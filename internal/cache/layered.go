package cache

import (
	"go.uber.org/zap"

	"github.com/ppiankov/markxiv/internal/logging"
)

// LayeredCache fronts an optional durable tier with the memory LRU.
// Disk tier failures never surface: a read error is a miss and a write
// error is logged.
type LayeredCache struct {
	memory *MemoryCache
	disk   Tier
	logger *zap.Logger
}

// NewLayeredCache creates a layered cache. disk may be nil to run memory-only.
func NewLayeredCache(memory *MemoryCache, disk Tier, logger *zap.Logger) *LayeredCache {
	return &LayeredCache{
		memory: memory,
		disk:   disk,
		logger: logging.OrNop(logger),
	}
}

// Get checks memory, then disk; a disk hit is promoted into memory
func (c *LayeredCache) Get(key string) (string, bool) {
	if value, ok := c.memory.Get(key); ok {
		return value, true
	}
	if c.disk == nil {
		return "", false
	}

	value, ok, err := c.disk.Get(key)
	if err != nil {
		c.logger.Warn("disk cache read error", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if !ok {
		return "", false
	}
	c.memory.Put(key, value)
	return value, true
}

// Set stores value in both tiers
func (c *LayeredCache) Set(key, value string) {
	c.memory.Put(key, value)
	if c.disk == nil {
		return
	}
	if err := c.disk.Put(key, value); err != nil {
		c.logger.Warn("disk cache write error", zap.String("key", key), zap.Error(err))
	}
}
