package cache

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache keeps artifacts in process memory until ttl passes.
// Artifacts larger than maxEntry bytes are never kept; zero means no limit.
type MemoryCache struct {
	items    *gocache.Cache
	maxEntry int

	hits    atomic.Uint64
	misses  atomic.Uint64
	skipped atomic.Uint64
}

// NewMemoryCache creates a cache whose entries expire after ttl. A zero ttl
// keeps entries for the life of the process.
func NewMemoryCache(ttl time.Duration, maxEntry int) *MemoryCache {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	janitor := 2 * ttl
	if ttl == gocache.NoExpiration {
		janitor = 0
	}
	return &MemoryCache{items: gocache.New(ttl, janitor), maxEntry: maxEntry}
}

// Get returns a private copy of the artifact at path
func (c *MemoryCache) Get(path string) ([]byte, bool) {
	v, ok := c.items.Get(Key(path))
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return append([]byte(nil), v.([]byte)...), true
}

// Set keeps a copy of data unless it exceeds the entry limit
func (c *MemoryCache) Set(path string, data []byte) {
	if c.maxEntry > 0 && len(data) > c.maxEntry {
		c.skipped.Add(1)
		c.items.Delete(Key(path))
		return
	}
	c.items.SetDefault(Key(path), append([]byte(nil), data...))
}

// Forget drops path from the cache
func (c *MemoryCache) Forget(path string) {
	c.items.Delete(Key(path))
}

// Stats reports lookup counters and the live entry count
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Skipped: c.skipped.Load(),
		Entries: c.items.ItemCount(),
	}
}
