// Package bloom implements a cache whose seen markers live in a Bloom
// filter. Stored responses are kept in memory. Markers may report false
// positives, so a small fraction of never-fetched URIs can be skipped as
// duplicates; false negatives never occur.
package bloom

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/JakeFAU/gif-crawler/internal/cache/memory"
	"github.com/JakeFAU/gif-crawler/internal/crawler"
)

var _ crawler.Cache = (*Cache)(nil)

// Config sizes the filter.
type Config struct {
	ExpectedItems     uint
	FalsePositiveRate float64
}

// Cache combines a Bloom filter for markers with a memory cache for bodies.
type Cache struct {
	mu        sync.Mutex
	seen      *bloom.BloomFilter
	markers   int
	responses *memory.Cache
}

// New builds a cache sized for cfg. Zero values fall back to 100k items at 1%.
func New(cfg Config) *Cache {
	n := cfg.ExpectedItems
	if n == 0 {
		n = 100_000
	}
	fp := cfg.FalsePositiveRate
	if fp <= 0 || fp >= 1 {
		fp = 0.01
	}
	return &Cache{
		seen:      bloom.NewWithEstimates(n, fp),
		responses: memory.New(),
	}
}

// Lookup checks stored responses first, then the filter.
func (c *Cache) Lookup(key string) (crawler.CacheEntry, bool) {
	if entry, ok := c.responses.Lookup(key); ok {
		return entry, true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen.TestString(key) {
		return crawler.CacheEntry{}, true
	}
	return crawler.CacheEntry{}, false
}

// Store keeps resp in memory and marks key in the filter. A key that is
// only marked gets its response; a stored response is never replaced.
func (c *Cache) Store(key string, resp *crawler.Response) bool {
	if resp == nil {
		return c.MarkSeen(key)
	}
	if !c.responses.Store(key, resp) {
		return false
	}
	c.mu.Lock()
	c.seen.AddString(key)
	c.mu.Unlock()
	return true
}

// MarkSeen adds key to the filter unless it tests present.
func (c *Cache) MarkSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seen.TestAndAddString(key) {
		return false
	}
	c.markers++
	return true
}

// Len returns the number of stored responses plus markers added.
func (c *Cache) Len() int {
	c.mu.Lock()
	markers := c.markers
	c.mu.Unlock()
	return markers + c.responses.Len()
}
