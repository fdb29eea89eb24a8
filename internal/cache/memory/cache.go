// Package memory implements the write-once response cache in process memory.
// Entries are never evicted.
package memory

import (
	"sync"

	"github.com/JakeFAU/gif-crawler/internal/crawler"
)

var _ crawler.Cache = (*Cache)(nil)

// Cache maps request keys to a stored response or a seen marker.
// It is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]crawler.CacheEntry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[string]crawler.CacheEntry)}
}

// Lookup returns the entry for key. Stored responses are cloned so callers
// cannot mutate the cached copy.
func (c *Cache) Lookup(key string) (crawler.CacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return crawler.CacheEntry{}, false
	}
	return crawler.CacheEntry{Response: entry.Response.Clone()}, true
}

// Store records a copy of resp under key. A seen marker is upgraded to the
// response; an existing response is never replaced.
func (c *Cache) Store(key string, resp *crawler.Response) bool {
	if resp == nil {
		return c.MarkSeen(key)
	}
	stored := resp.Clone()
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, exists := c.entries[key]; exists && !entry.Seen() {
		return false
	}
	c.entries[key] = crawler.CacheEntry{Response: stored}
	return true
}

// MarkSeen records a marker under key unless key is already present.
func (c *Cache) MarkSeen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = crawler.CacheEntry{}
	return true
}

// Len returns the number of keys.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
