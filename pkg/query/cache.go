// Package query implements the Query Engine (spec.md §4.H): routing
// strategies over a primary/replica pair, a TTL'd result cache, historical
// state resolution, and aggregations, grounded on
// original_source/crates/query/src/aggregation.rs's query/cache shapes.
package query

import (
	"sync"
	"time"
)

type cacheEntry struct {
	value     any
	expiresAt time.Time
	insertedAt time.Time
}

// Cache is a TTL'd, size-bounded result cache. Eviction on overflow removes
// the oldest-inserted entry, not the soonest-to-expire one, per spec.md.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      []string
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
}

// NewCache constructs a cache with the given bound and default TTL.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns the cached value for key if present and unexpired. Expired
// entries are removed lazily, on lookup.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(entry.expiresAt) {
		c.removeLocked(key)
		return nil, false
	}
	return entry.value, true
}

// Set inserts or overwrites key, evicting the oldest-inserted entry first
// if the cache is at capacity.
func (c *Cache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists {
		if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = &cacheEntry{value: value, expiresAt: now.Add(c.ttl), insertedAt: now}
}

func (c *Cache) evictOldestLocked() {
	oldestIdx := -1
	var oldestAt time.Time
	for i, k := range c.order {
		entry, ok := c.entries[k]
		if !ok {
			continue
		}
		if oldestIdx == -1 || entry.insertedAt.Before(oldestAt) {
			oldestIdx = i
			oldestAt = entry.insertedAt
		}
	}
	if oldestIdx == -1 {
		return
	}
	key := c.order[oldestIdx]
	delete(c.entries, key)
	c.order = append(c.order[:oldestIdx], c.order[oldestIdx+1:]...)
}

func (c *Cache) removeLocked(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// EvictExpired proactively drops every expired entry.
func (c *Cache) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			c.removeLocked(key)
		}
	}
}

// Len reports the number of live (possibly expired but not yet evicted)
// entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
