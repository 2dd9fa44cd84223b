package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the MemoryCache capacity used when none is given.
const DefaultCapacity = 10000

// MemoryCache is an in-memory LRU cache with per-entry expiry.
// Expired entries are removed lazily on access or by capacity eviction.
type MemoryCache struct {
	entries *lru.Cache[string, memoryEntry]

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a cache holding at most capacity entries.
// A capacity <= 0 uses DefaultCapacity.
func NewMemoryCache(capacity int) (*MemoryCache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	entries, err := lru.New[string, memoryEntry](capacity)
	if err != nil {
		return nil, fmt.Errorf("cache: create lru: %w", err)
	}
	return &MemoryCache{entries: entries}, nil
}

// Get retrieves a value from the cache. Returns (nil, false) on miss or expiry.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	entry, ok := c.entries.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if !time.Now().Before(entry.expiresAt) {
		c.entries.Remove(key)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return entry.value, true
}

// Set stores a value with the given TTL. TTL <= 0 stores nothing.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := ValidateKey(key); err != nil {
		return err
	}

	if c.entries.Add(key, memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}) {
		c.evictions.Add(1)
	}
	c.sets.Add(1)
	return nil
}

// Delete removes a value from the cache. Idempotent.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.entries.Remove(key)
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	return c.entries.Len()
}

// Purge removes every entry.
func (c *MemoryCache) Purge() {
	c.entries.Purge()
}

// Stats returns the cache counters.
func (c *MemoryCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Evictions: c.evictions.Load(),
	}
}

var (
	_ Cache         = (*MemoryCache)(nil)
	_ StatsReporter = (*MemoryCache)(nil)
)
