package cache

import (
	"strings"
	"sync"
	"time"
)

// TTLCache is a TTL map cache with LRU eviction. It is the only mutable
// shared state in the analysis core; values stored in it must be immutable
// once constructed so reads can share them by reference.
type TTLCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	maxEntries int
	stats      Stats

	stopCh   chan struct{}
	stopOnce sync.Once
}

type cacheEntry struct {
	value    interface{}
	expires  time.Time
	accessed time.Time
}

// Stats reports cache performance counters.
type Stats struct {
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Evictions     int64 `json:"evictions"`
	Invalidations int64 `json:"invalidations"`
	Entries       int64 `json:"entries"`
}

// NewTTLCache creates a cache bounded to maxEntries and starts its cleanup
// goroutine. Call Stop when done.
func NewTTLCache(maxEntries int) *TTLCache {
	c := &TTLCache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		stopCh:     make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get retrieves a value if present and not expired.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		c.stats.Misses++
		return nil, false
	}

	entry.accessed = time.Now()
	c.stats.Hits++
	return entry.value, true
}

// peek retrieves a value without touching the hit/miss counters or the
// access time. Used for re-checks after a counted Get already recorded
// the lookup.
func (c *TTLCache) peek(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.value, true
}

// Set stores a value with the given TTL, evicting the least recently
// accessed entry if the cache is full.
func (c *TTLCache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	c.entries[key] = &cacheEntry{
		value:    value,
		expires:  time.Now().Add(ttl),
		accessed: time.Now(),
	}
}

// Invalidate removes a single key.
func (c *TTLCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		c.stats.Invalidations++
	}
}

// InvalidatePrefix removes every key with the given prefix. Wallet mutations
// use this to drop all cached views of one wallet in a single call.
func (c *TTLCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			c.stats.Invalidations++
		}
	}
}

// Stats returns a copy of the performance counters.
func (c *TTLCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := c.stats
	s.Entries = int64(len(c.entries))
	return s
}

// Stop shuts down the cleanup goroutine. Safe to call more than once.
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// evictLRU removes the least recently accessed entry. Caller holds the
// write lock.
func (c *TTLCache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.accessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.accessed
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

func (c *TTLCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.removeExpired()
		}
	}
}

func (c *TTLCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expires) {
			delete(c.entries, key)
		}
	}
}
