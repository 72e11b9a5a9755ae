package utils

import (
	"sync"
	"time"
)

type ttlEntry[V any] struct {
	value   V
	expires time.Time
}

// TTLCache is a small thread-safe map whose entries expire after a fixed TTL.
// Components receive their own instance instead of sharing process globals.
type TTLCache[K comparable, V any] struct {
	mu         sync.RWMutex
	ttl        time.Duration
	maxEntries int
	entries    map[K]ttlEntry[V]

	// now is swapped in tests
	now func() time.Time
}

// NewTTLCache creates a cache. maxEntries <= 0 means unbounded.
func NewTTLCache[K comparable, V any](ttl time.Duration, maxEntries int) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[K]ttlEntry[V]),
		now:        time.Now,
	}
}

// Get returns the cached value if it has not expired
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || !c.now().Before(entry.expires) {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Set stores a value, sweeping expired entries when the cache is full
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		for k, e := range c.entries {
			if !now.Before(e.expires) {
				delete(c.entries, k)
			}
		}
		// Still full: drop everything rather than grow without bound
		if len(c.entries) >= c.maxEntries {
			c.entries = make(map[K]ttlEntry[V])
		}
	}

	c.entries[key] = ttlEntry[V]{value: value, expires: now.Add(c.ttl)}
}

// Delete removes a single key
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Reset drops every entry
func (c *TTLCache[K, V]) Reset() {
	c.mu.Lock()
	c.entries = make(map[K]ttlEntry[V])
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired or not
func (c *TTLCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
