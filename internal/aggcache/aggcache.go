// Package aggcache provides a TTL cache for computed aggregate views.
//
// Entries are keyed by (view, agent, window, group_by), so a cached
// snapshot can never be served for a different window or grouping than
// the one it was computed for. The whole cache is invalidated on every
// trace ingestion; staleness within the TTL is acceptable for an
// observability surface.
package aggcache

import (
	"fmt"
	"sync"
	"time"
)

// Key identifies one cached view snapshot.
type Key struct {
	View        string
	Agent       string
	WindowHours int
	GroupBy     string
}

func (k Key) String() string {
	return fmt.Sprintf("%s|%s|%d|%s", k.View, k.Agent, k.WindowHours, k.GroupBy)
}

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache is a concurrency-safe TTL cache. The zero value is not usable;
// construct with New. A nil *Cache is a valid no-op cache.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
}

// New creates a cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key Key) (any, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key.String()]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.value, true
}

// Put stores a computed snapshot under key.
func (c *Cache) Put(key Key, value any) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.String()] = entry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// InvalidateAll drops every cached snapshot. Called on trace ingestion
// so no view reflects a pre-ingest store for longer than one request.
func (c *Cache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of entries, counting expired ones not yet
// overwritten.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
