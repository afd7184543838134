package api

import (
	"sync"
	"time"
)

// ResponseCache is a TTL cache for read-endpoint payloads. The clock is
// injected so expiry is testable without wall-clock dependence. A zero TTL
// disables caching entirely.
type ResponseCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	at   time.Time
	body []byte
}

// NewResponseCache builds a cache with the given TTL; a nil clock uses time.Now.
func NewResponseCache(ttl time.Duration, now func() time.Time) *ResponseCache {
	if now == nil {
		now = time.Now
	}
	return &ResponseCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached payload when present and fresh.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	if c == nil || c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.at) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.body, true
}

// Set stores a payload under the key.
func (c *ResponseCache) Set(key string, body []byte) {
	if c == nil || c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{at: c.now(), body: body}
}
