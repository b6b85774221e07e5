package bitable

import (
	"strings"
	"sync"
	"time"

	"github.com/okian/sheetsync/pkg/metrics"
)

type cacheEntry struct {
	value   any
	expires time.Time
}

// schemaCache is a TTL map. A zero ttl disables it.
type schemaCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

func newSchemaCache(ttl time.Duration, now func() time.Time) *schemaCache {
	return &schemaCache{ttl: ttl, now: now, entries: make(map[string]cacheEntry)}
}

func tablesKey(appToken string) string          { return "tables:" + appToken }
func fieldsKey(appToken, tableID string) string { return "fields:" + appToken + ":" + tableID }

func (c *schemaCache) get(key string) (any, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	hit := ok && c.now().Before(e.expires)
	metrics.RecordCacheLookup(strings.SplitN(key, ":", 2)[0], hit)
	if !hit {
		return nil, false
	}
	return e.value, true
}

func (c *schemaCache) set(key string, v any) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: v, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *schemaCache) delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *schemaCache) deletePrefix(prefix string) {
	c.mu.Lock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

func (c *schemaCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *schemaCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
