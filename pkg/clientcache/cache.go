package clientcache

import (
	"net/http"
	"sync"
)

// CachedEntry is a stored upstream response keyed by URL.
type CachedEntry struct {
	ETag   string
	Header http.Header
	Body   []byte
}

// Cache is the storage interface a Session draws ETags from. MapCache
// is the default in-memory implementation; callers needing a shared
// cache across sessions (rather than one scoped to a single inbound
// request) can supply their own.
type Cache interface {
	Get(url string) (CachedEntry, bool)
	Put(url string, entry CachedEntry)
}

// MapCache is a sync.RWMutex-guarded map keyed by URL.
type MapCache struct {
	mu      sync.RWMutex
	entries map[string]CachedEntry
}

// NewMapCache returns an empty MapCache ready to use.
func NewMapCache() *MapCache {
	return &MapCache{entries: make(map[string]CachedEntry)}
}

func (c *MapCache) Get(url string) (CachedEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[url]
	return e, ok
}

func (c *MapCache) Put(url string, entry CachedEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = entry
}
