package cachecore

import (
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"encore.app/pkg/signalbroker"
)

// CacheStore holds every stored CacheEntry and the per-URL VaryTable that
// shapes how requests to that URL are keyed. The zero value is not
// usable; construct with NewCacheStore.
type CacheStore struct {
	mu        sync.RWMutex
	entries   map[CacheKey]CacheEntry
	varyTable map[string][]string

	broker *signalbroker.Broker
	group  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
	dedups atomic.Int64
}

// Stats is a point-in-time snapshot of a CacheStore's counters, polled by
// monitoring rather than pushed, since the store itself has no dependency
// on any particular metrics sink.
type Stats struct {
	Hits   int64
	Misses int64
	Sets   int64
	Dedups int64
}

// Stats returns the store's current counters.
func (s *CacheStore) Stats() Stats {
	return Stats{
		Hits:   s.hits.Load(),
		Misses: s.misses.Load(),
		Sets:   s.sets.Load(),
		Dedups: s.dedups.Load(),
	}
}

// NewCacheStore creates an empty store wired to broker for invalidation.
// A nil broker is valid for tests that never call Vary(...).Invalidate.
func NewCacheStore(broker *signalbroker.Broker) *CacheStore {
	return &CacheStore{
		entries:   make(map[CacheKey]CacheEntry),
		varyTable: make(map[string][]string),
		broker:    broker,
	}
}

// varyHeadersFor returns the headers url currently varies on, or nil if
// nothing has declared any yet.
func (s *CacheStore) varyHeadersFor(url string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.varyTable[url]
}

// Key computes the CacheKey a request to url with headers would resolve
// to, given url's current VaryTable entry.
func (s *CacheStore) Key(url string, headers http.Header) CacheKey {
	return computeKey(url, headers, s.varyHeadersFor(url))
}

// Get looks up the stored entry for a request, if any.
func (s *CacheStore) Get(url string, headers http.Header) (CacheEntry, bool) {
	return s.lookup(s.Key(url, headers))
}

func (s *CacheStore) lookup(key CacheKey) (CacheEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return e, ok
}

// put records responseHeaders/etag for a request to url with the given
// request headers. A response Vary: * skips storage entirely — such a
// response is never safely cacheable by header value.
func (s *CacheStore) put(url string, requestHeaders, responseHeaders http.Header, etag string) {
	varyRaw := responseHeaders.Values("Vary")
	var varyHeaders []string
	if len(varyRaw) > 0 {
		for _, v := range varyRaw {
			if parseVaryIsStar(v) {
				return
			}
		}
		joined := ""
		for i, v := range varyRaw {
			if i > 0 {
				joined += ";"
			}
			joined += v
		}
		varyHeaders = parseVary(joined)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(varyHeaders) > 0 {
		s.varyTable[url] = varyHeaders
	}
	key := computeKey(url, requestHeaders, s.varyTable[url])
	s.entries[key] = CacheEntry{ETag: etag, Headers: headerPairs(responseHeaders)}
}

func parseVaryIsStar(raw string) bool {
	for _, h := range parseVary(raw) {
		if h == "*" {
			return true
		}
	}
	return false
}

// Invalidate removes a single stored entry by key. It is safe to call
// with a key that was never stored, or was already removed.
func (s *CacheStore) Invalidate(key CacheKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Vary begins declaring the cache key for a request/response pair. Call
// Declare on the result to fix the varying headers and obtain a Scope
// for registering invalidation subscriptions.
func (s *CacheStore) Vary(url string, requestHeaders, responseHeaders http.Header) *VaryBuilder {
	return &VaryBuilder{store: s, url: url, requestHeaders: requestHeaders, responseHeaders: responseHeaders}
}
