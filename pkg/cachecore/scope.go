package cachecore

import (
	"net/http"
	"sync"

	"encore.app/pkg/signalbroker"
)

// VaryBuilder is the in-progress declaration of which request headers a
// response's cache key depends on. Obtained from CacheStore.Vary.
type VaryBuilder struct {
	store           *CacheStore
	url             string
	requestHeaders  http.Header
	responseHeaders http.Header
}

// Declare fixes the set of headers the response varies on and returns a
// Scope for registering invalidation subscriptions against the
// resulting key. If responseHeaders has no Vary header set yet, Declare
// sets one from varyHeaders.
func (b *VaryBuilder) Declare(varyHeaders ...string) *Scope {
	if len(varyHeaders) > 0 && b.responseHeaders.Get("Vary") == "" {
		b.responseHeaders.Set("Vary", dumpVary(varyHeaders))
	}
	key := computeKey(b.url, b.requestHeaders, normalizeHeaderNames(varyHeaders))
	return &Scope{store: b.store, key: key, state: &scopeState{}}
}

// Scope is the handle returned by Declare for registering zero or more
// invalidation subscriptions tied to a single response's cache key.
// Leaving the scope (Close) finalizes the group: once any one
// subscription fires, every sibling registered through the same scope
// is torn down along with it, so a single invalidating event doesn't
// leave dangling subscriptions behind.
type Scope struct {
	store *CacheStore
	key   CacheKey
	state *scopeState
}

type scopeState struct {
	mu      sync.Mutex
	closed  bool
	handles []signalbroker.Handle
	fired   bool
}

// Invalidate subscribes this scope's cache key for eviction whenever the
// broker publishes an event matching entity plus predicate. Calling it
// after Close panics: every Invalidate call belongs inside the same
// request that produced the scope.
func (s *Scope) Invalidate(entity string, predicate signalbroker.Filter) {
	s.state.mu.Lock()
	if s.state.closed {
		s.state.mu.Unlock()
		panic("cachecore: Invalidate called after Scope.Close")
	}
	s.state.mu.Unlock()

	filter := signalbroker.Filter{"entity": entity}
	for k, v := range predicate {
		filter[k] = v
	}

	var handle signalbroker.Handle
	handle = s.store.broker.Subscribe(filter, func(signalbroker.Event) {
		s.store.Invalidate(s.key)

		s.state.mu.Lock()
		if s.state.fired {
			s.state.mu.Unlock()
			return
		}
		s.state.fired = true
		siblings := s.state.handles
		s.state.mu.Unlock()

		for _, h := range siblings {
			s.store.broker.Unsubscribe(h)
		}
	})

	s.state.mu.Lock()
	s.state.handles = append(s.state.handles, handle)
	s.state.mu.Unlock()
}

// Close finalizes the scope. No further Invalidate calls are permitted
// after Close returns. Callers should defer Close immediately after
// Declare.
func (s *Scope) Close() {
	s.state.mu.Lock()
	s.state.closed = true
	s.state.mu.Unlock()
}
