// Package middleware provides rate limiting middleware for the BFF's
// inbound request path.
//
// Design Notes:
//   - Backed by golang.org/x/time/rate.Limiter, one per key, created lazily in
//     a map guarded by a sync.Mutex.
//   - Keys are derived from an identity header (x-user by default) so
//     one caller's burst never throttles another's.
package middleware

import (
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/time/rate"
)

// KeyedLimiter rate-limits requests per key using a token-bucket
// (golang.org/x/time/rate) limiter instantiated lazily per key.
type KeyedLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	allowed  atomic.Int64
	rejected atomic.Int64
}

// LimiterStats is a point-in-time snapshot of a KeyedLimiter's counters.
type LimiterStats struct {
	Allowed  int64
	Rejected int64
}

// Stats returns the limiter's current counters.
func (k *KeyedLimiter) Stats() LimiterStats {
	return LimiterStats{Allowed: k.allowed.Load(), Rejected: k.rejected.Load()}
}

// NewKeyedLimiter builds a limiter allowing rps requests per second per
// key, with bursts up to burst.
func NewKeyedLimiter(rps float64, burst int) *KeyedLimiter {
	return &KeyedLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (k *KeyedLimiter) limiterFor(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	l, ok := k.limiters[key]
	if !ok {
		l = rate.NewLimiter(k.rps, k.burst)
		k.limiters[key] = l
	}
	return l
}

// Allow reports whether a request for key may proceed now.
func (k *KeyedLimiter) Allow(key string) bool {
	if key == "" {
		return true
	}
	ok := k.limiterFor(key).Allow()
	if ok {
		k.allowed.Add(1)
	} else {
		k.rejected.Add(1)
	}
	return ok
}

// RateLimit wraps next, rejecting requests over the per-key budget with
// 429. keyFunc extracts the rate-limit key (e.g. the x-user header).
func RateLimit(limiter *KeyedLimiter, keyFunc func(*http.Request) string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(keyFunc(r)) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// KeyByHeader extracts a header value for use as a rate-limit key.
func KeyByHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}
