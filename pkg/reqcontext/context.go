package reqcontext

import (
	"context"
	"sync"
)

// fieldsBox is the mutable container installed once per request by
// Propagator.Middleware. Context values are themselves immutable, so
// read-after-write visibility within one request comes from mutating
// the box in place rather than from rebuilding the context.
type fieldsBox struct {
	mu sync.RWMutex
	m  map[string]string
}

func withFields(ctx context.Context, fields map[string]string) context.Context {
	return context.WithValue(ctx, fieldsKey, &fieldsBox{m: fields})
}

func boxFrom(ctx context.Context) *fieldsBox {
	box, _ := ctx.Value(fieldsKey).(*fieldsBox)
	return box
}

// Get returns the value of an ambient field (e.g. "x-user"), or "" if
// it was never present on the inbound request and never set by Update.
func Get(ctx context.Context, field string) string {
	box := boxFrom(ctx)
	if box == nil {
		return ""
	}
	box.mu.RLock()
	defer box.mu.RUnlock()
	return box.m[canonicalHeaderName(field)]
}

// All returns a snapshot of every ambient field currently set on ctx.
// Mutating the returned map has no effect on ctx.
func All(ctx context.Context) map[string]string {
	box := boxFrom(ctx)
	if box == nil {
		return map[string]string{}
	}
	box.mu.RLock()
	defer box.mu.RUnlock()
	out := make(map[string]string, len(box.m))
	for k, v := range box.m {
		out[k] = v
	}
	return out
}

// Update sets ambient fields for the remainder of ctx's request. It is
// a no-op if ctx was never populated by a Propagator's Middleware —
// there is nowhere to write the value, and outbound calls further down
// the same chain simply won't see it.
func Update(ctx context.Context, fields map[string]string) {
	box := boxFrom(ctx)
	if box == nil {
		return
	}
	box.mu.Lock()
	defer box.mu.Unlock()
	for k, v := range fields {
		box.m[canonicalHeaderName(k)] = v
	}
}
