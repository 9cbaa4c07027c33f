// Package reqcontext carries ambient, allow-listed request headers
// (identity, role, and similar edge-resolved fields) through a call
// chain via context.Context, replacing the dynamic-scoping pattern
// (context variables) the original services used per request.
//
// Design Notes:
//   - The allow-list is fixed per service at construction time: bff only
//     ever carries x-user, projects-facing services carry x-user and
//     x-role. There is one Propagator per service, not per request.
//   - Values are copied into a per-request field box at request start;
//     Update overwrites fields in that box in place under its mutex, so
//     every context derived from the same request sees the new values.
package reqcontext

import "net/http"

type contextKey struct{}

var fieldsKey = contextKey{}

// Propagator copies an allow-listed set of header names from an
// inbound request into context.Context at request start.
type Propagator struct {
	allowed map[string]string // canonical header name -> field name (same canonical form)
}

// New builds a Propagator carrying exactly the named headers. Field
// names are matched case-insensitively against incoming headers and
// stored under their canonical MIME form (x-user becomes X-User).
func New(allowed ...string) *Propagator {
	p := &Propagator{allowed: make(map[string]string, len(allowed))}
	for _, name := range allowed {
		p.allowed[canonicalHeaderName(name)] = canonicalHeaderName(name)
	}
	return p
}

// Middleware wraps next, populating the request's context with the
// allow-listed headers present on the inbound request before calling
// next. Downstream code reads them with Get/All; nothing is written
// back to the request beyond the context value.
func (p *Propagator) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields := make(map[string]string, len(p.allowed))
		for header, field := range p.allowed {
			if v := r.Header.Get(header); v != "" {
				fields[field] = v
			}
		}
		ctx := withFields(r.Context(), fields)
		next(w, r.WithContext(ctx))
	}
}

func canonicalHeaderName(name string) string {
	return http.CanonicalHeaderKey(name)
}
