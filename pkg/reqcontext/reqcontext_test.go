package reqcontext

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestMiddlewarePopulatesAllowedFields(t *testing.T) {
	p := New("x-user", "x-role")
	var seenUser, seenRole string
	handler := p.Middleware(func(w http.ResponseWriter, r *http.Request) {
		seenUser = Get(r.Context(), "x-user")
		seenRole = Get(r.Context(), "x-role")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-user", "alice")
	req.Header.Set("x-role", "owner")
	req.Header.Set("x-other", "ignored")
	handler(httptest.NewRecorder(), req)

	if seenUser != "alice" || seenRole != "owner" {
		t.Fatalf("got user=%q role=%q, want alice/owner", seenUser, seenRole)
	}
}

func TestNonAllowedHeaderIsNotPropagated(t *testing.T) {
	p := New("x-user")
	var seen string
	handler := p.Middleware(func(w http.ResponseWriter, r *http.Request) {
		seen = Get(r.Context(), "x-role")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-role", "owner")
	handler(httptest.NewRecorder(), req)

	if seen != "" {
		t.Fatalf("x-role should not propagate through a bff-scoped Propagator, got %q", seen)
	}
}

func TestUpdateVisibleToLaterReadsSameRequest(t *testing.T) {
	p := New("x-user")
	var before, after string
	handler := p.Middleware(func(w http.ResponseWriter, r *http.Request) {
		before = Get(r.Context(), "x-role")
		Update(r.Context(), map[string]string{"x-role": "owner"})
		after = Get(r.Context(), "x-role")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler(httptest.NewRecorder(), req)

	if before != "" {
		t.Fatalf("x-role should be unset before Update, got %q", before)
	}
	if after != "owner" {
		t.Fatalf("x-role should be visible immediately after Update, got %q", after)
	}
}

func TestWritesDoNotLeakAcrossConcurrentRequests(t *testing.T) {
	p := New("x-user")
	handler := p.Middleware(func(w http.ResponseWriter, r *http.Request) {
		Update(r.Context(), map[string]string{"x-role": r.Header.Get("x-user")})
		if got := Get(r.Context(), "x-role"); got != r.Header.Get("x-user") {
			panic("own write not visible")
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("x-user", string(rune('a'+n%26)))
			handler(httptest.NewRecorder(), req)
		}(i)
	}
	wg.Wait()
}

func TestUpdateWithoutPropagatorIsNoop(t *testing.T) {
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	Update(ctx, map[string]string{"x-user": "alice"})
	if got := Get(ctx, "x-user"); got != "" {
		t.Fatalf("expected no-op Update on a context with no Propagator box, got %q", got)
	}
}
