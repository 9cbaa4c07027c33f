package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"encore.app/pkg/reqcontext"
)

func TestRequestLoggerGeneratesRequestID(t *testing.T) {
	var gotID string
	handler := RequestLogger(func(w http.ResponseWriter, r *http.Request) {
		gotID = RequestIDFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if gotID == "" {
		t.Fatal("expected a generated request ID in the handler's context")
	}
	if rec.Header().Get("X-Request-ID") != gotID {
		t.Errorf("X-Request-ID header = %q, want %q", rec.Header().Get("X-Request-ID"), gotID)
	}
}

func TestRequestLoggerPropagatesInboundHeader(t *testing.T) {
	handler := RequestLogger(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Header().Get("X-Request-ID") != "caller-supplied-id" {
		t.Errorf("X-Request-ID = %q, want caller-supplied-id", rec.Header().Get("X-Request-ID"))
	}
}

func TestRequestLoggerMirrorsIntoReqcontext(t *testing.T) {
	prop := reqcontext.New("x-user")
	var gotFromReqcontext string

	chained := prop.Middleware(RequestLogger(func(w http.ResponseWriter, r *http.Request) {
		gotFromReqcontext = reqcontext.Get(r.Context(), "x-request-id")
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	chained(rec, req)

	if gotFromReqcontext != "abc-123" {
		t.Errorf("reqcontext.Get(x-request-id) = %q, want abc-123", gotFromReqcontext)
	}
}

func TestRequestLoggerUpdateIsNoOpWithoutPropagator(t *testing.T) {
	// No reqcontext.Propagator ran first, so Update must not panic and
	// RequestIDFromCtx must still recover the ID via the plain
	// context.WithValue path (exercised by reconf, which has no
	// Propagator at all).
	handler := RequestLogger(func(w http.ResponseWriter, r *http.Request) {
		if RequestIDFromCtx(r.Context()) == "" {
			t.Error("expected request ID to still be recoverable without a Propagator")
		}
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestRequestLoggerCapturesStatusAndBytes(t *testing.T) {
	handler := RequestLogger(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("hello")) //nolint:errcheck
	})

	req := httptest.NewRequest(http.MethodPost, "/test", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("body = %q, want hello", rec.Body.String())
	}
}

func TestLogWithRequestIDDoesNotPanicWithoutID(t *testing.T) {
	LogWithRequestID(httptest.NewRequest(http.MethodGet, "/test", nil).Context(), "test message", map[string]interface{}{"k": "v"})
}
