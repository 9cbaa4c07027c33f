// Package bff implements the Backend-for-Frontend: the only service in
// this tree meant to be reached directly by an external client. It owns
// the client caching session (pkg/clientcache) and fans every request
// out to topology and commissioning over plain HTTP, the same way the
// original aiohttp-based bff-svc talks to projects-svc and
// commissioning-svc — real service-to-service calls, not Encore's
// typed intra-process RPC, since the whole point of this service is to
// exercise the client-side caching session against real round trips.
package bff

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"encore.app/pkg/clientcache"
	"encore.app/pkg/middleware"
	"encore.app/pkg/reqcontext"
)

// Config holds the upstream base URLs and rate-limit tunables. Defaults
// assume topology/commissioning are reachable on the loopback addresses
// Encore would assign each service in local development.
type Config struct {
	TopologyBaseURL      string
	CommissioningBaseURL string
	RateLimitPerSecond   float64
	RateLimitBurst       int
}

func DefaultConfig() Config {
	return Config{
		TopologyBaseURL:      "http://localhost:4001",
		CommissioningBaseURL: "http://localhost:4002",
		RateLimitPerSecond:   50,
		RateLimitBurst:       100,
	}
}

//encore:service
type Service struct {
	Config  Config
	Session *clientcache.Session
	Context *reqcontext.Propagator
	Limiter *middleware.KeyedLimiter
}

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	once.Do(func() {
		cfg := DefaultConfig()
		svc = &Service{
			Config:  cfg,
			Session: clientcache.NewSession(&http.Client{}, clientcache.NewMapCache()),
			Context: reqcontext.New("x-user"),
			Limiter: middleware.NewKeyedLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst),
		}
	})
	return svc, nil
}

// chain wires every inbound bff request through ambient context
// propagation, request logging, role resolution, and per-user rate
// limiting before the route's own fan-out logic runs. Context.Middleware
// must run outermost so its fieldsBox exists by the time RequestLogger
// mirrors the request ID into it.
func (s *Service) chain(next http.HandlerFunc) http.HandlerFunc {
	return s.Context.Middleware(
		middleware.RequestLogger(
			middleware.RateLimit(s.Limiter, middleware.KeyByHeader("x-user"),
				s.resolveRoleMiddleware(next)),
		),
	)
}

// writeError writes an upstream or transport error as a JSON envelope,
// logging it with the inbound request's correlation ID so a failed
// fan-out can be traced back through topology/commissioning's own logs.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if upstream, ok := err.(*clientcache.UpstreamError); ok {
		middleware.LogWithRequestID(ctx, "upstream fan-out error", map[string]interface{}{
			"status": upstream.Status,
			"reason": upstream.Reason,
		})
		writeJSON(w, upstream.Status, envelope{Message: upstream.Reason})
		return
	}
	middleware.LogWithRequestID(ctx, "transport error", map[string]interface{}{"error": err.Error()})
	writeJSON(w, http.StatusBadGateway, envelope{Message: err.Error()})
}

type envelope struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data) //nolint:errcheck
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

//encore:api public raw method=GET path=/health
func GetHealth(w http.ResponseWriter, r *http.Request) {
	middleware.RequestLogger(func(w http.ResponseWriter, r *http.Request) {
		writeRaw(w, http.StatusOK, []byte(`"OK"`))
	})(w, r)
}

// RateLimitStats reports the current inbound rate-limit counters, polled
// by monitoring rather than pushed. Safe to call before this service's
// own initService has run (e.g. from another service's unit tests).
func RateLimitStats() middleware.LimiterStats {
	if svc == nil {
		return middleware.LimiterStats{}
	}
	return svc.Limiter.Stats()
}
