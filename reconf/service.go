// Package reconf implements the single audit endpoint that calls
// vary() from a non-GET handler. The server caching middleware only
// ever stores an entry for GET requests (see pkg/cachecore.Middleware),
// so declaring a Vary scope here sets the response's Vary header as a
// side effect but never results in a stored, invalidatable entry. This
// mirrors the original audit service's own handler doing exactly the
// same thing; it is kept as a deliberate no-op rather than "fixed",
// since nothing about the POST misconfiguration flow benefits from
// caching its result.
package reconf

import (
	"encoding/json"
	"net/http"
	"sync"

	"encore.app/pkg/cachecore"
	"encore.app/pkg/middleware"
	"encore.app/pkg/signalbroker"
)

//encore:service
type Service struct {
	Cache *cachecore.CacheStore
}

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	once.Do(func() {
		svc = &Service{Cache: cachecore.NewCacheStore(signalbroker.New())}
	})
	return svc, nil
}

type node struct {
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration"`
}

type zone struct {
	Name     string `json:"name"`
	Scenario string `json:"scenario"`
}

type misconfiguration struct {
	Name     string `json:"name"`
	Current  any    `json:"current"`
	Expected any    `json:"expected"`
}

type postMisconfigurationRequest struct {
	Node node `json:"node"`
	Zone zone `json:"zone"`
}

//encore:api public raw method=POST path=/misconfiguration
func PostMisconfiguration(w http.ResponseWriter, r *http.Request) {
	middleware.RequestLogger(svc.postMisconfiguration)(w, r)
}

func (s *Service) postMisconfiguration(w http.ResponseWriter, r *http.Request) {
	var req postMisconfigurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	// https://httpwg.org/http-extensions/draft-ietf-httpbis-digest-headers.html#name-using-repr-digest-in-state-
	scope := s.Cache.Vary(r.URL.Path, r.Header, w.Header()).Declare("Repr-Digest")
	defer scope.Close()

	results := []misconfiguration{}

	data, err := json.Marshal(results)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck
}

//encore:api public raw method=GET path=/health
func GetHealth(w http.ResponseWriter, r *http.Request) {
	middleware.RequestLogger(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`"OK"`)) //nolint:errcheck
	})(w, r)
}
