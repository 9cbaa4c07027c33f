// Package topology implements the project/area/zone/collaborator
// routes: the read side exercises the server caching middleware
// (component C) with nested Vary-aware invalidation scopes, and the
// write side exercises the persistence adapter contract (component F)
// and the 303-see-other redirect contract, which pkg/clientcache's BFF
// session follows transparently.
//
// Design Notes:
//   - Every entity lives in its own persistadapter.MemoryStore; storage
//     and its SQL schema are explicitly out of scope here (see
//     pkg/persistadapter), so these are in-memory references other
//     services can call directly in-process, the way cache-manager
//     called into the invalidation package.
package topology

import (
	"net/http"
	"sync"

	"encore.app/pkg/cachecore"
	"encore.app/pkg/persistadapter"
	"encore.app/pkg/reqcontext"
	"encore.app/pkg/signalbroker"
)

// Service holds the topology data stores and the cache wiring they
// share.
//encore:service
type Service struct {
	Cache         *cachecore.CacheStore
	Context       *reqcontext.Propagator
	Projects      *persistadapter.MemoryStore[Project]
	Areas         *persistadapter.MemoryStore[Area]
	Zones         *persistadapter.MemoryStore[Zone]
	Collaborators *persistadapter.MemoryStore[Collaborator]
}

// Broker is the signal broker every other in-process service wires its
// own invalidation subscriptions through, the way cache-manager called
// directly into the invalidation package's exported topic.
var Broker = signalbroker.New()

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	once.Do(func() {
		svc = &Service{
			Cache:         cachecore.NewCacheStore(Broker),
			Context:       reqcontext.New("x-user", "x-role"),
			Projects:      persistadapter.NewMemoryStore("project", []string{"project_id"}, projectFields, Broker),
			Areas:         persistadapter.NewMemoryStore("area", []string{"project_id", "area_id"}, areaFields, Broker),
			Zones:         persistadapter.NewMemoryStore("zone", []string{"project_id", "area_id", "zone_id"}, zoneFields, Broker),
			Collaborators: persistadapter.NewMemoryStore("collaborator", []string{"project_id", "email"}, collaboratorFields, Broker),
		}
	})
	return svc, nil
}

// CacheStats reports the current server-side cache counters, polled by
// monitoring rather than pushed. Safe to call before this service's own
// initService has run (e.g. from another service's unit tests).
func CacheStats() cachecore.Stats {
	if svc == nil {
		return cachecore.Stats{}
	}
	return svc.Cache.Stats()
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

func redirectTo(w http.ResponseWriter, location string) {
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusSeeOther)
}
