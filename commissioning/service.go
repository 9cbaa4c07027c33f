// Package commissioning implements the node lookup routes. Unlike
// topology's list/get pair, list_nodes takes project_id and an
// optional zone_id: when zone_id is absent the invalidation predicate
// uses signalbroker.Any for that field, so a node change in any zone
// of the project still evicts the list — the richer, non-tree-edge
// predicate matching the tree index alone can't express.
package commissioning

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"encore.app/pkg/cachecore"
	"encore.app/pkg/middleware"
	"encore.app/pkg/persistadapter"
	"encore.app/pkg/reqcontext"
	"encore.app/pkg/signalbroker"
	"encore.app/topology"
)

type Node struct {
	NodeUUID      string         `json:"node_uuid"`
	ProjectID     string         `json:"project_id"`
	ZoneID        string         `json:"zone_id"`
	Name          string         `json:"name"`
	Configuration map[string]any `json:"configuration"`
}

func nodeFields(n Node) map[string]any {
	return map[string]any{
		"node_uuid":  n.NodeUUID,
		"project_id": n.ProjectID,
		"zone_id":    n.ZoneID,
		"name":       n.Name,
	}
}

//encore:service
type Service struct {
	Cache   *cachecore.CacheStore
	Context *reqcontext.Propagator
	Nodes   *persistadapter.MemoryStore[Node]
}

var (
	svc  *Service
	once sync.Once
)

func initService() (*Service, error) {
	once.Do(func() {
		svc = &Service{
			Cache:   cachecore.NewCacheStore(topology.Broker),
			Context: reqcontext.New("x-user", "x-role"),
			Nodes:   persistadapter.NewMemoryStore("node", []string{"node_uuid"}, nodeFields, topology.Broker),
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

//encore:api public raw method=GET path=/nodes
func ListNodes(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.Cache.Middleware(svc.listNodes)))(w, r)
}

func (s *Service) listNodes(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	zoneID := r.URL.Query().Get("zone_id")

	predicate := map[string]any{"project_id": projectID}
	invalidatePredicate := signalbroker.Filter{"project_id": projectID}
	if zoneID != "" {
		predicate["zone_id"] = zoneID
		invalidatePredicate["zone_id"] = zoneID
	} else {
		invalidatePredicate["zone_id"] = signalbroker.Any
	}

	rows, _ := s.Nodes.Select(r.Context(), predicate)

	scope := s.Cache.Vary(r.URL.String(), r.Header, w.Header()).Declare()
	defer scope.Close()
	scope.Invalidate("node", invalidatePredicate)

	writeJSON(w, http.StatusOK, mustJSON(rows))
}

//encore:api public raw method=GET path=/nodes/:node_uuid
func GetNode(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.Cache.Middleware(svc.getNode)))(w, r)
}

func (s *Service) getNode(w http.ResponseWriter, r *http.Request) {
	nodeUUID := lastSegment(r)
	projectID := r.URL.Query().Get("project_id")
	zoneID := r.URL.Query().Get("zone_id")

	row, ok, _ := s.Nodes.Get(r.Context(), map[string]any{"node_uuid": nodeUUID})
	if !ok || row.ProjectID != projectID || row.ZoneID != zoneID {
		http.NotFound(w, r)
		return
	}

	scope := s.Cache.Vary(r.URL.String(), r.Header, w.Header()).Declare()
	defer scope.Close()
	scope.Invalidate("node", signalbroker.Filter{"node_uuid": nodeUUID})

	writeJSON(w, http.StatusOK, mustJSON(row))
}

//encore:api public raw method=PUT path=/nodes/:node_uuid
func PutNode(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.putNode))(w, r)
}

func (s *Service) putNode(w http.ResponseWriter, r *http.Request) {
	nodeUUID := lastSegment(r)
	projectID := r.URL.Query().Get("project_id")
	zoneID := r.URL.Query().Get("zone_id")

	var body struct {
		Name          string         `json:"name"`
		Configuration map[string]any `json:"configuration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	s.Nodes.Merge(r.Context(), Node{ //nolint:errcheck
		NodeUUID:      nodeUUID,
		ProjectID:     projectID,
		ZoneID:        zoneID,
		Name:          body.Name,
		Configuration: body.Configuration,
	})

	redirectTo(w, r, nodeUUID, projectID, zoneID)
}

//encore:api public raw method=PATCH path=/nodes/:node_uuid
func PatchNode(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.patchNode))(w, r)
}

func (s *Service) patchNode(w http.ResponseWriter, r *http.Request) {
	nodeUUID := lastSegment(r)
	projectID := r.URL.Query().Get("project_id")
	zoneID := r.URL.Query().Get("zone_id")

	row, ok, _ := s.Nodes.Get(r.Context(), map[string]any{"node_uuid": nodeUUID})
	if !ok {
		http.NotFound(w, r)
		return
	}

	var patch struct {
		Name          *string        `json:"name"`
		Configuration map[string]any `json:"configuration"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	if patch.Name != nil {
		row.Name = *patch.Name
	}
	if patch.Configuration != nil {
		row.Configuration = patch.Configuration
	}
	row.ProjectID = projectID
	row.ZoneID = zoneID

	if err := s.Nodes.Update(r.Context(), row); err != nil {
		http.Error(w, "update failed", http.StatusInternalServerError)
		return
	}

	redirectTo(w, r, nodeUUID, projectID, zoneID)
}

//encore:api public raw method=DELETE path=/nodes/:node_uuid
func DeleteNode(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.deleteNode))(w, r)
}

func (s *Service) deleteNode(w http.ResponseWriter, r *http.Request) {
	nodeUUID := lastSegment(r)
	projectID := r.URL.Query().Get("project_id")
	zoneID := r.URL.Query().Get("zone_id")

	s.Nodes.Delete(r.Context(), map[string]any{"node_uuid": nodeUUID}) //nolint:errcheck

	w.Header().Set("Location", "/nodes?project_id="+projectID+"&zone_id="+zoneID)
	w.WriteHeader(http.StatusSeeOther)
}

//encore:api public raw method=GET path=/health
func GetHealth(w http.ResponseWriter, r *http.Request) {
	middleware.RequestLogger(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []byte(`"OK"`))
	})(w, r)
}

func lastSegment(r *http.Request) string {
	trimmed := strings.Trim(r.URL.Path, "/")
	parts := strings.Split(trimmed, "/")
	return parts[len(parts)-1]
}

func redirectTo(w http.ResponseWriter, r *http.Request, nodeUUID, projectID, zoneID string) {
	w.Header().Set("Location", "/nodes/"+nodeUUID+"?project_id="+projectID+"&zone_id="+zoneID)
	w.WriteHeader(http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body) //nolint:errcheck
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}
