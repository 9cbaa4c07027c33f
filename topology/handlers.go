package topology

import (
	"encoding/json"
	"net/http"
	"strings"

	"encore.app/pkg/middleware"
	"encore.app/pkg/signalbroker"
)

func pathSegments(r *http.Request) []string {
	trimmed := strings.Trim(r.URL.Path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// ListProjects serves the project collection. It varies on nothing and
// invalidates on any project create/delete.
//encore:api public raw method=GET path=/projects
func ListProjects(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.Cache.Middleware(svc.listProjects)))(w, r)
}

func (s *Service) listProjects(w http.ResponseWriter, r *http.Request) {
	rows, _ := s.Projects.Select(r.Context(), nil)
	scope := s.Cache.Vary(r.URL.Path, r.Header, w.Header()).Declare()
	defer scope.Close()
	scope.Invalidate("project", signalbroker.Filter{})
	writeJSON(w, http.StatusOK, mustJSON(rows))
}

//encore:api public raw method=POST path=/projects
func CreateProject(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.createProject))(w, r)
}

func (s *Service) createProject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProjectID string `json:"project_id"`
		Name      string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	s.Projects.Create(r.Context(), Project{ProjectID: body.ProjectID, Name: body.Name}) //nolint:errcheck
	redirectTo(w, "/projects/"+body.ProjectID)
}

//encore:api public raw method=GET path=/projects/:project_id
func GetProject(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.Cache.Middleware(svc.getProject)))(w, r)
}

func (s *Service) getProject(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-1]

	row, ok, _ := s.Projects.Get(r.Context(), map[string]any{"project_id": projectID})
	if !ok {
		http.NotFound(w, r)
		return
	}

	scope := s.Cache.Vary(r.URL.Path, r.Header, w.Header()).Declare()
	defer scope.Close()
	scope.Invalidate("project", signalbroker.Filter{"project_id": projectID})
	writeJSON(w, http.StatusOK, mustJSON(row))
}

//encore:api public raw method=DELETE path=/projects/:project_id
func DeleteProject(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.deleteProject))(w, r)
}

func (s *Service) deleteProject(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-1]

	s.Zones.CascadeDelete(r.Context(), map[string]any{"project_id": projectID})         //nolint:errcheck
	s.Areas.CascadeDelete(r.Context(), map[string]any{"project_id": projectID})         //nolint:errcheck
	s.Collaborators.CascadeDelete(r.Context(), map[string]any{"project_id": projectID}) //nolint:errcheck
	s.Projects.Delete(r.Context(), map[string]any{"project_id": projectID})             //nolint:errcheck

	redirectTo(w, "/projects")
}

//encore:api public raw method=GET path=/projects/:project_id/areas
func ListAreas(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.Cache.Middleware(svc.listAreas)))(w, r)
}

func (s *Service) listAreas(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-2]

	rows, _ := s.Areas.Select(r.Context(), map[string]any{"project_id": projectID})
	scope := s.Cache.Vary(r.URL.Path, r.Header, w.Header()).Declare()
	defer scope.Close()
	scope.Invalidate("area", signalbroker.Filter{"project_id": projectID})
	writeJSON(w, http.StatusOK, mustJSON(rows))
}

//encore:api public raw method=POST path=/projects/:project_id/areas
func CreateArea(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.createArea))(w, r)
}

func (s *Service) createArea(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-2]

	var body struct {
		AreaID string `json:"area_id"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	s.Areas.Create(r.Context(), Area{ProjectID: projectID, AreaID: body.AreaID, Name: body.Name}) //nolint:errcheck
	redirectTo(w, "/projects/"+projectID+"/areas/"+body.AreaID)
}

//encore:api public raw method=GET path=/projects/:project_id/areas/:area_id
func GetArea(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.Cache.Middleware(svc.getArea)))(w, r)
}

func (s *Service) getArea(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID := segs[len(segs)-3], segs[len(segs)-1]

	row, ok, _ := s.Areas.Get(r.Context(), map[string]any{"project_id": projectID, "area_id": areaID})
	if !ok {
		http.NotFound(w, r)
		return
	}

	scope := s.Cache.Vary(r.URL.Path, r.Header, w.Header()).Declare()
	defer scope.Close()
	scope.Invalidate("area", signalbroker.Filter{"project_id": projectID, "area_id": areaID})
	writeJSON(w, http.StatusOK, mustJSON(row))
}

//encore:api public raw method=DELETE path=/projects/:project_id/areas/:area_id
func DeleteArea(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.deleteArea))(w, r)
}

func (s *Service) deleteArea(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID := segs[len(segs)-3], segs[len(segs)-1]

	s.Zones.CascadeDelete(r.Context(), map[string]any{"project_id": projectID, "area_id": areaID}) //nolint:errcheck
	s.Areas.Delete(r.Context(), map[string]any{"project_id": projectID, "area_id": areaID})         //nolint:errcheck

	redirectTo(w, "/projects/"+projectID+"/areas")
}

//encore:api public raw method=GET path=/projects/:project_id/areas/:area_id/zones
func ListZones(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.Cache.Middleware(svc.listZones)))(w, r)
}

func (s *Service) listZones(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID := segs[len(segs)-4], segs[len(segs)-2]

	rows, _ := s.Zones.Select(r.Context(), map[string]any{"project_id": projectID, "area_id": areaID})
	scope := s.Cache.Vary(r.URL.Path, r.Header, w.Header()).Declare()
	defer scope.Close()
	scope.Invalidate("zone", signalbroker.Filter{"project_id": projectID, "area_id": areaID})
	writeJSON(w, http.StatusOK, mustJSON(rows))
}

//encore:api public raw method=POST path=/projects/:project_id/areas/:area_id/zones
func CreateZone(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.createZone))(w, r)
}

func (s *Service) createZone(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID := segs[len(segs)-4], segs[len(segs)-2]

	var body struct {
		ZoneID string `json:"zone_id"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	s.Zones.Create(r.Context(), Zone{ProjectID: projectID, AreaID: areaID, ZoneID: body.ZoneID, Name: body.Name}) //nolint:errcheck
	redirectTo(w, "/projects/"+projectID+"/areas/"+areaID+"/zones/"+body.ZoneID)
}

//encore:api public raw method=GET path=/projects/:project_id/areas/:area_id/zones/:zone_id
func GetZone(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.Cache.Middleware(svc.getZone)))(w, r)
}

func (s *Service) getZone(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID, zoneID := segs[len(segs)-5], segs[len(segs)-3], segs[len(segs)-1]

	row, ok, _ := s.Zones.Get(r.Context(), map[string]any{"project_id": projectID, "area_id": areaID, "zone_id": zoneID})
	if !ok {
		http.NotFound(w, r)
		return
	}

	scope := s.Cache.Vary(r.URL.Path, r.Header, w.Header()).Declare()
	defer scope.Close()
	scope.Invalidate("zone", signalbroker.Filter{"project_id": projectID, "area_id": areaID, "zone_id": zoneID})
	writeJSON(w, http.StatusOK, mustJSON(row))
}

//encore:api public raw method=DELETE path=/projects/:project_id/areas/:area_id/zones/:zone_id
func DeleteZone(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.deleteZone))(w, r)
}

func (s *Service) deleteZone(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID, zoneID := segs[len(segs)-5], segs[len(segs)-3], segs[len(segs)-1]

	s.Zones.Delete(r.Context(), map[string]any{"project_id": projectID, "area_id": areaID, "zone_id": zoneID}) //nolint:errcheck
	redirectTo(w, "/projects/"+projectID+"/areas/"+areaID+"/zones")
}

//encore:api public raw method=GET path=/projects/:project_id/collaborators
func ListCollaborators(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.Cache.Middleware(svc.listCollaborators)))(w, r)
}

func (s *Service) listCollaborators(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-2]

	rows, _ := s.Collaborators.Select(r.Context(), map[string]any{"project_id": projectID})
	scope := s.Cache.Vary(r.URL.Path, r.Header, w.Header()).Declare()
	defer scope.Close()
	scope.Invalidate("collaborator", signalbroker.Filter{"project_id": projectID})
	writeJSON(w, http.StatusOK, mustJSON(rows))
}

//encore:api public raw method=POST path=/projects/:project_id/collaborators
func CreateCollaborator(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.createCollaborator))(w, r)
}

func (s *Service) createCollaborator(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-2]

	var body struct {
		Email string `json:"email"`
		Role  string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}
	s.Collaborators.Merge(r.Context(), Collaborator{ProjectID: projectID, Email: body.Email, Role: body.Role}) //nolint:errcheck
	redirectTo(w, "/projects/"+projectID+"/collaborators")
}

//encore:api public raw method=DELETE path=/projects/:project_id/collaborators/:email
func DeleteCollaborator(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.deleteCollaborator))(w, r)
}

func (s *Service) deleteCollaborator(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, email := segs[len(segs)-3], segs[len(segs)-1]

	s.Collaborators.Delete(r.Context(), map[string]any{"project_id": projectID, "email": email}) //nolint:errcheck
	redirectTo(w, "/projects/"+projectID+"/collaborators")
}

// GetProjectRole resolves the calling user's role on a project, driving
// bff's role-resolution middleware. It is deliberately uncached: a
// collaborator's role can change between requests and nothing in this
// service declares a Vary scope wide enough to key on x-user safely.
//encore:api public raw method=GET path=/projects/:project_id/role
func GetProjectRole(w http.ResponseWriter, r *http.Request) {
	svc.Context.Middleware(middleware.RequestLogger(svc.getProjectRole))(w, r)
}

func (s *Service) getProjectRole(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-2]
	user := r.Header.Get("x-user")

	row, ok, _ := s.Collaborators.Get(r.Context(), map[string]any{"project_id": projectID, "email": user})
	if !ok {
		writeJSON(w, http.StatusOK, []byte(`null`))
		return
	}
	writeJSON(w, http.StatusOK, mustJSON(row.Role))
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return data
}
