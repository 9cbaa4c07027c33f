package bff

import (
	"net/http"
	"strings"
)

func pathSegments(r *http.Request) []string {
	trimmed := strings.Trim(r.URL.Path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// --- projects ---

//encore:api public raw method=GET path=/projects
func ListProjects(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.listProjects)(w, r)
}

func (s *Service) listProjects(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Session.Get(r.Context(), s.Config.TopologyBaseURL+"/projects")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

//encore:api public raw method=POST path=/projects
func CreateProject(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.createProject)(w, r)
}

func (s *Service) createProject(w http.ResponseWriter, r *http.Request) {
	resp, err := s.Session.Do(r.Context(), http.MethodPost, s.Config.TopologyBaseURL+"/projects", r.Body)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	s.resolveRoleAfterRedirect(r.Context(), resp.ResolvedURL)
	writeRaw(w, http.StatusCreated, resp.Body)
}

//encore:api public raw method=GET path=/projects/:project_id
func GetProject(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.getProject)(w, r)
}

func (s *Service) getProject(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-1]

	resp, err := s.Session.Get(r.Context(), s.Config.TopologyBaseURL+"/projects/"+projectID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

//encore:api public raw method=DELETE path=/projects/:project_id
func DeleteProject(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.deleteProject)(w, r)
}

func (s *Service) deleteProject(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-1]

	if _, err := s.Session.Do(r.Context(), http.MethodDelete, s.Config.TopologyBaseURL+"/projects/"+projectID, nil); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- collaborators ---

//encore:api public raw method=GET path=/projects/:project_id/collaborators
func ListCollaborators(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.listCollaborators)(w, r)
}

func (s *Service) listCollaborators(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-2]

	resp, err := s.Session.Get(r.Context(), s.Config.TopologyBaseURL+"/projects/"+projectID+"/collaborators")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

//encore:api public raw method=POST path=/projects/:project_id/collaborators
func CreateCollaborator(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.createCollaborator)(w, r)
}

func (s *Service) createCollaborator(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-2]

	resp, err := s.Session.Do(r.Context(), http.MethodPost, s.Config.TopologyBaseURL+"/projects/"+projectID+"/collaborators", r.Body)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, http.StatusOK, resp.Body)
}

// --- areas ---

//encore:api public raw method=GET path=/projects/:project_id/areas
func ListAreas(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.listAreas)(w, r)
}

func (s *Service) listAreas(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-2]

	resp, err := s.Session.Get(r.Context(), s.Config.TopologyBaseURL+"/projects/"+projectID+"/areas")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

//encore:api public raw method=POST path=/projects/:project_id/areas
func CreateArea(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.createArea)(w, r)
}

func (s *Service) createArea(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID := segs[len(segs)-2]

	resp, err := s.Session.Do(r.Context(), http.MethodPost, s.Config.TopologyBaseURL+"/projects/"+projectID+"/areas", r.Body)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, http.StatusCreated, resp.Body)
}

//encore:api public raw method=GET path=/projects/:project_id/areas/:area_id
func GetArea(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.getArea)(w, r)
}

func (s *Service) getArea(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID := segs[len(segs)-3], segs[len(segs)-1]

	resp, err := s.Session.Get(r.Context(), s.Config.TopologyBaseURL+"/projects/"+projectID+"/areas/"+areaID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

//encore:api public raw method=DELETE path=/projects/:project_id/areas/:area_id
func DeleteArea(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.deleteArea)(w, r)
}

func (s *Service) deleteArea(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID := segs[len(segs)-3], segs[len(segs)-1]

	if _, err := s.Session.Do(r.Context(), http.MethodDelete, s.Config.TopologyBaseURL+"/projects/"+projectID+"/areas/"+areaID, nil); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- zones ---

//encore:api public raw method=GET path=/projects/:project_id/areas/:area_id/zones
func ListZones(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.listZones)(w, r)
}

func (s *Service) listZones(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID := segs[len(segs)-4], segs[len(segs)-2]

	resp, err := s.Session.Get(r.Context(), s.Config.TopologyBaseURL+"/projects/"+projectID+"/areas/"+areaID+"/zones")
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

//encore:api public raw method=POST path=/projects/:project_id/areas/:area_id/zones
func CreateZone(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.createZone)(w, r)
}

func (s *Service) createZone(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID := segs[len(segs)-4], segs[len(segs)-2]

	resp, err := s.Session.Do(r.Context(), http.MethodPost, s.Config.TopologyBaseURL+"/projects/"+projectID+"/areas/"+areaID+"/zones", r.Body)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, http.StatusCreated, resp.Body)
}

//encore:api public raw method=GET path=/projects/:project_id/areas/:area_id/zones/:zone_id
func GetZone(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.getZone)(w, r)
}

func (s *Service) getZone(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID, zoneID := segs[len(segs)-5], segs[len(segs)-3], segs[len(segs)-1]

	resp, err := s.Session.Get(r.Context(), s.Config.TopologyBaseURL+"/projects/"+projectID+"/areas/"+areaID+"/zones/"+zoneID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}

//encore:api public raw method=DELETE path=/projects/:project_id/areas/:area_id/zones/:zone_id
func DeleteZone(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.deleteZone)(w, r)
}

func (s *Service) deleteZone(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	projectID, areaID, zoneID := segs[len(segs)-5], segs[len(segs)-3], segs[len(segs)-1]

	if _, err := s.Session.Do(r.Context(), http.MethodDelete, s.Config.TopologyBaseURL+"/projects/"+projectID+"/areas/"+areaID+"/zones/"+zoneID, nil); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- nodes (fan out to commissioning) ---

//encore:api public raw method=GET path=/projects/:project_id/areas/:area_id/zones/:zone_id/nodes/:node_uuid
func GetNode(w http.ResponseWriter, r *http.Request) {
	svc.chain(svc.getNode)(w, r)
}

func (s *Service) getNode(w http.ResponseWriter, r *http.Request) {
	segs := pathSegments(r)
	zoneID, nodeUUID := segs[len(segs)-3], segs[len(segs)-1]
	projectID := segs[len(segs)-7]

	url := s.Config.CommissioningBaseURL + "/nodes/" + nodeUUID + "?project_id=" + projectID + "&zone_id=" + zoneID
	resp, err := s.Session.Get(r.Context(), url)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeRaw(w, resp.StatusCode, resp.Body)
}
