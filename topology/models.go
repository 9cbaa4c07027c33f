package topology

// Project, Area, Zone and Collaborator mirror the entities the
// original projects service persisted: a project contains areas and
// collaborators; an area contains zones. They exist here to give the
// cache core concrete, nested routes to serve and invalidate — the SQL
// schema and validation layer behind them is explicitly out of scope.

type Project struct {
	ProjectID string `json:"project_id"`
	Name      string `json:"name"`
}

type Area struct {
	ProjectID string `json:"project_id"`
	AreaID    string `json:"area_id"`
	Name      string `json:"name"`
}

type Zone struct {
	ProjectID string `json:"project_id"`
	AreaID    string `json:"area_id"`
	ZoneID    string `json:"zone_id"`
	Name      string `json:"name"`
}

type Collaborator struct {
	ProjectID string `json:"project_id"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

func projectFields(p Project) map[string]any {
	return map[string]any{"project_id": p.ProjectID, "name": p.Name}
}

func areaFields(a Area) map[string]any {
	return map[string]any{"project_id": a.ProjectID, "area_id": a.AreaID, "name": a.Name}
}

func zoneFields(z Zone) map[string]any {
	return map[string]any{"project_id": z.ProjectID, "area_id": z.AreaID, "zone_id": z.ZoneID, "name": z.Name}
}

func collaboratorFields(c Collaborator) map[string]any {
	return map[string]any{"project_id": c.ProjectID, "email": c.Email, "role": c.Role}
}
