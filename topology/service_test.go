package topology

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"encore.app/pkg/cachecore"
	"encore.app/pkg/persistadapter"
	"encore.app/pkg/reqcontext"
	"encore.app/pkg/signalbroker"
)

func freshService(t *testing.T) *Service {
	t.Helper()
	Broker = signalbroker.New()
	s := &Service{
		Cache:         cachecore.NewCacheStore(Broker),
		Context:       reqcontext.New("x-user", "x-role"),
		Projects:      persistadapter.NewMemoryStore("project", []string{"project_id"}, projectFields, Broker),
		Areas:         persistadapter.NewMemoryStore("area", []string{"project_id", "area_id"}, areaFields, Broker),
		Zones:         persistadapter.NewMemoryStore("zone", []string{"project_id", "area_id", "zone_id"}, zoneFields, Broker),
		Collaborators: persistadapter.NewMemoryStore("collaborator", []string{"project_id", "email"}, collaboratorFields, Broker),
	}
	svc = s
	return s
}

func TestCacheEvictionViaCreateEvent(t *testing.T) {
	freshService(t)

	req := httptest.NewRequest(http.MethodGet, "/projects/P/areas", nil)
	rec := httptest.NewRecorder()
	ListAreas(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first list status = %d, want 200", rec.Code)
	}
	body1, _ := io.ReadAll(rec.Result().Body)
	if string(body1) != "null" {
		t.Fatalf("first list body = %q, want null", body1)
	}

	createReq := httptest.NewRequest(http.MethodPost, "/projects/P/areas", strings.NewReader(`{"area_id":"A","name":"north"}`))
	createRec := httptest.NewRecorder()
	CreateArea(createRec, createReq)
	if createRec.Code != http.StatusSeeOther {
		t.Fatalf("create status = %d, want 303", createRec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/projects/P/areas", nil)
	rec2 := httptest.NewRecorder()
	ListAreas(rec2, req2)
	body2, _ := io.ReadAll(rec2.Result().Body)
	if string(body2) == string(body1) {
		t.Fatal("expected the area list cache entry to be evicted by the create event")
	}
}

func TestDeleteProjectRedirectsTo303(t *testing.T) {
	freshService(t)

	createReq := httptest.NewRequest(http.MethodPost, "/projects", strings.NewReader(`{"project_id":"P","name":"demo"}`))
	createRec := httptest.NewRecorder()
	CreateProject(createRec, createReq)
	if loc := createRec.Header().Get("Location"); loc != "/projects/P" {
		t.Fatalf("Location = %q, want /projects/P", loc)
	}

	deleteReq := httptest.NewRequest(http.MethodDelete, "/projects/P", nil)
	deleteRec := httptest.NewRecorder()
	DeleteProject(deleteRec, deleteReq)
	if deleteRec.Code != http.StatusSeeOther {
		t.Fatalf("delete status = %d, want 303", deleteRec.Code)
	}
	if loc := deleteRec.Header().Get("Location"); loc != "/projects" {
		t.Fatalf("Location = %q, want /projects", loc)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/projects/P", nil)
	getRec := httptest.NewRecorder()
	GetProject(getRec, getReq)
	if getRec.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", getRec.Code)
	}
}
