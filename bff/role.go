package bff

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"regexp"

	"encore.app/pkg/reqcontext"
)

// projectIDPattern extracts a project id from any inbound path that
// names one. The original's RoleMiddleware used a hex-UUID-only
// pattern (`[a-f0-9]+`); this is broadened to any path-segment-safe
// token since topology's project ids aren't restricted to hex.
var projectIDPattern = regexp.MustCompile(`^/projects/([^/]+)`)

// resolveRoleMiddleware resolves x-role for any request whose path
// already names a project, mirroring the original's pre-handler
// lookup. Requests that don't name a project yet (POST /projects) pass
// through unresolved; resolveRoleAfterRedirect is called explicitly by
// handlers that create a resource and need the role to become
// available against the resource's newly known id in the same round
// trip — the supplemented fix for the original's POST-then-GET
// workaround (see DESIGN.md).
func (s *Service) resolveRoleMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m := projectIDPattern.FindStringSubmatch(r.URL.Path); m != nil {
			s.resolveRole(r.Context(), m[1]) //nolint:errcheck
		}
		next(w, r)
	}
}

// resolveRoleAfterRedirect resolves x-role against the project id found
// in a resolved upstream URL (e.g. the final GET a create's 303 landed
// on) and stores it in ctx for any further fan-out the same handler
// performs.
func (s *Service) resolveRoleAfterRedirect(ctx context.Context, resolvedURL string) {
	if m := projectIDPattern.FindStringSubmatch(pathOf(resolvedURL)); m != nil {
		s.resolveRole(ctx, m[1]) //nolint:errcheck
	}
}

func (s *Service) resolveRole(ctx context.Context, projectID string) error {
	resp, err := s.Session.Get(ctx, s.Config.TopologyBaseURL+"/projects/"+projectID+"/role")
	if err != nil {
		return err
	}

	var role *string
	if err := json.Unmarshal(resp.Body, &role); err != nil {
		return err
	}
	if role == nil {
		return nil
	}
	reqcontext.Update(ctx, map[string]string{"x-role": *role})
	return nil
}

func pathOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Path
}
