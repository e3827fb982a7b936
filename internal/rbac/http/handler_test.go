package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/sitegrid/sitegrid/internal/rbac"
)

type stubStores struct {
	grants  map[int64][]rbac.GrantRecord
	profile bool
}

func (s stubStores) ListActiveAssignments(ctx context.Context, tenantID, userID int64, now time.Time) ([]rbac.DesignationAssignment, error) {
	var out []rbac.DesignationAssignment
	for id := range s.grants {
		out = append(out, rbac.DesignationAssignment{
			Assignment: rbac.Assignment{
				ID:            id,
				UserID:        userID,
				SourceID:      id,
				EffectiveFrom: now.Add(-time.Hour),
				IsActive:      true,
			},
			Designation: rbac.Designation{ID: id, TenantID: tenantID, IsActive: true},
		})
	}
	return out, nil
}

func (s stubStores) ListBaseGrants(ctx context.Context, designationID int64) ([]rbac.GrantRecord, error) {
	return s.grants[designationID], nil
}

func (s stubStores) ListActiveApprovedOverrides(ctx context.Context, tenantID, userID int64, now time.Time) ([]rbac.GrantRecord, error) {
	return nil, nil
}

func (s stubStores) ListActivePermissions(ctx context.Context, tenantID int64) ([]rbac.Permission, error) {
	return []rbac.Permission{{Code: "sites.view", Risk: rbac.RiskLow, IsActive: true}}, nil
}

func (s stubStores) GetPermission(ctx context.Context, tenantID int64, code string) (rbac.Permission, error) {
	return rbac.Permission{}, rbac.ErrNotFound
}

func (s stubStores) GetProfile(ctx context.Context, tenantID, userID int64) (rbac.Profile, error) {
	if !s.profile {
		return rbac.Profile{}, rbac.ErrNotFound
	}
	return rbac.Profile{UserID: userID, TenantID: tenantID, IsActive: true}, nil
}

type stubGroups struct{}

func (stubGroups) ListActiveAssignments(ctx context.Context, tenantID, userID int64, now time.Time) ([]rbac.GroupAssignment, error) {
	return nil, nil
}

func (stubGroups) ListGroupGrants(ctx context.Context, groupID int64) ([]rbac.GrantRecord, error) {
	return nil, nil
}

func newTestServer(t *testing.T, stores stubStores) *httptest.Server {
	t.Helper()
	engine := rbac.NewEngine(rbac.EngineParams{
		Designations: stores,
		Groups:       stubGroups{},
		Overrides:    stores,
		Catalog:      stores,
		Profiles:     stores,
	})
	handler := NewHandler(slog.Default(), engine)
	router := chi.NewRouter()
	handler.MountRoutes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveEndpoint(t *testing.T) {
	stores := stubStores{
		profile: true,
		grants: map[int64][]rbac.GrantRecord{
			1: {{PermissionCode: "sites.view", Level: rbac.LevelGranted}},
		},
	}
	srv := newTestServer(t, stores)

	resp, err := http.Post(srv.URL+"/resolve", "application/json",
		strings.NewReader(`{"tenant_id":1,"user_id":10}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestResolveEndpointValidation(t *testing.T) {
	srv := newTestServer(t, stubStores{profile: true})

	resp, err := http.Post(srv.URL+"/resolve", "application/json",
		strings.NewReader(`{"tenant_id":0,"user_id":10}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResolveEndpointUnknownUser(t *testing.T) {
	srv := newTestServer(t, stubStores{profile: false})

	resp, err := http.Post(srv.URL+"/resolve", "application/json",
		strings.NewReader(`{"tenant_id":1,"user_id":10}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCheckEndpointInvalidCode(t *testing.T) {
	srv := newTestServer(t, stubStores{profile: true})

	resp, err := http.Post(srv.URL+"/check", "application/json",
		strings.NewReader(`{"tenant_id":1,"user_id":10,"permission_code":"bad code!"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
