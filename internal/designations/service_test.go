package designations

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitegrid/sitegrid/internal/audit"
	"github.com/sitegrid/sitegrid/internal/rbac"
)

type memRepo struct {
	designations map[int64]rbac.Designation
	grants       map[int64][]rbac.GrantRecord
	assignments  []rbac.Assignment
	nextID       int64
}

func newMemRepo() *memRepo {
	return &memRepo{designations: map[int64]rbac.Designation{}, grants: map[int64][]rbac.GrantRecord{}}
}

func (r *memRepo) Create(ctx context.Context, d rbac.Designation) (rbac.Designation, error) {
	r.nextID++
	d.ID = r.nextID
	r.designations[d.ID] = d
	return d, nil
}

func (r *memRepo) Get(ctx context.Context, tenantID, id int64) (rbac.Designation, error) {
	d, ok := r.designations[id]
	if !ok {
		return rbac.Designation{}, rbac.ErrNotFound
	}
	return d, nil
}

func (r *memRepo) Update(ctx context.Context, d rbac.Designation) (rbac.Designation, error) {
	if _, ok := r.designations[d.ID]; !ok {
		return rbac.Designation{}, rbac.ErrNotFound
	}
	r.designations[d.ID] = d
	return d, nil
}

func (r *memRepo) Deactivate(ctx context.Context, tenantID, id int64) error {
	d, ok := r.designations[id]
	if !ok {
		return rbac.ErrNotFound
	}
	d.IsActive = false
	r.designations[id] = d
	return nil
}

func (r *memRepo) ReplaceBaseGrants(ctx context.Context, designationID int64, grants []rbac.GrantRecord) error {
	r.grants[designationID] = grants
	return nil
}

func (r *memRepo) CreateAssignment(ctx context.Context, tenantID int64, a rbac.Assignment) (rbac.Assignment, error) {
	r.nextID++
	a.ID = r.nextID
	r.assignments = append(r.assignments, a)
	return a, nil
}

func (r *memRepo) EndAssignment(ctx context.Context, tenantID, userID, designationID int64, now time.Time) error {
	for i, a := range r.assignments {
		if a.UserID == userID && a.SourceID == designationID && a.IsActive {
			end := now
			r.assignments[i].EffectiveTo = &end
			r.assignments[i].IsActive = false
			return nil
		}
	}
	return rbac.ErrNotFound
}

type spyInvalidator struct {
	users   []int64
	tenants []int64
}

func (s *spyInvalidator) InvalidateUser(ctx context.Context, tenantID, userID int64) error {
	s.users = append(s.users, userID)
	return nil
}

func (s *spyInvalidator) InvalidateTenant(ctx context.Context, tenantID int64) error {
	s.tenants = append(s.tenants, tenantID)
	return nil
}

type spyRecorder struct{ actions []string }

func (s *spyRecorder) Record(ctx context.Context, entry audit.Entry) error {
	s.actions = append(s.actions, entry.Action)
	return nil
}

func newTestService() (*Service, *memRepo, *spyInvalidator, *spyRecorder) {
	repo := newMemRepo()
	inv := &spyInvalidator{}
	rec := &spyRecorder{}
	return NewService(repo, inv, rec, nil), repo, inv, rec
}

func TestCreateValidation(t *testing.T) {
	svc, _, inv, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{TenantID: 1, Name: "Regional Manager", HierarchyLevel: 1, Priority: 50})
	require.NoError(t, err)
	require.True(t, created.IsActive)
	require.Empty(t, inv.tenants, "a fresh designation has no holders to invalidate")

	_, err = svc.Create(ctx, CreateRequest{TenantID: 1, Name: "x"})
	require.Error(t, err, "name too short")

	_, err = svc.Create(ctx, CreateRequest{Name: "No Tenant"})
	require.Error(t, err)
}

func TestUpdateInvalidatesTenant(t *testing.T) {
	svc, _, inv, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{TenantID: 1, Name: "Supervisor", HierarchyLevel: 2, Priority: 10})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, UpdateRequest{TenantID: 1, DesignationID: created.ID, Name: "Supervisor", HierarchyLevel: 2, Priority: 80})
	require.NoError(t, err)
	require.Equal(t, 80, updated.Priority)
	require.Equal(t, []int64{1}, inv.tenants, "priority feeds every holder's resolution")
}

func TestDeactivateInvalidatesTenant(t *testing.T) {
	svc, repo, inv, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{TenantID: 1, Name: "Supervisor"})
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, 1, created.ID))
	require.False(t, repo.designations[created.ID].IsActive)
	require.Equal(t, []int64{1}, inv.tenants)
}

func TestSetBaseGrantsRejectsDeny(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{TenantID: 1, Name: "Supervisor"})
	require.NoError(t, err)

	err = svc.SetBaseGrants(ctx, 1, created.ID, []GrantInput{
		{PermissionCode: "sites.view", Level: rbac.LevelDenied},
	})
	require.Error(t, err, "designations grant, they never deny")
}

func TestSetBaseGrantsReplacesAndInvalidates(t *testing.T) {
	svc, repo, inv, rec := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{TenantID: 1, Name: "Supervisor"})
	require.NoError(t, err)

	err = svc.SetBaseGrants(ctx, 1, created.ID, []GrantInput{
		{PermissionCode: "sites.view", Level: rbac.LevelGranted},
		{PermissionCode: "invoices.approve", Level: rbac.LevelConditional, Conditions: map[string]any{"min_tenure_days": 90}},
	})
	require.NoError(t, err)
	require.Len(t, repo.grants[created.ID], 2)
	require.Equal(t, []int64{1}, inv.tenants)
	require.Contains(t, rec.actions, "designation.grants.replace")

	err = svc.SetBaseGrants(ctx, 1, 999, nil)
	require.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestAssignInvalidatesOnlyUser(t *testing.T) {
	svc, _, inv, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{TenantID: 1, Name: "Supervisor"})
	require.NoError(t, err)

	assignment, err := svc.Assign(ctx, AssignRequest{TenantID: 1, UserID: 10, DesignationID: created.ID})
	require.NoError(t, err)
	require.True(t, assignment.IsActive)
	require.False(t, assignment.EffectiveFrom.IsZero())
	require.Equal(t, []int64{10}, inv.users)
	require.Empty(t, inv.tenants)

	_, err = svc.Assign(ctx, AssignRequest{TenantID: 1, UserID: 10, DesignationID: 999})
	require.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestUnassignEndsWindow(t *testing.T) {
	svc, repo, inv, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, CreateRequest{TenantID: 1, Name: "Supervisor"})
	require.NoError(t, err)
	_, err = svc.Assign(ctx, AssignRequest{TenantID: 1, UserID: 10, DesignationID: created.ID})
	require.NoError(t, err)
	inv.users = nil

	require.NoError(t, svc.Unassign(ctx, 1, 10, created.ID))
	require.Equal(t, []int64{10}, inv.users)
	require.NotNil(t, repo.assignments[0].EffectiveTo)
}
