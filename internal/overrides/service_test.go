package overrides

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitegrid/sitegrid/internal/audit"
	"github.com/sitegrid/sitegrid/internal/rbac"
)

type memRepo struct {
	overrides map[int64]Override
	nextID    int64
}

func newMemRepo() *memRepo {
	return &memRepo{overrides: map[int64]Override{}}
}

func (r *memRepo) Create(ctx context.Context, o Override) (Override, error) {
	r.nextID++
	o.ID = r.nextID
	r.overrides[o.ID] = o
	return o, nil
}

func (r *memRepo) Get(ctx context.Context, tenantID, id int64) (Override, error) {
	o, ok := r.overrides[id]
	if !ok {
		return Override{}, rbac.ErrNotFound
	}
	return o, nil
}

func (r *memRepo) SetStatus(ctx context.Context, tenantID, id int64, status ApprovalStatus) error {
	o, ok := r.overrides[id]
	if !ok {
		return rbac.ErrNotFound
	}
	o.Status = status
	r.overrides[id] = o
	return nil
}

func (r *memRepo) Revoke(ctx context.Context, tenantID, id int64, now time.Time) error {
	o, ok := r.overrides[id]
	if !ok {
		return rbac.ErrNotFound
	}
	o.IsActive = false
	o.EffectiveTo = &now
	r.overrides[id] = o
	return nil
}

type stubCatalog struct{ codes map[string]bool }

func (c stubCatalog) GetPermission(ctx context.Context, tenantID int64, code string) (rbac.Permission, error) {
	if !c.codes[code] {
		return rbac.Permission{}, rbac.ErrNotFound
	}
	return rbac.Permission{Code: code, IsActive: true}, nil
}

type spyInvalidator struct {
	users []int64
}

func (s *spyInvalidator) InvalidateUser(ctx context.Context, tenantID, userID int64) error {
	s.users = append(s.users, userID)
	return nil
}

type spyRecorder struct {
	actions []string
}

func (s *spyRecorder) Record(ctx context.Context, entry audit.Entry) error {
	s.actions = append(s.actions, entry.Action)
	return nil
}

func newTestService() (*Service, *memRepo, *spyInvalidator, *spyRecorder) {
	repo := newMemRepo()
	inv := &spyInvalidator{}
	rec := &spyRecorder{}
	catalog := stubCatalog{codes: map[string]bool{"invoices.void": true, "sites.edit": true}}
	return NewService(repo, catalog, inv, rec, nil), repo, inv, rec
}

func validCreate() CreateRequest {
	return CreateRequest{
		TenantID:       1,
		UserID:         10,
		PermissionCode: "sites.edit",
		Type:           rbac.OverrideAddition,
		Level:          rbac.LevelGranted,
		Reason:         "coverage for site launch",
	}
}

func TestCreateStartsPendingWithoutInvalidation(t *testing.T) {
	svc, _, inv, rec := newTestService()

	created, err := svc.Create(context.Background(), validCreate())
	require.NoError(t, err)
	require.Equal(t, StatusPending, created.Status)
	require.True(t, created.IsActive)
	require.False(t, created.EffectiveFrom.IsZero())
	require.Empty(t, inv.users, "a pending override changes nothing yet")
	require.Equal(t, []string{"override.create"}, rec.actions)
}

func TestCreateValidatesShape(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	req := validCreate()
	req.Type = rbac.OverrideRestriction
	req.Level = rbac.LevelGranted
	_, err := svc.Create(ctx, req)
	require.Error(t, err, "restriction must deny")

	req = validCreate()
	req.Type = rbac.OverrideAddition
	req.Level = rbac.LevelDenied
	_, err = svc.Create(ctx, req)
	require.Error(t, err, "addition must not deny")

	req = validCreate()
	req.PermissionCode = "ghost.permission"
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, rbac.ErrNotFound)

	req = validCreate()
	req.PermissionCode = "bad code!"
	_, err = svc.Create(ctx, req)
	require.ErrorIs(t, err, rbac.ErrInvalidCode)
}

func TestApproveInvalidatesUser(t *testing.T) {
	svc, _, inv, rec := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	approved, err := svc.Approve(ctx, 1, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, []int64{10}, inv.users)
	require.Contains(t, rec.actions, "override.approve")
}

func TestRejectDoesNotInvalidate(t *testing.T) {
	svc, _, inv, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, 1, created.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Empty(t, inv.users)
}

func TestTransitionGuards(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)

	_, err = svc.Approve(ctx, 1, created.ID)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, 1, created.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Reject(ctx, 1, created.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRevokeInvalidatesOnlyApproved(t *testing.T) {
	svc, repo, inv, _ := newTestService()
	ctx := context.Background()

	pending, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, 1, pending.ID))
	require.Empty(t, inv.users, "revoking a pending override changes nothing")
	require.False(t, repo.overrides[pending.ID].IsActive)

	approved, err := svc.Create(ctx, validCreate())
	require.NoError(t, err)
	_, err = svc.Approve(ctx, 1, approved.ID)
	require.NoError(t, err)
	inv.users = nil

	require.NoError(t, svc.Revoke(ctx, 1, approved.ID))
	require.Equal(t, []int64{10}, inv.users)
}
