package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memCatalogRepo struct {
	perms  map[string]Permission
	refs   map[string]int
	nextID int64
}

func newMemCatalogRepo() *memCatalogRepo {
	return &memCatalogRepo{perms: map[string]Permission{}, refs: map[string]int{}}
}

func (r *memCatalogRepo) ListActivePermissions(ctx context.Context, tenantID int64) ([]Permission, error) {
	var out []Permission
	for _, p := range r.perms {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memCatalogRepo) ListPermissions(ctx context.Context, tenantID int64) ([]Permission, error) {
	var out []Permission
	for _, p := range r.perms {
		out = append(out, p)
	}
	return out, nil
}

func (r *memCatalogRepo) GetPermission(ctx context.Context, tenantID int64, code string) (Permission, error) {
	p, ok := r.perms[code]
	if !ok {
		return Permission{}, ErrNotFound
	}
	return p, nil
}

func (r *memCatalogRepo) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	if _, exists := r.perms[p.Code]; exists {
		return Permission{}, ErrDuplicateCode
	}
	r.nextID++
	p.ID = r.nextID
	r.perms[p.Code] = p
	return p, nil
}

func (r *memCatalogRepo) DeactivatePermission(ctx context.Context, tenantID int64, code string) error {
	p, ok := r.perms[code]
	if !ok {
		return ErrNotFound
	}
	p.IsActive = false
	r.perms[code] = p
	return nil
}

func (r *memCatalogRepo) DeletePermission(ctx context.Context, tenantID int64, code string) error {
	if _, ok := r.perms[code]; !ok {
		return ErrNotFound
	}
	delete(r.perms, code)
	return nil
}

func (r *memCatalogRepo) CountActiveReferences(ctx context.Context, tenantID int64, code string) (int, error) {
	return r.refs[code], nil
}

func TestCatalogCreatePermission(t *testing.T) {
	repo := newMemCatalogRepo()
	cache := newMemoryCache()
	cache.entries[CacheKey{TenantID: 1, UserID: 10}] = ResolvedPermissions{}
	catalog := NewCatalog(repo, cache, nil)

	created, err := catalog.CreatePermission(context.Background(), Permission{TenantID: 1, Code: "sites.archive", Name: "Archive sites"})
	require.NoError(t, err)
	require.True(t, created.IsActive)
	require.Equal(t, RiskLow, created.Risk, "risk defaults to low")
	require.Empty(t, cache.entries, "catalog change invalidates the tenant")

	_, err = catalog.CreatePermission(context.Background(), Permission{TenantID: 1, Code: "sites.archive", Name: "dup"})
	require.ErrorIs(t, err, ErrDuplicateCode)
}

func TestCatalogRejectsBadCodes(t *testing.T) {
	catalog := NewCatalog(newMemCatalogRepo(), nil, nil)

	_, err := catalog.CreatePermission(context.Background(), Permission{TenantID: 1, Code: "no spaces"})
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = catalog.CreatePermission(context.Background(), Permission{TenantID: 1, Code: WildcardCode})
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestCatalogSystemPermissionGuards(t *testing.T) {
	repo := newMemCatalogRepo()
	repo.perms["rbac.catalog.manage"] = Permission{Code: "rbac.catalog.manage", IsSystem: true, IsActive: true}
	catalog := NewCatalog(repo, nil, nil)
	ctx := context.Background()

	err := catalog.DeactivatePermission(ctx, 1, "rbac.catalog.manage")
	require.ErrorIs(t, err, ErrSystemPermission)

	err = catalog.DeletePermission(ctx, 1, "rbac.catalog.manage")
	require.ErrorIs(t, err, ErrSystemPermission)
}

func TestCatalogDeleteRefusesLiveReferences(t *testing.T) {
	repo := newMemCatalogRepo()
	repo.perms["sites.edit"] = Permission{Code: "sites.edit", IsActive: true}
	repo.refs["sites.edit"] = 3
	catalog := NewCatalog(repo, nil, nil)

	err := catalog.DeletePermission(context.Background(), 1, "sites.edit")
	require.ErrorIs(t, err, ErrPermissionInUse)

	repo.refs["sites.edit"] = 0
	require.NoError(t, catalog.DeletePermission(context.Background(), 1, "sites.edit"))
	_, err = catalog.GetPermission(context.Background(), 1, "sites.edit")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCatalogDeactivateNotFound(t *testing.T) {
	catalog := NewCatalog(newMemCatalogRepo(), nil, nil)
	err := catalog.DeactivatePermission(context.Background(), 1, "ghost.permission")
	require.ErrorIs(t, err, ErrNotFound)
}
