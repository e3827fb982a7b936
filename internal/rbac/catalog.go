package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// CatalogRepository is the write side of the permission catalog.
type CatalogRepository interface {
	CatalogStore
	ListPermissions(ctx context.Context, tenantID int64) ([]Permission, error)
	CreatePermission(ctx context.Context, p Permission) (Permission, error)
	DeactivatePermission(ctx context.Context, tenantID int64, code string) error
	DeletePermission(ctx context.Context, tenantID int64, code string) error
	// CountActiveReferences counts live grants pointing at the code across
	// designations, groups and overrides.
	CountActiveReferences(ctx context.Context, tenantID int64, code string) (int, error)
}

// Catalog manages the per-tenant permission registry. Mutations here change
// what every user in the tenant may resolve, so each one invalidates the
// whole tenant's cache.
type Catalog struct {
	repo   CatalogRepository
	cache  Cache
	logger *slog.Logger
}

// NewCatalog constructs the catalog service.
func NewCatalog(repo CatalogRepository, cache Cache, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{repo: repo, cache: cache, logger: logger}
}

// ListPermissions returns every permission of the tenant, active or not.
func (c *Catalog) ListPermissions(ctx context.Context, tenantID int64) ([]Permission, error) {
	return c.repo.ListPermissions(ctx, tenantID)
}

// GetPermission fetches a single permission by code.
func (c *Catalog) GetPermission(ctx context.Context, tenantID int64, code string) (Permission, error) {
	if err := ValidateCode(code); err != nil {
		return Permission{}, err
	}
	return c.repo.GetPermission(ctx, tenantID, code)
}

// CreatePermission registers a new custom permission. Codes are unique per
// tenant; a duplicate fails with ErrDuplicateCode.
func (c *Catalog) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	p.Code = strings.TrimSpace(p.Code)
	if err := ValidateCode(p.Code); err != nil {
		return Permission{}, err
	}
	if p.Code == WildcardCode {
		return Permission{}, fmt.Errorf("%w: wildcard is not a catalog entry", ErrInvalidCode)
	}
	if p.Risk == "" {
		p.Risk = RiskLow
	}
	p.IsActive = true
	created, err := c.repo.CreatePermission(ctx, p)
	if err != nil {
		return Permission{}, err
	}
	c.invalidateTenant(ctx, p.TenantID)
	return created, nil
}

// DeactivatePermission soft-disables a permission tenant-wide. Grants that
// still reference it stop resolving immediately.
func (c *Catalog) DeactivatePermission(ctx context.Context, tenantID int64, code string) error {
	perm, err := c.repo.GetPermission(ctx, tenantID, code)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return ErrSystemPermission
	}
	if err := c.repo.DeactivatePermission(ctx, tenantID, code); err != nil {
		return err
	}
	c.invalidateTenant(ctx, tenantID)
	return nil
}

// DeletePermission hard-deletes a permission. Only permitted for non-system
// permissions with zero live references.
func (c *Catalog) DeletePermission(ctx context.Context, tenantID int64, code string) error {
	perm, err := c.repo.GetPermission(ctx, tenantID, code)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return ErrSystemPermission
	}
	refs, err := c.repo.CountActiveReferences(ctx, tenantID, code)
	if err != nil {
		return err
	}
	if refs > 0 {
		return fmt.Errorf("%w: %d live references", ErrPermissionInUse, refs)
	}
	if err := c.repo.DeletePermission(ctx, tenantID, code); err != nil {
		return err
	}
	c.invalidateTenant(ctx, tenantID)
	return nil
}

func (c *Catalog) invalidateTenant(ctx context.Context, tenantID int64) {
	if c.cache == nil {
		return
	}
	if err := c.cache.InvalidateTenant(ctx, tenantID); err != nil {
		c.logger.Warn("catalog invalidate tenant", slog.Int64("tenant", tenantID), slog.Any("error", err))
	}
}
