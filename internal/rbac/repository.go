package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Repository is the PostgreSQL implementation of every engine store:
// designations, groups, overrides, catalog, profiles and fingerprints.
// All queries filter soft-deleted rows.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveAssignments returns the user's live designation assignments with
// their designations attached.
func (r *Repository) ListActiveAssignments(ctx context.Context, tenantID, userID int64, now time.Time) ([]DesignationAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id, a.user_id, a.designation_id, a.effective_from, a.effective_to, a.is_active, a.updated_at,
		       d.id, d.tenant_id, d.name, d.hierarchy_level, d.priority_level, d.is_active, d.created_at, d.updated_at, d.deleted_at
		FROM designation_assignments a
		JOIN designations d ON d.id = a.designation_id
		WHERE a.tenant_id = $1 AND a.user_id = $2
		  AND a.is_active AND a.deleted_at IS NULL
		  AND a.effective_from <= $3
		  AND (a.effective_to IS NULL OR a.effective_to > $3)
		  AND d.is_active AND d.deleted_at IS NULL
		ORDER BY a.id`, tenantID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("rbac repo: designation assignments: %w", err)
	}
	defer rows.Close()

	var out []DesignationAssignment
	for rows.Next() {
		var (
			a           DesignationAssignment
			effectiveTo pgtype.Timestamptz
			deletedAt   pgtype.Timestamptz
		)
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.SourceID, &a.EffectiveFrom, &effectiveTo, &a.IsActive, &a.UpdatedAt,
			&a.Designation.ID, &a.Designation.TenantID, &a.Designation.Name, &a.Designation.HierarchyLevel,
			&a.Designation.Priority, &a.Designation.IsActive, &a.Designation.CreatedAt, &a.Designation.UpdatedAt, &deletedAt,
		); err != nil {
			return nil, fmt.Errorf("rbac repo: scan designation assignment: %w", err)
		}
		if effectiveTo.Valid {
			t := effectiveTo.Time
			a.EffectiveTo = &t
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			a.Designation.DeletedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListBaseGrants returns a designation's active base grants.
func (r *Repository) ListBaseGrants(ctx context.Context, designationID int64) ([]GrantRecord, error) {
	return r.queryGrants(ctx, `
		SELECT permission_code, level, is_mandatory, scope, conditions, requires_mfa
		FROM designation_grants
		WHERE designation_id = $1 AND is_active AND deleted_at IS NULL
		ORDER BY id`, designationID)
}

// Groups exposes the repository as a GroupStore. Group reads live on a view
// type because ListActiveAssignments already names the designation variant.
func (r *Repository) Groups() GroupStore { return groupRepo{r} }

type groupRepo struct{ r *Repository }

func (g groupRepo) ListActiveAssignments(ctx context.Context, tenantID, userID int64, now time.Time) ([]GroupAssignment, error) {
	rows, err := g.r.pool.Query(ctx, `
		SELECT a.id, a.user_id, a.group_id, a.effective_from, a.effective_to, a.is_active, a.updated_at,
		       p.id, p.tenant_id, p.name, p.is_active, p.created_at, p.updated_at, p.deleted_at
		FROM group_assignments a
		JOIN permission_groups p ON p.id = a.group_id
		WHERE a.tenant_id = $1 AND a.user_id = $2
		  AND a.is_active AND a.deleted_at IS NULL
		  AND a.effective_from <= $3
		  AND (a.effective_to IS NULL OR a.effective_to > $3)
		  AND p.is_active AND p.deleted_at IS NULL
		ORDER BY a.id`, tenantID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("rbac repo: group assignments: %w", err)
	}
	defer rows.Close()

	var out []GroupAssignment
	for rows.Next() {
		var (
			a           GroupAssignment
			effectiveTo pgtype.Timestamptz
			deletedAt   pgtype.Timestamptz
		)
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.SourceID, &a.EffectiveFrom, &effectiveTo, &a.IsActive, &a.UpdatedAt,
			&a.Group.ID, &a.Group.TenantID, &a.Group.Name, &a.Group.IsActive, &a.Group.CreatedAt, &a.Group.UpdatedAt, &deletedAt,
		); err != nil {
			return nil, fmt.Errorf("rbac repo: scan group assignment: %w", err)
		}
		if effectiveTo.Valid {
			t := effectiveTo.Time
			a.EffectiveTo = &t
		}
		if deletedAt.Valid {
			t := deletedAt.Time
			a.Group.DeletedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (g groupRepo) ListGroupGrants(ctx context.Context, groupID int64) ([]GrantRecord, error) {
	return g.r.queryGrants(ctx, `
		SELECT permission_code, level, is_mandatory, scope, conditions, requires_mfa
		FROM group_grants
		WHERE group_id = $1 AND is_active AND deleted_at IS NULL
		ORDER BY id`, groupID)
}

// ListActiveApprovedOverrides returns the user's live overrides as grant
// records. Only approved overrides inside their window participate.
func (r *Repository) ListActiveApprovedOverrides(ctx context.Context, tenantID, userID int64, now time.Time) ([]GrantRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, permission_code, override_type, level, scope, conditions, requires_mfa
		FROM user_overrides
		WHERE tenant_id = $1 AND user_id = $2
		  AND is_active AND deleted_at IS NULL
		  AND approval_status = 'approved'
		  AND effective_from <= $3
		  AND (effective_to IS NULL OR effective_to > $3)
		ORDER BY id`, tenantID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("rbac repo: overrides: %w", err)
	}
	defer rows.Close()

	var out []GrantRecord
	for rows.Next() {
		var (
			g          GrantRecord
			scopeRaw   []byte
			condRaw    []byte
			overrideID int64
		)
		if err := rows.Scan(&overrideID, &g.PermissionCode, &g.OverrideType, &g.Level, &scopeRaw, &condRaw, &g.RequiresMFA); err != nil {
			return nil, fmt.Errorf("rbac repo: scan override: %w", err)
		}
		if err := decodeJSON(scopeRaw, &g.Scope); err != nil {
			return nil, fmt.Errorf("rbac repo: override scope: %w", err)
		}
		if err := decodeJSON(condRaw, &g.Conditions); err != nil {
			return nil, fmt.Errorf("rbac repo: override conditions: %w", err)
		}
		g.Source = SourceOverride
		g.SourceID = overrideID
		out = append(out, g)
	}
	return out, rows.Err()
}

// ListActivePermissions returns the tenant's active catalog entries.
func (r *Repository) ListActivePermissions(ctx context.Context, tenantID int64) ([]Permission, error) {
	return r.listPermissions(ctx, tenantID, true)
}

// ListPermissions returns every permission of the tenant, active or not.
func (r *Repository) ListPermissions(ctx context.Context, tenantID int64) ([]Permission, error) {
	return r.listPermissions(ctx, tenantID, false)
}

func (r *Repository) listPermissions(ctx context.Context, tenantID int64, activeOnly bool) ([]Permission, error) {
	query := `
		SELECT id, tenant_id, code, name, category, risk_level, is_system, requires_scope, is_active, created_at, updated_at
		FROM permissions
		WHERE tenant_id = $1 AND deleted_at IS NULL`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY code`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rbac repo: permissions: %w", err)
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Category, &p.Risk, &p.IsSystem, &p.RequiresScope, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("rbac repo: scan permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetPermission fetches one catalog entry by code.
func (r *Repository) GetPermission(ctx context.Context, tenantID int64, code string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, code, name, category, risk_level, is_system, requires_scope, is_active, created_at, updated_at
		FROM permissions
		WHERE tenant_id = $1 AND code = $2 AND deleted_at IS NULL`, tenantID, code).
		Scan(&p.ID, &p.TenantID, &p.Code, &p.Name, &p.Category, &p.Risk, &p.IsSystem, &p.RequiresScope, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, ErrNotFound
		}
		return Permission{}, fmt.Errorf("rbac repo: get permission: %w", err)
	}
	return p, nil
}

// CreatePermission inserts a catalog entry, mapping unique violations to
// ErrDuplicateCode.
func (r *Repository) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (tenant_id, code, name, category, risk_level, is_system, requires_scope, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		p.TenantID, p.Code, p.Name, p.Category, p.Risk, p.IsSystem, p.RequiresScope, p.IsActive).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Permission{}, ErrDuplicateCode
		}
		return Permission{}, fmt.Errorf("rbac repo: create permission: %w", err)
	}
	return p, nil
}

// DeactivatePermission soft-disables a catalog entry.
func (r *Repository) DeactivatePermission(ctx context.Context, tenantID int64, code string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE permissions SET is_active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND code = $2 AND deleted_at IS NULL`, tenantID, code)
	if err != nil {
		return fmt.Errorf("rbac repo: deactivate permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeletePermission hard-deletes a catalog entry. Reference checks happen in
// the catalog service before this runs.
func (r *Repository) DeletePermission(ctx context.Context, tenantID int64, code string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM permissions WHERE tenant_id = $1 AND code = $2`, tenantID, code)
	if err != nil {
		return fmt.Errorf("rbac repo: delete permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActiveReferences counts live grants pointing at the code across all
// three sources.
func (r *Repository) CountActiveReferences(ctx context.Context, tenantID int64, code string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM designation_grants g
			   JOIN designations d ON d.id = g.designation_id
			  WHERE d.tenant_id = $1 AND g.permission_code = $2 AND g.is_active AND g.deleted_at IS NULL)
			+ (SELECT COUNT(*) FROM group_grants g
			   JOIN permission_groups p ON p.id = g.group_id
			  WHERE p.tenant_id = $1 AND g.permission_code = $2 AND g.is_active AND g.deleted_at IS NULL)
			+ (SELECT COUNT(*) FROM user_overrides o
			  WHERE o.tenant_id = $1 AND o.permission_code = $2 AND o.is_active AND o.deleted_at IS NULL)`,
		tenantID, code).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("rbac repo: count references: %w", err)
	}
	return count, nil
}

// GetProfile loads the engine's slice of a user profile.
func (r *Repository) GetProfile(ctx context.Context, tenantID, userID int64) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, tenant_id, hired_at, is_active
		FROM user_profiles
		WHERE tenant_id = $1 AND user_id = $2 AND deleted_at IS NULL`, tenantID, userID).
		Scan(&p.UserID, &p.TenantID, &p.HiredAt, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("rbac repo: get profile: %w", err)
	}
	return p, nil
}

// DesignationVersion is the max updated_at across the user's live designation
// assignments; the zero time when there are none.
func (r *Repository) DesignationVersion(ctx context.Context, tenantID, userID int64) (time.Time, error) {
	return r.maxUpdatedAt(ctx, `
		SELECT MAX(updated_at) FROM designation_assignments
		WHERE tenant_id = $1 AND user_id = $2 AND is_active AND deleted_at IS NULL`, tenantID, userID)
}

// OverrideVersion is the max updated_at across the user's live overrides.
func (r *Repository) OverrideVersion(ctx context.Context, tenantID, userID int64) (time.Time, error) {
	return r.maxUpdatedAt(ctx, `
		SELECT MAX(updated_at) FROM user_overrides
		WHERE tenant_id = $1 AND user_id = $2 AND is_active AND deleted_at IS NULL`, tenantID, userID)
}

func (r *Repository) maxUpdatedAt(ctx context.Context, query string, tenantID, userID int64) (time.Time, error) {
	var ts pgtype.Timestamptz
	if err := r.pool.QueryRow(ctx, query, tenantID, userID).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("rbac repo: fingerprint: %w", err)
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

func (r *Repository) queryGrants(ctx context.Context, query string, arg int64) ([]GrantRecord, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("rbac repo: grants: %w", err)
	}
	defer rows.Close()

	var out []GrantRecord
	for rows.Next() {
		var (
			g        GrantRecord
			scopeRaw []byte
			condRaw  []byte
		)
		if err := rows.Scan(&g.PermissionCode, &g.Level, &g.IsMandatory, &scopeRaw, &condRaw, &g.RequiresMFA); err != nil {
			return nil, fmt.Errorf("rbac repo: scan grant: %w", err)
		}
		if err := decodeJSON(scopeRaw, &g.Scope); err != nil {
			return nil, fmt.Errorf("rbac repo: grant scope: %w", err)
		}
		if err := decodeJSON(condRaw, &g.Conditions); err != nil {
			return nil, fmt.Errorf("rbac repo: grant conditions: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func decodeJSON(raw []byte, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}
