package designations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitegrid/sitegrid/internal/platform/db"
	"github.com/sitegrid/sitegrid/internal/rbac"
)

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a new designation.
func (r *PGRepository) Create(ctx context.Context, d rbac.Designation) (rbac.Designation, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO designations (tenant_id, name, hierarchy_level, priority_level, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		d.TenantID, d.Name, d.HierarchyLevel, d.Priority, d.IsActive).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return rbac.Designation{}, fmt.Errorf("designations repo: create: %w", err)
	}
	return d, nil
}

// Get fetches a designation by id within its tenant.
func (r *PGRepository) Get(ctx context.Context, tenantID, id int64) (rbac.Designation, error) {
	var d rbac.Designation
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, hierarchy_level, priority_level, is_active, created_at, updated_at
		FROM designations
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`, tenantID, id).
		Scan(&d.ID, &d.TenantID, &d.Name, &d.HierarchyLevel, &d.Priority, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Designation{}, rbac.ErrNotFound
		}
		return rbac.Designation{}, fmt.Errorf("designations repo: get: %w", err)
	}
	return d, nil
}

// Update persists name, seniority and priority changes.
func (r *PGRepository) Update(ctx context.Context, d rbac.Designation) (rbac.Designation, error) {
	err := r.pool.QueryRow(ctx, `
		UPDATE designations
		SET name = $3, hierarchy_level = $4, priority_level = $5, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL
		RETURNING updated_at`,
		d.TenantID, d.ID, d.Name, d.HierarchyLevel, d.Priority).
		Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Designation{}, rbac.ErrNotFound
		}
		return rbac.Designation{}, fmt.Errorf("designations repo: update: %w", err)
	}
	return d, nil
}

// Deactivate soft-disables the designation.
func (r *PGRepository) Deactivate(ctx context.Context, tenantID, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE designations SET is_active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`, tenantID, id)
	if err != nil {
		return fmt.Errorf("designations repo: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// ReplaceBaseGrants swaps the designation's grant set atomically: soft-delete
// the old rows, insert the new ones, one transaction.
func (r *PGRepository) ReplaceBaseGrants(ctx context.Context, designationID int64, grants []rbac.GrantRecord) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE designation_grants SET is_active = FALSE, deleted_at = NOW()
			WHERE designation_id = $1 AND deleted_at IS NULL`, designationID); err != nil {
			return fmt.Errorf("designations repo: clear grants: %w", err)
		}
		for _, g := range grants {
			scopeJSON, err := json.Marshal(g.Scope)
			if err != nil {
				return fmt.Errorf("designations repo: marshal scope: %w", err)
			}
			condJSON, err := json.Marshal(g.Conditions)
			if err != nil {
				return fmt.Errorf("designations repo: marshal conditions: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO designation_grants (designation_id, permission_code, level, is_mandatory, scope, conditions, requires_mfa, is_active)
				VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)`,
				designationID, g.PermissionCode, g.Level, g.IsMandatory, scopeJSON, condJSON, g.RequiresMFA); err != nil {
				return fmt.Errorf("designations repo: insert grant: %w", err)
			}
		}
		return nil
	})
}

// CreateAssignment inserts a new assignment row.
func (r *PGRepository) CreateAssignment(ctx context.Context, tenantID int64, a rbac.Assignment) (rbac.Assignment, error) {
	effectiveTo := pgtype.Timestamptz{}
	if a.EffectiveTo != nil {
		effectiveTo = pgtype.Timestamptz{Time: *a.EffectiveTo, Valid: true}
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO designation_assignments (tenant_id, user_id, designation_id, effective_from, effective_to, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, updated_at`,
		tenantID, a.UserID, a.SourceID, a.EffectiveFrom, effectiveTo, a.IsActive).
		Scan(&a.ID, &a.UpdatedAt)
	if err != nil {
		return rbac.Assignment{}, fmt.Errorf("designations repo: create assignment: %w", err)
	}
	return a, nil
}

// EndAssignment closes the user's live assignment window now.
func (r *PGRepository) EndAssignment(ctx context.Context, tenantID, userID, designationID int64, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE designation_assignments
		SET effective_to = $4, is_active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND user_id = $2 AND designation_id = $3
		  AND is_active AND deleted_at IS NULL`,
		tenantID, userID, designationID, now)
	if err != nil {
		return fmt.Errorf("designations repo: end assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}
