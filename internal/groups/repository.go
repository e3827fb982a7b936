package groups

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

// Create inserts a new group.
func (r *PGRepository) Create(ctx context.Context, g rbac.Group) (rbac.Group, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permission_groups (tenant_id, name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		g.TenantID, g.Name, g.IsActive).
		Scan(&g.ID, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return rbac.Group{}, fmt.Errorf("groups repo: create: %w", err)
	}
	return g, nil
}

// Get fetches a group by id within its tenant.
func (r *PGRepository) Get(ctx context.Context, tenantID, id int64) (rbac.Group, error) {
	var g rbac.Group
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, is_active, created_at, updated_at
		FROM permission_groups
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`, tenantID, id).
		Scan(&g.ID, &g.TenantID, &g.Name, &g.IsActive, &g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return rbac.Group{}, rbac.ErrNotFound
		}
		return rbac.Group{}, fmt.Errorf("groups repo: get: %w", err)
	}
	return g, nil
}

// Deactivate soft-disables the group.
func (r *PGRepository) Deactivate(ctx context.Context, tenantID, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE permission_groups SET is_active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`, tenantID, id)
	if err != nil {
		return fmt.Errorf("groups repo: deactivate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// ReplaceGrants swaps the group's grant set in one transaction.
func (r *PGRepository) ReplaceGrants(ctx context.Context, groupID int64, grants []rbac.GrantRecord) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE group_grants SET is_active = FALSE, deleted_at = NOW()
			WHERE group_id = $1 AND deleted_at IS NULL`, groupID); err != nil {
			return fmt.Errorf("groups repo: clear grants: %w", err)
		}
		for _, g := range grants {
			scopeJSON, err := json.Marshal(g.Scope)
			if err != nil {
				return fmt.Errorf("groups repo: marshal scope: %w", err)
			}
			condJSON, err := json.Marshal(g.Conditions)
			if err != nil {
				return fmt.Errorf("groups repo: marshal conditions: %w", err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO group_grants (group_id, permission_code, level, is_mandatory, scope, conditions, requires_mfa, is_active)
				VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)`,
				groupID, g.PermissionCode, g.Level, g.IsMandatory, scopeJSON, condJSON, g.RequiresMFA); err != nil {
				return fmt.Errorf("groups repo: insert grant: %w", err)
			}
		}
		return nil
	})
}

// CreateAssignment inserts a membership row.
func (r *PGRepository) CreateAssignment(ctx context.Context, tenantID int64, a rbac.Assignment) (rbac.Assignment, error) {
	effectiveTo := pgtype.Timestamptz{}
	if a.EffectiveTo != nil {
		effectiveTo = pgtype.Timestamptz{Time: *a.EffectiveTo, Valid: true}
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO group_assignments (tenant_id, user_id, group_id, effective_from, effective_to, is_active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id, updated_at`,
		tenantID, a.UserID, a.SourceID, a.EffectiveFrom, effectiveTo, a.IsActive).
		Scan(&a.ID, &a.UpdatedAt)
	if err != nil {
		return rbac.Assignment{}, fmt.Errorf("groups repo: create assignment: %w", err)
	}
	return a, nil
}

// EndAssignment closes the user's live membership now.
func (r *PGRepository) EndAssignment(ctx context.Context, tenantID, userID, groupID int64, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE group_assignments
		SET effective_to = $4, is_active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND user_id = $2 AND group_id = $3
		  AND is_active AND deleted_at IS NULL`,
		tenantID, userID, groupID, now)
	if err != nil {
		return fmt.Errorf("groups repo: end assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}
