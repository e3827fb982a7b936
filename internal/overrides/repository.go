package overrides

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

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

// Create inserts a new override.
func (r *PGRepository) Create(ctx context.Context, o Override) (Override, error) {
	scopeJSON, err := json.Marshal(o.Scope)
	if err != nil {
		return Override{}, fmt.Errorf("overrides repo: marshal scope: %w", err)
	}
	condJSON, err := json.Marshal(o.Conditions)
	if err != nil {
		return Override{}, fmt.Errorf("overrides repo: marshal conditions: %w", err)
	}
	effectiveTo := pgtype.Timestamptz{}
	if o.EffectiveTo != nil {
		effectiveTo = pgtype.Timestamptz{Time: *o.EffectiveTo, Valid: true}
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO user_overrides (tenant_id, user_id, permission_code, override_type, level, scope, conditions, requires_mfa, approval_status, reason, effective_from, effective_to, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING id, created_at, updated_at`,
		o.TenantID, o.UserID, o.PermissionCode, o.Type, o.Level, scopeJSON, condJSON, o.RequiresMFA,
		o.Status, o.Reason, o.EffectiveFrom, effectiveTo, o.IsActive).
		Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Override{}, fmt.Errorf("overrides repo: create: %w", err)
	}
	return o, nil
}

// Get fetches an override by id within its tenant.
func (r *PGRepository) Get(ctx context.Context, tenantID, id int64) (Override, error) {
	var (
		o           Override
		scopeRaw    []byte
		condRaw     []byte
		effectiveTo pgtype.Timestamptz
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, user_id, permission_code, override_type, level, scope, conditions, requires_mfa, approval_status, reason, effective_from, effective_to, is_active, created_at, updated_at
		FROM user_overrides
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`, tenantID, id).
		Scan(&o.ID, &o.TenantID, &o.UserID, &o.PermissionCode, &o.Type, &o.Level, &scopeRaw, &condRaw,
			&o.RequiresMFA, &o.Status, &o.Reason, &o.EffectiveFrom, &effectiveTo, &o.IsActive, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Override{}, rbac.ErrNotFound
		}
		return Override{}, fmt.Errorf("overrides repo: get: %w", err)
	}
	if len(scopeRaw) > 0 {
		if err := json.Unmarshal(scopeRaw, &o.Scope); err != nil {
			return Override{}, fmt.Errorf("overrides repo: scope: %w", err)
		}
	}
	if len(condRaw) > 0 {
		if err := json.Unmarshal(condRaw, &o.Conditions); err != nil {
			return Override{}, fmt.Errorf("overrides repo: conditions: %w", err)
		}
	}
	if effectiveTo.Valid {
		t := effectiveTo.Time
		o.EffectiveTo = &t
	}
	return o, nil
}

// SetStatus moves the override through the approval workflow.
func (r *PGRepository) SetStatus(ctx context.Context, tenantID, id int64, status ApprovalStatus) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_overrides SET approval_status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`, tenantID, id, status)
	if err != nil {
		return fmt.Errorf("overrides repo: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

// Revoke deactivates the override and closes its window.
func (r *PGRepository) Revoke(ctx context.Context, tenantID, id int64, now time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_overrides SET is_active = FALSE, effective_to = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND is_active AND deleted_at IS NULL`, tenantID, id, now)
	if err != nil {
		return fmt.Errorf("overrides repo: revoke: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return rbac.ErrNotFound
	}
	return nil
}
