package rbac

import (
	"context"
	"time"
)

// DesignationStore reads designation assignments and their base grants.
type DesignationStore interface {
	ListActiveAssignments(ctx context.Context, tenantID, userID int64, now time.Time) ([]DesignationAssignment, error)
	ListBaseGrants(ctx context.Context, designationID int64) ([]GrantRecord, error)
}

// GroupStore reads group assignments and their grants.
type GroupStore interface {
	ListActiveAssignments(ctx context.Context, tenantID, userID int64, now time.Time) ([]GroupAssignment, error)
	ListGroupGrants(ctx context.Context, groupID int64) ([]GrantRecord, error)
}

// OverrideStore reads live per-user overrides. Only approved, active overrides
// inside their effective window are returned.
type OverrideStore interface {
	ListActiveApprovedOverrides(ctx context.Context, tenantID, userID int64, now time.Time) ([]GrantRecord, error)
}

// CatalogStore reads the tenant permission catalog.
type CatalogStore interface {
	ListActivePermissions(ctx context.Context, tenantID int64) ([]Permission, error)
	GetPermission(ctx context.Context, tenantID int64, code string) (Permission, error)
}

// ProfileStore resolves the minimal user profile the engine needs. A missing
// profile is ErrNotFound, which the engine propagates rather than deciding.
type ProfileStore interface {
	GetProfile(ctx context.Context, tenantID, userID int64) (Profile, error)
}

// FingerprintStore reads the source-version fingerprints for a user. Each is
// the max updated_at across the user's live rows for that source, zero when
// none. The engine snapshots them before collecting grants to stamp new cache
// entries; the cache recomputes them on Get to catch mutations behind its
// back.
type FingerprintStore interface {
	DesignationVersion(ctx context.Context, tenantID, userID int64) (time.Time, error)
	OverrideVersion(ctx context.Context, tenantID, userID int64) (time.Time, error)
}

// AuditSink receives resolution records. Failures must never block a
// permission decision; the engine logs and moves on.
type AuditSink interface {
	RecordResolution(ctx context.Context, tenantID, userID int64, resolutionID string, summary ResolutionSummary) error
}
