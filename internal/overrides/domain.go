package overrides

import (
	"time"

	"github.com/sitegrid/sitegrid/internal/rbac"
)

// ApprovalStatus is the override workflow state. Only approved overrides
// participate in resolution.
type ApprovalStatus string

// Approval statuses.
const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusRejected ApprovalStatus = "rejected"
)

// Override is a user-specific addition or restriction layered over
// designation and group grants.
type Override struct {
	ID             int64             `json:"id"`
	TenantID       int64             `json:"tenant_id"`
	UserID         int64             `json:"user_id"`
	PermissionCode string            `json:"permission_code"`
	Type           rbac.OverrideType `json:"override_type"`
	Level          rbac.Level        `json:"level"`
	Scope          rbac.Scope        `json:"scope"`
	Conditions     map[string]any    `json:"conditions,omitempty"`
	RequiresMFA    bool              `json:"requires_mfa,omitempty"`
	Status         ApprovalStatus    `json:"approval_status"`
	Reason         string            `json:"reason,omitempty"`
	EffectiveFrom  time.Time         `json:"effective_from"`
	EffectiveTo    *time.Time        `json:"effective_to,omitempty"`
	IsActive       bool              `json:"is_active"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	DeletedAt      *time.Time        `json:"-"`
}

// CreateRequest proposes a new override; it starts pending.
type CreateRequest struct {
	TenantID       int64             `validate:"required,gt=0"`
	UserID         int64             `validate:"required,gt=0"`
	PermissionCode string            `validate:"required"`
	Type           rbac.OverrideType `validate:"required,oneof=addition restriction"`
	Level          rbac.Level        `validate:"required,oneof=granted denied conditional"`
	Scope          rbac.Scope
	Conditions     map[string]any
	RequiresMFA    bool
	Reason         string `validate:"max=500"`
	EffectiveFrom  time.Time
	EffectiveTo    *time.Time
}
