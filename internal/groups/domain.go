package groups

import (
	"time"

	"github.com/sitegrid/sitegrid/internal/rbac"
)

// CreateRequest describes a new permission group.
type CreateRequest struct {
	TenantID int64  `validate:"required,gt=0"`
	Name     string `validate:"required,min=2,max=120"`
}

// GrantInput is one grant in a SetGrants call. Groups may grant or deny;
// mandatory grants outrank designation grants during resolution.
type GrantInput struct {
	PermissionCode string     `validate:"required"`
	Level          rbac.Level `validate:"required,oneof=granted denied conditional"`
	IsMandatory    bool
	Scope          rbac.Scope
	Conditions     map[string]any
	RequiresMFA    bool
}

// AssignRequest places a user into a group for an effective window.
type AssignRequest struct {
	TenantID      int64 `validate:"required,gt=0"`
	UserID        int64 `validate:"required,gt=0"`
	GroupID       int64 `validate:"required,gt=0"`
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}
