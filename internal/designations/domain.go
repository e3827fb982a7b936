package designations

import (
	"time"

	"github.com/sitegrid/sitegrid/internal/rbac"
)

// CreateRequest describes a new designation. HierarchyLevel is seniority,
// lower means more senior; Priority feeds conflict resolution.
type CreateRequest struct {
	TenantID       int64  `validate:"required,gt=0"`
	Name           string `validate:"required,min=2,max=120"`
	HierarchyLevel int    `validate:"gte=0"`
	Priority       int    `validate:"gte=0"`
}

// UpdateRequest changes a designation's resolution-relevant fields.
type UpdateRequest struct {
	TenantID       int64  `validate:"required,gt=0"`
	DesignationID  int64  `validate:"required,gt=0"`
	Name           string `validate:"required,min=2,max=120"`
	HierarchyLevel int    `validate:"gte=0"`
	Priority       int    `validate:"gte=0"`
}

// GrantInput is one base grant in a SetBaseGrants call.
type GrantInput struct {
	PermissionCode string         `validate:"required"`
	Level          rbac.Level     `validate:"required,oneof=granted conditional"`
	IsMandatory    bool
	Scope          rbac.Scope
	Conditions     map[string]any
	RequiresMFA    bool
}

// AssignRequest places a user into a designation for an effective window.
// EffectiveTo nil means open-ended.
type AssignRequest struct {
	TenantID      int64 `validate:"required,gt=0"`
	UserID        int64 `validate:"required,gt=0"`
	DesignationID int64 `validate:"required,gt=0"`
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
}
