package rbac

import "time"

// Level is the grant level carried by a single grant record.
type Level string

// Grant levels.
const (
	LevelGranted     Level = "granted"
	LevelDenied      Level = "denied"
	LevelConditional Level = "conditional"
)

// SourceKind identifies which collector produced a grant record.
type SourceKind string

// Grant sources.
const (
	SourceDesignation SourceKind = "designation"
	SourceGroup       SourceKind = "group"
	SourceOverride    SourceKind = "override"
)

// OverrideType distinguishes user-specific additions from restrictions.
type OverrideType string

// Override types.
const (
	OverrideAddition    OverrideType = "addition"
	OverrideRestriction OverrideType = "restriction"
)

// RiskLevel classifies how dangerous a permission is.
type RiskLevel string

// Risk levels ordered from low to critical.
const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank maps a risk level to a comparable integer. Unknown levels rank highest
// so a typo never downgrades a permission.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return 4
}

// WildcardCode marks a designation grant that confers every active permission
// in the tenant catalog.
const WildcardCode = "*"

// Permission is a catalog entry scoped to a tenant.
type Permission struct {
	ID            int64
	TenantID      int64
	Code          string
	Name          string
	Category      string
	Risk          RiskLevel
	IsSystem      bool
	RequiresScope bool
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// WorkingHours bounds a grant to a daily time window, "HH:MM" 24h clock.
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// TemporalScope restricts when a grant may be exercised.
type TemporalScope struct {
	Hours     *WorkingHours `json:"working_hours,omitempty"`
	ValidDays []string      `json:"valid_days,omitempty"`
}

// Scope restricts where and when a grant applies. Empty slices mean
// unrestricted on that axis.
type Scope struct {
	Geographic []string       `json:"geographic,omitempty"`
	Functional []string       `json:"functional,omitempty"`
	Temporal   *TemporalScope `json:"temporal,omitempty"`
}

// IsZero reports whether the scope places no restriction at all.
func (s Scope) IsZero() bool {
	return len(s.Geographic) == 0 && len(s.Functional) == 0 && s.Temporal == nil
}

// GrantRecord is the uniform shape produced by all three source collectors.
type GrantRecord struct {
	PermissionCode string         `json:"permission_code"`
	Level          Level          `json:"level"`
	Source         SourceKind     `json:"source_kind"`
	SourceID       int64          `json:"source_id"`
	IsMandatory    bool           `json:"is_mandatory,omitempty"`
	Priority       int            `json:"priority,omitempty"`
	HierarchyLevel int            `json:"hierarchy_level,omitempty"`
	OverrideType   OverrideType   `json:"override_type,omitempty"`
	Scope          Scope          `json:"scope"`
	Conditions     map[string]any `json:"conditions,omitempty"`
	RequiresMFA    bool           `json:"requires_mfa,omitempty"`
	// Risk is stamped from the catalog onto winning records by the engine;
	// collectors leave it empty.
	Risk RiskLevel `json:"risk,omitempty"`
}

// Designation is a role-like entity with a seniority level. A user may hold
// several at once. Lower HierarchyLevel means more senior.
type Designation struct {
	ID             int64
	TenantID       int64
	Name           string
	HierarchyLevel int
	Priority       int
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time
}

// Group is a reusable permission bundle independent of designations.
type Group struct {
	ID        int64
	TenantID  int64
	Name      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Assignment ties a user to a designation or group for an effective window.
// EffectiveTo nil means open-ended.
type Assignment struct {
	ID            int64
	UserID        int64
	SourceID      int64
	EffectiveFrom time.Time
	EffectiveTo   *time.Time
	IsActive      bool
	UpdatedAt     time.Time
}

// ActiveAt reports whether the assignment window contains the given instant.
func (a Assignment) ActiveAt(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	if now.Before(a.EffectiveFrom) {
		return false
	}
	if a.EffectiveTo != nil && !now.Before(*a.EffectiveTo) {
		return false
	}
	return true
}

// DesignationAssignment pairs an assignment with the designation it points at
// so collectors can stamp priority and seniority onto grants.
type DesignationAssignment struct {
	Assignment
	Designation Designation
}

// GroupAssignment pairs an assignment with its group.
type GroupAssignment struct {
	Assignment
	Group Group
}

// Profile is the slice of a user profile the engine needs for condition
// evaluation.
type Profile struct {
	UserID   int64
	TenantID int64
	HiredAt  time.Time
	IsActive bool
}

// ScopeAggregate is the tenant-wide advisory scope summary: the union of all
// geographic/functional scopes seen plus the most restrictive temporal window.
type ScopeAggregate struct {
	Geographic []string       `json:"geographic,omitempty"`
	Functional []string       `json:"functional,omitempty"`
	Temporal   *TemporalScope `json:"temporal,omitempty"`
}

// ResolutionSummary describes how a resolution went, for dashboards and audit.
type ResolutionSummary struct {
	Total     int                `json:"total"`
	BySource  map[SourceKind]int `json:"by_source"`
	Denied    int                `json:"denied"`
	Conflicts int                `json:"conflicts"`
	Wildcard  bool               `json:"wildcard"`
}

// ResolvedPermissions is the single source of truth for a user's effective
// permissions at a point in time.
type ResolvedPermissions struct {
	TenantID    int64                  `json:"tenant_id"`
	UserID      int64                  `json:"user_id"`
	Permissions map[string]GrantRecord `json:"permissions"`
	Scope       ScopeAggregate         `json:"scope_limitations"`
	Summary     ResolutionSummary      `json:"summary"`
	// SeniorityLevel is the lowest (most senior) hierarchy level among the
	// user's live designations, nil when the user holds none. Cached so
	// condition checks do not re-read assignments.
	SeniorityLevel *int      `json:"seniority_level,omitempty"`
	ResolvedAt     time.Time `json:"resolved_at"`
}

// Grant returns the winning record for a code, if any.
func (r *ResolvedPermissions) Grant(code string) (GrantRecord, bool) {
	g, ok := r.Permissions[code]
	return g, ok
}

// ResultMetadata accompanies a resolution handed to callers.
type ResultMetadata struct {
	ResolutionID string    `json:"resolution_id"`
	FromCache    bool      `json:"from_cache"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// EffectivePermissionsResult is the dashboard-facing resolution payload.
type EffectivePermissionsResult struct {
	Permissions map[string]GrantRecord `json:"permissions"`
	Scope       ScopeAggregate         `json:"scope_limitations"`
	Summary     ResolutionSummary      `json:"summary"`
	Metadata    ResultMetadata         `json:"metadata"`
}

// ScopeContext carries the request-side facts a scope check runs against.
type ScopeContext struct {
	Location string `json:"location,omitempty"`
	Function string `json:"function,omitempty"`
}

// Reason explains a check decision.
type Reason string

// Check decision reasons.
const (
	ReasonGranted          Reason = "granted"
	ReasonWildcard         Reason = "wildcard"
	ReasonNotGranted       Reason = "not_granted"
	ReasonDenied           Reason = "denied"
	ReasonScopeRestriction Reason = "scope_restriction"
	ReasonConditionsNotMet Reason = "conditions_not_met"
	ReasonResolutionError  Reason = "resolution_error"
)

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed     bool       `json:"allowed"`
	Reason      Reason     `json:"reason"`
	Source      SourceKind `json:"source_kind,omitempty"`
	SourceID    int64      `json:"source_id,omitempty"`
	RequiresMFA bool       `json:"requires_mfa,omitempty"`
}
