package rbac

import "time"

// Condition keys the checker understands. Unknown keys are ignored so business
// rules can attach their own metadata without breaking older engines.
const (
	condMinTenureDays    = "min_tenure_days"
	condRequiredDesigLvl = "required_designation_level"
	condMaxRiskLevel     = "max_risk_level"
)

// checkInput bundles everything a single decision needs besides the resolved
// permission set.
type checkInput struct {
	code     string
	scopeCtx *ScopeContext
	profile  Profile
	now      time.Time
}

// evaluate walks the decision ladder against an already-resolved set:
// absent code, denied level, grant scope, temporal scope, then conditions.
func evaluate(resolved *ResolvedPermissions, in checkInput) Decision {
	grant, ok := resolved.Grant(in.code)
	if !ok {
		return Decision{Allowed: false, Reason: ReasonNotGranted}
	}
	if grant.Level == LevelDenied {
		return Decision{Allowed: false, Reason: ReasonDenied, Source: grant.Source, SourceID: grant.SourceID}
	}
	if in.scopeCtx != nil {
		if in.scopeCtx.Location != "" && !scopeContains(grant.Scope.Geographic, in.scopeCtx.Location) {
			return Decision{Allowed: false, Reason: ReasonScopeRestriction, Source: grant.Source, SourceID: grant.SourceID}
		}
		if in.scopeCtx.Function != "" && !scopeContains(grant.Scope.Functional, in.scopeCtx.Function) {
			return Decision{Allowed: false, Reason: ReasonScopeRestriction, Source: grant.Source, SourceID: grant.SourceID}
		}
		if len(grant.Scope.Geographic) > 0 && in.scopeCtx.Location == "" {
			return Decision{Allowed: false, Reason: ReasonScopeRestriction, Source: grant.Source, SourceID: grant.SourceID}
		}
		if len(grant.Scope.Functional) > 0 && in.scopeCtx.Function == "" {
			return Decision{Allowed: false, Reason: ReasonScopeRestriction, Source: grant.Source, SourceID: grant.SourceID}
		}
	}
	if !temporalSatisfied(grant.Scope.Temporal, in.now) {
		return Decision{Allowed: false, Reason: ReasonScopeRestriction, Source: grant.Source, SourceID: grant.SourceID}
	}
	if !conditionsMet(grant, in, resolved.SeniorityLevel) {
		return Decision{Allowed: false, Reason: ReasonConditionsNotMet, Source: grant.Source, SourceID: grant.SourceID}
	}
	reason := ReasonGranted
	if resolved.Summary.Wildcard && grant.Source == SourceDesignation {
		reason = ReasonWildcard
	}
	return Decision{
		Allowed:     true,
		Reason:      reason,
		Source:      grant.Source,
		SourceID:    grant.SourceID,
		RequiresMFA: grant.RequiresMFA,
	}
}

// conditionsMet evaluates the known condition keys on the winning grant.
func conditionsMet(grant GrantRecord, in checkInput, seniority *int) bool {
	if len(grant.Conditions) == 0 {
		return true
	}
	if raw, ok := grant.Conditions[condMinTenureDays]; ok {
		min, ok := asInt(raw)
		if !ok {
			return false
		}
		if in.profile.HiredAt.IsZero() {
			return false
		}
		tenure := int(in.now.Sub(in.profile.HiredAt).Hours() / 24)
		if tenure < min {
			return false
		}
	}
	if raw, ok := grant.Conditions[condRequiredDesigLvl]; ok {
		required, ok := asInt(raw)
		if !ok {
			return false
		}
		// Lower hierarchy level = more senior.
		if seniority == nil || *seniority > required {
			return false
		}
	}
	if raw, ok := grant.Conditions[condMaxRiskLevel]; ok {
		max, ok := raw.(string)
		if !ok {
			return false
		}
		if grant.Risk != "" && grant.Risk.Rank() > RiskLevel(max).Rank() {
			return false
		}
	}
	return true
}

// asInt tolerates the numeric shapes a JSON round-trip can produce.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
