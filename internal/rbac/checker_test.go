package rbac

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func resolvedWith(grants map[string]GrantRecord) *ResolvedPermissions {
	return &ResolvedPermissions{
		TenantID:    1,
		UserID:      10,
		Permissions: grants,
		ResolvedAt:  time.Now(),
	}
}

func TestEvaluateAbsentCode(t *testing.T) {
	d := evaluate(resolvedWith(nil), checkInput{code: "sites.view", now: time.Now()})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonNotGranted, d.Reason)
}

func TestEvaluateDenied(t *testing.T) {
	resolved := resolvedWith(map[string]GrantRecord{
		"invoices.void": {PermissionCode: "invoices.void", Level: LevelDenied, Source: SourceGroup, SourceID: 5},
	})
	d := evaluate(resolved, checkInput{code: "invoices.void", now: time.Now()})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonDenied, d.Reason)
	require.Equal(t, SourceGroup, d.Source)
	require.Equal(t, int64(5), d.SourceID)
}

func TestEvaluateGeographicScope(t *testing.T) {
	resolved := resolvedWith(map[string]GrantRecord{
		"sites.edit": {
			PermissionCode: "sites.edit",
			Level:          LevelGranted,
			Source:         SourceDesignation,
			Scope:          Scope{Geographic: []string{"north", "east"}},
		},
	})

	d := evaluate(resolved, checkInput{code: "sites.edit", scopeCtx: &ScopeContext{Location: "north"}, now: time.Now()})
	require.True(t, d.Allowed)

	d = evaluate(resolved, checkInput{code: "sites.edit", scopeCtx: &ScopeContext{Location: "south"}, now: time.Now()})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonScopeRestriction, d.Reason)

	// Scoped grant checked without a location is a scope restriction, not a pass.
	d = evaluate(resolved, checkInput{code: "sites.edit", scopeCtx: &ScopeContext{Function: "ops"}, now: time.Now()})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonScopeRestriction, d.Reason)
}

func TestEvaluateFunctionalScope(t *testing.T) {
	resolved := resolvedWith(map[string]GrantRecord{
		"crews.schedule": {
			PermissionCode: "crews.schedule",
			Level:          LevelGranted,
			Source:         SourceGroup,
			Scope:          Scope{Functional: []string{"operations"}},
		},
	})
	d := evaluate(resolved, checkInput{code: "crews.schedule", scopeCtx: &ScopeContext{Function: "operations"}, now: time.Now()})
	require.True(t, d.Allowed)

	d = evaluate(resolved, checkInput{code: "crews.schedule", scopeCtx: &ScopeContext{Function: "finance"}, now: time.Now()})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonScopeRestriction, d.Reason)
}

func TestEvaluateTemporalScope(t *testing.T) {
	resolved := resolvedWith(map[string]GrantRecord{
		"sites.edit": {
			PermissionCode: "sites.edit",
			Level:          LevelGranted,
			Source:         SourceDesignation,
			Scope: Scope{Temporal: &TemporalScope{
				Hours:     &WorkingHours{Start: "09:00", End: "17:00"},
				ValidDays: []string{"mon", "tue", "wed", "thu", "fri"},
			}},
		},
	})
	wednesdayNoon := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	sundayNoon := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	require.True(t, evaluate(resolved, checkInput{code: "sites.edit", now: wednesdayNoon}).Allowed)

	d := evaluate(resolved, checkInput{code: "sites.edit", now: sundayNoon})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonScopeRestriction, d.Reason)
}

func TestEvaluateMinTenureCondition(t *testing.T) {
	resolved := resolvedWith(map[string]GrantRecord{
		"invoices.approve": {
			PermissionCode: "invoices.approve",
			Level:          LevelConditional,
			Source:         SourceDesignation,
			Conditions:     map[string]any{"min_tenure_days": float64(90)},
		},
	})
	now := time.Now()

	veteran := Profile{HiredAt: now.AddDate(0, 0, -120), IsActive: true}
	require.True(t, evaluate(resolved, checkInput{code: "invoices.approve", profile: veteran, now: now}).Allowed)

	rookie := Profile{HiredAt: now.AddDate(0, 0, -30), IsActive: true}
	d := evaluate(resolved, checkInput{code: "invoices.approve", profile: rookie, now: now})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonConditionsNotMet, d.Reason)
}

func TestEvaluateRequiredDesignationLevel(t *testing.T) {
	grants := map[string]GrantRecord{
		"sites.edit": {
			PermissionCode: "sites.edit",
			Level:          LevelConditional,
			Source:         SourceDesignation,
			Conditions:     map[string]any{"required_designation_level": 1},
		},
	}

	senior := resolvedWith(grants)
	lvl := 1
	senior.SeniorityLevel = &lvl
	require.True(t, evaluate(senior, checkInput{code: "sites.edit", now: time.Now()}).Allowed)

	junior := resolvedWith(grants)
	juniorLvl := 3
	junior.SeniorityLevel = &juniorLvl
	d := evaluate(junior, checkInput{code: "sites.edit", now: time.Now()})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonConditionsNotMet, d.Reason)

	noDesignation := resolvedWith(grants)
	require.False(t, evaluate(noDesignation, checkInput{code: "sites.edit", now: time.Now()}).Allowed)
}

func TestEvaluateMaxRiskCondition(t *testing.T) {
	resolved := resolvedWith(map[string]GrantRecord{
		"invoices.void": {
			PermissionCode: "invoices.void",
			Level:          LevelConditional,
			Source:         SourceGroup,
			Risk:           RiskCritical,
			Conditions:     map[string]any{"max_risk_level": "high"},
		},
	})
	d := evaluate(resolved, checkInput{code: "invoices.void", now: time.Now()})
	require.False(t, d.Allowed)
	require.Equal(t, ReasonConditionsNotMet, d.Reason)
}

func TestEvaluateWildcardReason(t *testing.T) {
	resolved := resolvedWith(map[string]GrantRecord{
		"sites.edit": {PermissionCode: "sites.edit", Level: LevelGranted, Source: SourceDesignation, SourceID: 1},
	})
	resolved.Summary.Wildcard = true
	d := evaluate(resolved, checkInput{code: "sites.edit", now: time.Now()})
	require.True(t, d.Allowed)
	require.Equal(t, ReasonWildcard, d.Reason)
}

func TestEvaluateCarriesMFA(t *testing.T) {
	resolved := resolvedWith(map[string]GrantRecord{
		"invoices.approve": {PermissionCode: "invoices.approve", Level: LevelGranted, Source: SourceOverride, RequiresMFA: true},
	})
	d := evaluate(resolved, checkInput{code: "invoices.approve", now: time.Now()})
	require.True(t, d.Allowed)
	require.True(t, d.RequiresMFA)
}
