package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func desigGrant(code string, designationID int64, priority, hierarchy int) GrantRecord {
	return GrantRecord{
		PermissionCode: code,
		Level:          LevelGranted,
		Source:         SourceDesignation,
		SourceID:       designationID,
		Priority:       priority,
		HierarchyLevel: hierarchy,
	}
}

func groupGrant(code string, groupID int64, level Level, mandatory bool) GrantRecord {
	return GrantRecord{
		PermissionCode: code,
		Level:          level,
		Source:         SourceGroup,
		SourceID:       groupID,
		IsMandatory:    mandatory,
	}
}

func overrideGrant(code string, overrideID int64, typ OverrideType, level Level) GrantRecord {
	return GrantRecord{
		PermissionCode: code,
		Level:          level,
		Source:         SourceOverride,
		SourceID:       overrideID,
		OverrideType:   typ,
	}
}

func TestResolveRestrictionVetoBeatsEverything(t *testing.T) {
	got, conflicts := resolve(collected{
		designations: []GrantRecord{desigGrant("sites.edit", 1, 99, 0)},
		groups:       []GrantRecord{groupGrant("sites.edit", 7, LevelGranted, true)},
		overrides:    []GrantRecord{overrideGrant("sites.edit", 42, OverrideRestriction, LevelDenied)},
	})
	require.Equal(t, 1, conflicts)
	winner := got["sites.edit"]
	require.Equal(t, SourceOverride, winner.Source)
	require.Equal(t, LevelDenied, winner.Level)
	require.Equal(t, int64(42), winner.SourceID)
}

func TestResolveAdditionBeatsMandatoryGroupDeny(t *testing.T) {
	got, _ := resolve(collected{
		groups:    []GrantRecord{groupGrant("invoices.void", 3, LevelDenied, true)},
		overrides: []GrantRecord{overrideGrant("invoices.void", 9, OverrideAddition, LevelGranted)},
	})
	winner := got["invoices.void"]
	require.Equal(t, SourceOverride, winner.Source)
	require.Equal(t, LevelGranted, winner.Level)
}

func TestResolveMandatoryGroupBeatsDesignation(t *testing.T) {
	got, _ := resolve(collected{
		designations: []GrantRecord{desigGrant("invoices.void", 1, 100, 0)},
		groups:       []GrantRecord{groupGrant("invoices.void", 5, LevelDenied, true)},
	})
	winner := got["invoices.void"]
	require.Equal(t, SourceGroup, winner.Source)
	require.Equal(t, LevelDenied, winner.Level)
}

func TestResolveDesignationOrdering(t *testing.T) {
	// Higher priority wins over more senior hierarchy.
	got, _ := resolve(collected{
		designations: []GrantRecord{
			desigGrant("crews.schedule", 1, 10, 0),
			desigGrant("crews.schedule", 2, 50, 5),
		},
	})
	require.Equal(t, int64(2), got["crews.schedule"].SourceID)

	// Equal priority: lower hierarchy level (more senior) wins.
	got, _ = resolve(collected{
		designations: []GrantRecord{
			desigGrant("crews.schedule", 1, 10, 3),
			desigGrant("crews.schedule", 2, 10, 1),
		},
	})
	require.Equal(t, int64(2), got["crews.schedule"].SourceID)

	// Full tie: lowest designation id wins.
	got, _ = resolve(collected{
		designations: []GrantRecord{
			desigGrant("crews.schedule", 8, 10, 1),
			desigGrant("crews.schedule", 4, 10, 1),
		},
	})
	require.Equal(t, int64(4), got["crews.schedule"].SourceID)
}

func TestResolveDesignationBeatsPlainGroup(t *testing.T) {
	got, _ := resolve(collected{
		designations: []GrantRecord{desigGrant("sites.view", 1, 0, 5)},
		groups:       []GrantRecord{groupGrant("sites.view", 2, LevelDenied, false)},
	})
	require.Equal(t, SourceDesignation, got["sites.view"].Source)
}

func TestResolvePlainGroupTieBreaksOnLowestID(t *testing.T) {
	got, _ := resolve(collected{
		groups: []GrantRecord{
			groupGrant("sites.view", 9, LevelGranted, false),
			groupGrant("sites.view", 2, LevelConditional, false),
		},
	})
	require.Equal(t, int64(2), got["sites.view"].SourceID)
}

func TestResolveNoImplicitGrant(t *testing.T) {
	got, conflicts := resolve(collected{})
	require.Empty(t, got)
	require.Zero(t, conflicts)

	got, _ = resolve(collected{groups: []GrantRecord{groupGrant("sites.view", 1, LevelGranted, false)}})
	_, ok := got["sites.edit"]
	require.False(t, ok)
}

func TestResolveConflictCountsMultiSourceOnly(t *testing.T) {
	_, conflicts := resolve(collected{
		designations: []GrantRecord{
			desigGrant("a", 1, 0, 0),
			desigGrant("a", 2, 0, 0),
		},
	})
	require.Zero(t, conflicts, "two designations are not a cross-source conflict")

	_, conflicts = resolve(collected{
		designations: []GrantRecord{desigGrant("a", 1, 0, 0)},
		groups:       []GrantRecord{groupGrant("a", 2, LevelGranted, false)},
	})
	require.Equal(t, 1, conflicts)
}

func TestResolveDeterministic(t *testing.T) {
	input := collected{
		designations: []GrantRecord{
			desigGrant("a", 3, 10, 2),
			desigGrant("a", 1, 10, 2),
			desigGrant("b", 2, 5, 1),
		},
		groups: []GrantRecord{
			groupGrant("a", 7, LevelDenied, false),
			groupGrant("c", 4, LevelGranted, true),
		},
		overrides: []GrantRecord{
			overrideGrant("b", 11, OverrideAddition, LevelConditional),
		},
	}
	first, firstConflicts := resolve(input)
	for i := 0; i < 10; i++ {
		again, conflicts := resolve(input)
		require.Equal(t, first, again)
		require.Equal(t, firstConflicts, conflicts)
	}
}
