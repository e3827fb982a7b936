package rbac

import "sort"

// resolve merges the collectors' output into one record per permission code.
// Precedence, first match wins:
//
//  1. restriction override with level denied — hard veto
//  2. addition override
//  3. mandatory group grant
//  4. designation grant: highest priority, then most senior designation
//     (lowest hierarchy level), then lowest designation id
//  5. any remaining group grant
//
// A code nobody granted is simply absent. The second return value counts the
// codes whose records came from more than one source.
func resolve(c collected) (map[string]GrantRecord, int) {
	byCode := make(map[string][]GrantRecord)
	for _, set := range [][]GrantRecord{c.designations, c.groups, c.overrides} {
		for _, g := range set {
			byCode[g.PermissionCode] = append(byCode[g.PermissionCode], g)
		}
	}

	result := make(map[string]GrantRecord, len(byCode))
	conflicts := 0
	for code, grants := range byCode {
		if multiSource(grants) {
			conflicts++
		}
		result[code] = pickWinner(grants)
	}
	return result, conflicts
}

func multiSource(grants []GrantRecord) bool {
	if len(grants) < 2 {
		return false
	}
	first := grants[0].Source
	for _, g := range grants[1:] {
		if g.Source != first {
			return true
		}
	}
	return false
}

// pickWinner applies the precedence ladder to all records for one code.
// Input is never empty.
func pickWinner(grants []GrantRecord) GrantRecord {
	// Rule 1: restriction veto.
	for _, g := range grants {
		if g.Source == SourceOverride && g.OverrideType == OverrideRestriction && g.Level == LevelDenied {
			return g
		}
	}
	// Rule 2: user-specific addition.
	for _, g := range grants {
		if g.Source == SourceOverride && g.OverrideType == OverrideAddition {
			return g
		}
	}
	// Rule 3: mandatory group grant.
	if g, ok := pickStable(grants, func(g GrantRecord) bool {
		return g.Source == SourceGroup && g.IsMandatory
	}); ok {
		return g
	}
	// Rule 4: strongest designation grant.
	if g, ok := pickDesignation(grants); ok {
		return g
	}
	// Rule 5: any remaining group grant.
	if g, ok := pickStable(grants, func(g GrantRecord) bool {
		return g.Source == SourceGroup
	}); ok {
		return g
	}
	// Leftovers are odd shapes such as a restriction override whose level is
	// not denied. Keep the function total and deterministic.
	g, _ := pickStable(grants, func(GrantRecord) bool { return true })
	return g
}

// pickStable returns the matching record with the lowest source id so repeat
// resolutions are byte-identical.
func pickStable(grants []GrantRecord, match func(GrantRecord) bool) (GrantRecord, bool) {
	var best GrantRecord
	found := false
	for _, g := range grants {
		if !match(g) {
			continue
		}
		if !found || g.SourceID < best.SourceID {
			best = g
			found = true
		}
	}
	return best, found
}

// pickDesignation orders designation records by priority desc, hierarchy asc,
// id asc and returns the first.
func pickDesignation(grants []GrantRecord) (GrantRecord, bool) {
	var candidates []GrantRecord
	for _, g := range grants {
		if g.Source == SourceDesignation {
			candidates = append(candidates, g)
		}
	}
	if len(candidates) == 0 {
		return GrantRecord{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.HierarchyLevel != b.HierarchyLevel {
			return a.HierarchyLevel < b.HierarchyLevel
		}
		return a.SourceID < b.SourceID
	})
	return candidates[0], true
}
