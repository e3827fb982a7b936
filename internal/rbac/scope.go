package rbac

import (
	"sort"
	"strings"
	"time"
)

// aggregateScope derives the tenant-wide advisory scope summary: the union of
// all geographic and functional scopes plus the most restrictive temporal
// window seen. Authoritative scope checks run per grant in the checker; this
// aggregate feeds dashboards only.
func aggregateScope(permissions map[string]GrantRecord) ScopeAggregate {
	geoSet := map[string]struct{}{}
	funcSet := map[string]struct{}{}
	var temporal *TemporalScope
	for _, g := range permissions {
		for _, geo := range g.Scope.Geographic {
			geoSet[geo] = struct{}{}
		}
		for _, fn := range g.Scope.Functional {
			funcSet[fn] = struct{}{}
		}
		if g.Scope.Temporal != nil {
			temporal = tightenTemporal(temporal, g.Scope.Temporal)
		}
	}
	return ScopeAggregate{
		Geographic: sortedKeys(geoSet),
		Functional: sortedKeys(funcSet),
		Temporal:   temporal,
	}
}

// tightenTemporal keeps the narrower of two temporal scopes: the later start,
// the earlier end, and the intersection of valid days.
func tightenTemporal(acc, next *TemporalScope) *TemporalScope {
	if acc == nil {
		clone := *next
		return &clone
	}
	out := *acc
	if next.Hours != nil {
		if out.Hours == nil {
			out.Hours = next.Hours
		} else {
			hours := *out.Hours
			if next.Hours.Start > hours.Start {
				hours.Start = next.Hours.Start
			}
			if next.Hours.End < hours.End {
				hours.End = next.Hours.End
			}
			out.Hours = &hours
		}
	}
	if len(next.ValidDays) > 0 {
		if len(out.ValidDays) == 0 {
			out.ValidDays = next.ValidDays
		} else {
			out.ValidDays = intersectDays(out.ValidDays, next.ValidDays)
		}
	}
	return &out
}

func intersectDays(a, b []string) []string {
	set := make(map[string]struct{}, len(b))
	for _, d := range b {
		set[normalizeDay(d)] = struct{}{}
	}
	var out []string
	for _, d := range a {
		if _, ok := set[normalizeDay(d)]; ok {
			out = append(out, d)
		}
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// temporalSatisfied reports whether the instant falls inside the scope's
// working hours and valid days. A nil scope never restricts.
func temporalSatisfied(ts *TemporalScope, now time.Time) bool {
	if ts == nil {
		return true
	}
	if len(ts.ValidDays) > 0 && !dayAllowed(ts.ValidDays, now.Weekday()) {
		return false
	}
	if ts.Hours != nil {
		clock := now.Format("15:04")
		if clock < ts.Hours.Start || clock > ts.Hours.End {
			return false
		}
	}
	return true
}

func dayAllowed(days []string, day time.Weekday) bool {
	want := strings.ToLower(day.String())
	for _, d := range days {
		if normalizeDay(d) == want {
			return true
		}
	}
	return false
}

// normalizeDay accepts "Mon", "monday", "MONDAY" and friends.
func normalizeDay(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	switch d {
	case "mon", "monday":
		return "monday"
	case "tue", "tues", "tuesday":
		return "tuesday"
	case "wed", "wednesday":
		return "wednesday"
	case "thu", "thur", "thurs", "thursday":
		return "thursday"
	case "fri", "friday":
		return "friday"
	case "sat", "saturday":
		return "saturday"
	case "sun", "sunday":
		return "sunday"
	}
	return d
}

// scopeContains reports membership with case-insensitive comparison. An empty
// scope list places no restriction.
func scopeContains(scope []string, value string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, s := range scope {
		if strings.EqualFold(s, value) {
			return true
		}
	}
	return false
}
