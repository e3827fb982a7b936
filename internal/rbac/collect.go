package rbac

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// collected holds the raw output of the three source collectors.
type collected struct {
	designations []GrantRecord
	groups       []GrantRecord
	overrides    []GrantRecord
}

// collectAll runs the three collectors concurrently. A user with no grants at
// all is a normal outcome, not an error; only backing-store failures surface.
func collectAll(ctx context.Context, d DesignationStore, g GroupStore, o OverrideStore, tenantID, userID int64, now time.Time) (collected, error) {
	var out collected
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		grants, err := collectDesignations(ctx, d, tenantID, userID, now)
		if err != nil {
			return err
		}
		out.designations = grants
		return nil
	})
	eg.Go(func() error {
		grants, err := collectGroups(ctx, g, tenantID, userID, now)
		if err != nil {
			return err
		}
		out.groups = grants
		return nil
	})
	eg.Go(func() error {
		grants, err := o.ListActiveApprovedOverrides(ctx, tenantID, userID, now)
		if err != nil {
			return fmt.Errorf("%w: overrides: %v", ErrStoreUnavailable, err)
		}
		out.overrides = grants
		return nil
	})
	if err := eg.Wait(); err != nil {
		return collected{}, err
	}
	return out, nil
}

// collectDesignations enumerates base grants of every live designation
// assignment, stamping the designation's priority and seniority onto each
// record. Grants from different designations for the same code are all kept;
// resolution happens later.
func collectDesignations(ctx context.Context, store DesignationStore, tenantID, userID int64, now time.Time) ([]GrantRecord, error) {
	assignments, err := store.ListActiveAssignments(ctx, tenantID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: designations: %v", ErrStoreUnavailable, err)
	}
	var grants []GrantRecord
	for _, a := range assignments {
		if !a.ActiveAt(now) || !a.Designation.IsActive || a.Designation.DeletedAt != nil {
			continue
		}
		base, err := store.ListBaseGrants(ctx, a.Designation.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: designation grants: %v", ErrStoreUnavailable, err)
		}
		for _, g := range base {
			g.Source = SourceDesignation
			g.SourceID = a.Designation.ID
			g.Priority = a.Designation.Priority
			g.HierarchyLevel = a.Designation.HierarchyLevel
			grants = append(grants, g)
		}
	}
	return grants, nil
}

// collectGroups enumerates grants of every live group assignment. Groups carry
// no priority; the zero value only ever serves as a tie-break input.
func collectGroups(ctx context.Context, store GroupStore, tenantID, userID int64, now time.Time) ([]GrantRecord, error) {
	assignments, err := store.ListActiveAssignments(ctx, tenantID, userID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: groups: %v", ErrStoreUnavailable, err)
	}
	var grants []GrantRecord
	for _, a := range assignments {
		if !a.ActiveAt(now) || !a.Group.IsActive || a.Group.DeletedAt != nil {
			continue
		}
		groupGrants, err := store.ListGroupGrants(ctx, a.Group.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: group grants: %v", ErrStoreUnavailable, err)
		}
		for _, g := range groupGrants {
			g.Source = SourceGroup
			g.SourceID = a.Group.ID
			g.Priority = 0
			grants = append(grants, g)
		}
	}
	return grants, nil
}
