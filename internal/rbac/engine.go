package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/sitegrid/sitegrid/internal/observability"
)

// Engine is the effective-permission resolution engine. It is stateless apart
// from the cache and audit writes; concurrent calls for different users never
// block each other, and concurrent misses for the same user are collapsed by
// singleflight.
type Engine struct {
	designations DesignationStore
	groups       GroupStore
	overrides    OverrideStore
	catalog      CatalogStore
	profiles     ProfileStore
	fingerprints FingerprintStore
	cache        Cache
	audit        AuditSink
	metrics      *observability.Metrics
	logger       *slog.Logger
	now          func() time.Time
	flight       singleflight.Group
}

// EngineParams groups the engine's collaborators. Cache, fingerprints, audit
// sink and metrics are optional; stores are not.
type EngineParams struct {
	Designations DesignationStore
	Groups       GroupStore
	Overrides    OverrideStore
	Catalog      CatalogStore
	Profiles     ProfileStore
	Fingerprints FingerprintStore
	Cache        Cache
	Audit        AuditSink
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

// NewEngine constructs the engine.
func NewEngine(p EngineParams) *Engine {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		designations: p.Designations,
		groups:       p.Groups,
		overrides:    p.Overrides,
		catalog:      p.Catalog,
		profiles:     p.Profiles,
		fingerprints: p.Fingerprints,
		cache:        p.Cache,
		audit:        p.Audit,
		metrics:      p.Metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// Resolve computes (or fetches) the user's effective permission set. The
// second return value reports whether the result came from cache.
func (e *Engine) Resolve(ctx context.Context, tenantID, userID int64, forceRefresh bool) (*ResolvedPermissions, bool, error) {
	key := CacheKey{TenantID: tenantID, UserID: userID}
	if !forceRefresh && e.cache != nil {
		if cached, ok := e.cache.Get(ctx, key); ok {
			e.metrics.ObserveCacheLookup(true)
			return cached, true, nil
		}
		e.metrics.ObserveCacheLookup(false)
	}

	flightKey := fmt.Sprintf("%d:%d", tenantID, userID)
	value, err, _ := e.flight.Do(flightKey, func() (any, error) {
		return e.compute(ctx, tenantID, userID)
	})
	if err != nil {
		return nil, false, err
	}
	return value.(*ResolvedPermissions), false, nil
}

// compute is the cache-miss path: collect, resolve, aggregate, cache, audit.
func (e *Engine) compute(ctx context.Context, tenantID, userID int64) (*ResolvedPermissions, error) {
	start := e.now()
	result, fp, err := e.computeFresh(ctx, tenantID, userID)
	if err != nil {
		e.metrics.ObserveResolution("error", e.now().Sub(start))
		return nil, err
	}
	e.metrics.ObserveResolution("ok", e.now().Sub(start))
	e.metrics.ObserveConflicts(result.Summary.Conflicts)

	if e.cache != nil {
		if err := e.cache.Put(ctx, CacheKey{TenantID: tenantID, UserID: userID}, *result, fp); err != nil {
			e.logger.Warn("rbac cache put", slog.Int64("tenant", tenantID), slog.Int64("user", userID), slog.Any("error", err))
		}
	}
	e.emitAudit(ctx, tenantID, userID, uuid.NewString(), result.Summary)
	return result, nil
}

func (e *Engine) computeFresh(ctx context.Context, tenantID, userID int64) (*ResolvedPermissions, Fingerprints, error) {
	now := e.now()

	// Distinguish "no grants" from "no such user" up front; the caller
	// decides what an unknown user means.
	if _, err := e.profiles.GetProfile(ctx, tenantID, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, Fingerprints{}, err
		}
		return nil, Fingerprints{}, fmt.Errorf("%w: profile: %v", ErrStoreUnavailable, err)
	}

	// Snapshot the source versions before any grant read. A mutation that
	// commits during collection then post-dates these stamps, so the cached
	// entry fails the Get double-check instead of masking the invalidation.
	fp, err := e.snapshotFingerprints(ctx, tenantID, userID)
	if err != nil {
		return nil, Fingerprints{}, fmt.Errorf("%w: fingerprints: %v", ErrStoreUnavailable, err)
	}

	active, err := e.catalog.ListActivePermissions(ctx, tenantID)
	if err != nil {
		return nil, Fingerprints{}, fmt.Errorf("%w: catalog: %v", ErrStoreUnavailable, err)
	}
	activeByCode := make(map[string]Permission, len(active))
	for _, p := range active {
		activeByCode[p.Code] = p
	}

	raw, err := collectAll(ctx, e.designations, e.groups, e.overrides, tenantID, userID, now)
	if err != nil {
		return nil, Fingerprints{}, err
	}

	seniority := seniorityOf(raw.designations)
	wildcard, c := expandWildcard(raw, active)
	c = dropInactive(c, activeByCode)

	permissions, conflicts := resolve(c)
	for code, g := range permissions {
		if p, ok := activeByCode[code]; ok {
			g.Risk = p.Risk
			permissions[code] = g
		}
	}

	summary := summarize(permissions, conflicts, wildcard)
	result := &ResolvedPermissions{
		TenantID:       tenantID,
		UserID:         userID,
		Permissions:    permissions,
		Scope:          aggregateScope(permissions),
		Summary:        summary,
		SeniorityLevel: seniority,
		ResolvedAt:     now,
	}
	return result, fp, nil
}

// snapshotFingerprints reads the per-source version stamps for the user.
func (e *Engine) snapshotFingerprints(ctx context.Context, tenantID, userID int64) (Fingerprints, error) {
	if e.fingerprints == nil {
		return Fingerprints{}, nil
	}
	desig, err := e.fingerprints.DesignationVersion(ctx, tenantID, userID)
	if err != nil {
		return Fingerprints{}, err
	}
	override, err := e.fingerprints.OverrideVersion(ctx, tenantID, userID)
	if err != nil {
		return Fingerprints{}, err
	}
	return Fingerprints{DesignationVersion: desig, OverrideVersion: override}, nil
}

// ResolveEffectivePermissions is the dashboard-facing entry point.
func (e *Engine) ResolveEffectivePermissions(ctx context.Context, tenantID, userID int64, forceRefresh bool) (EffectivePermissionsResult, error) {
	resolved, fromCache, err := e.Resolve(ctx, tenantID, userID, forceRefresh)
	if err != nil {
		return EffectivePermissionsResult{}, err
	}
	return EffectivePermissionsResult{
		Permissions: resolved.Permissions,
		Scope:       resolved.Scope,
		Summary:     resolved.Summary,
		Metadata: ResultMetadata{
			ResolutionID: uuid.NewString(),
			FromCache:    fromCache,
			ResolvedAt:   resolved.ResolvedAt,
		},
	}, nil
}

// CheckPermission answers allow/deny for one permission code. Unknown tenant
// or user propagates as ErrNotFound and malformed codes as ErrInvalidCode; a
// backing-store failure fails closed with reason resolution_error.
func (e *Engine) CheckPermission(ctx context.Context, tenantID, userID int64, code string, scopeCtx *ScopeContext) (Decision, error) {
	if err := ValidateCode(code); err != nil {
		return Decision{}, err
	}

	resolved, _, err := e.Resolve(ctx, tenantID, userID, false)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{}, err
		}
		e.logger.Error("rbac resolve failed, denying", slog.Int64("tenant", tenantID), slog.Int64("user", userID), slog.Any("error", err))
		decision := Decision{Allowed: false, Reason: ReasonResolutionError}
		e.metrics.ObserveDecision(string(decision.Reason))
		return decision, nil
	}

	profile, err := e.profiles.GetProfile(ctx, tenantID, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Decision{}, err
		}
		e.logger.Error("rbac profile read failed, denying", slog.Int64("tenant", tenantID), slog.Int64("user", userID), slog.Any("error", err))
		decision := Decision{Allowed: false, Reason: ReasonResolutionError}
		e.metrics.ObserveDecision(string(decision.Reason))
		return decision, nil
	}

	decision := evaluate(resolved, checkInput{
		code:     code,
		scopeCtx: scopeCtx,
		profile:  profile,
		now:      e.now(),
	})
	e.metrics.ObserveDecision(string(decision.Reason))
	return decision, nil
}

// InvalidateUser exposes per-user cache invalidation to the mutation services.
func (e *Engine) InvalidateUser(ctx context.Context, tenantID, userID int64) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.InvalidateUser(ctx, CacheKey{TenantID: tenantID, UserID: userID})
}

// InvalidateTenant exposes tenant-wide cache invalidation.
func (e *Engine) InvalidateTenant(ctx context.Context, tenantID int64) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.InvalidateTenant(ctx, tenantID)
}

// emitAudit records the resolution, swallowing any sink failure.
func (e *Engine) emitAudit(ctx context.Context, tenantID, userID int64, resolutionID string, summary ResolutionSummary) {
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordResolution(ctx, tenantID, userID, resolutionID, summary); err != nil {
		e.logger.Warn("rbac audit emit", slog.Int64("tenant", tenantID), slog.Int64("user", userID), slog.Any("error", err))
	}
}

// seniorityOf extracts the most senior (lowest) hierarchy level present on
// the collected designation grants.
func seniorityOf(grants []GrantRecord) *int {
	var level *int
	for _, g := range grants {
		h := g.HierarchyLevel
		if level == nil || h < *level {
			l := h
			level = &l
		}
	}
	return level
}

// expandWildcard rewrites a super-admin designation's "*" grant into one
// granted record per active catalog permission, carried by the same
// designation. Overrides still resolve on top of the expansion, so an explicit
// restriction beats the wildcard.
func expandWildcard(c collected, active []Permission) (bool, collected) {
	var star *GrantRecord
	kept := make([]GrantRecord, 0, len(c.designations))
	for _, g := range c.designations {
		if g.PermissionCode == WildcardCode {
			if star == nil || g.Priority > star.Priority {
				grant := g
				star = &grant
			}
			continue
		}
		kept = append(kept, g)
	}
	if star == nil {
		return false, c
	}
	for _, p := range active {
		kept = append(kept, GrantRecord{
			PermissionCode: p.Code,
			Level:          LevelGranted,
			Source:         SourceDesignation,
			SourceID:       star.SourceID,
			Priority:       star.Priority,
			HierarchyLevel: star.HierarchyLevel,
			Scope:          star.Scope,
			RequiresMFA:    star.RequiresMFA,
		})
	}
	c.designations = kept
	return true, c
}

// dropInactive removes grants whose permission code is no longer active in
// the tenant catalog. A deactivated permission never resolves for anyone,
// whatever still references it.
func dropInactive(c collected, active map[string]Permission) collected {
	filter := func(grants []GrantRecord) []GrantRecord {
		out := grants[:0]
		for _, g := range grants {
			if _, ok := active[g.PermissionCode]; ok {
				out = append(out, g)
			}
		}
		return out
	}
	c.designations = filter(c.designations)
	c.groups = filter(c.groups)
	c.overrides = filter(c.overrides)
	return c
}

func summarize(permissions map[string]GrantRecord, conflicts int, wildcard bool) ResolutionSummary {
	summary := ResolutionSummary{
		Total:     len(permissions),
		BySource:  map[SourceKind]int{},
		Conflicts: conflicts,
		Wildcard:  wildcard,
	}
	for _, g := range permissions {
		summary.BySource[g.Source]++
		if g.Level == LevelDenied {
			summary.Denied++
		}
	}
	return summary
}
