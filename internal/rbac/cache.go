package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultCacheTTL bounds how long an entry may live even when nothing
// invalidates it. Eager invalidation is the real mechanism; the TTL is a
// backstop.
const DefaultCacheTTL = time.Hour

// CacheKey identifies one user's effective-permission entry.
type CacheKey struct {
	TenantID int64
	UserID   int64
}

// CacheEntry is the stored shape of a resolution plus the version stamps used
// to detect mutations that bypassed explicit invalidation.
type CacheEntry struct {
	Result             ResolvedPermissions `json:"result"`
	CacheVersion       int64               `json:"cache_version"`
	DesignationVersion int64               `json:"designation_version"`
	OverrideVersion    int64               `json:"override_version"`
	ExpiresAt          time.Time           `json:"expires_at"`
	Valid              bool                `json:"valid"`
}

// Fingerprints are the source-version stamps for one user's grant state. The
// engine snapshots them before it reads any grants; a mutation landing after
// the snapshot leaves the cached entry with stale stamps, which the Get
// double-check treats as a miss.
type Fingerprints struct {
	DesignationVersion time.Time
	OverrideVersion    time.Time
}

// Cache stores resolved permission sets per (tenant, user).
type Cache interface {
	Get(ctx context.Context, key CacheKey) (*ResolvedPermissions, bool)
	Put(ctx context.Context, key CacheKey, result ResolvedPermissions, fp Fingerprints) error
	InvalidateUser(ctx context.Context, key CacheKey) error
	InvalidateTenant(ctx context.Context, tenantID int64) error
}

// RedisCache is the production Cache backed by Redis. Entries are JSON blobs
// keyed per user; tenant-wide invalidation bumps a per-tenant version that is
// part of the key, so it is O(1) instead of a key scan. A nil client degrades
// to an always-miss cache.
type RedisCache struct {
	client       *redis.Client
	fingerprints FingerprintStore
	ttl          time.Duration
	now          func() time.Time
}

// NewRedisCache builds the cache. ttl <= 0 falls back to DefaultCacheTTL.
func NewRedisCache(client *redis.Client, fingerprints FingerprintStore, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{client: client, fingerprints: fingerprints, ttl: ttl, now: time.Now}
}

func tenantVersionKey(tenantID int64) string {
	return fmt.Sprintf("rbac:tenant:%d:version", tenantID)
}

func (c *RedisCache) entryKey(ctx context.Context, key CacheKey) (string, error) {
	ver, err := c.tenantVersion(ctx, key.TenantID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("rbac:eff:%d:%d:v%d", key.TenantID, key.UserID, ver), nil
}

func (c *RedisCache) tenantVersion(ctx context.Context, tenantID int64) (int64, error) {
	ver, err := c.client.Get(ctx, tenantVersionKey(tenantID)).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, tenantVersionKey(tenantID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Get returns the cached resolution when the entry is valid, unexpired, and
// its fingerprints still match a fresh recompute. Any failure along the way is
// reported as a miss; the cache never turns a read problem into a decision.
func (c *RedisCache) Get(ctx context.Context, key CacheKey) (*ResolvedPermissions, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	redisKey, err := c.entryKey(ctx, key)
	if err != nil {
		return nil, false
	}
	payload, err := c.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		return nil, false
	}
	var entry CacheEntry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, false
	}
	if !entry.Valid || !c.now().Before(entry.ExpiresAt) {
		return nil, false
	}
	if !c.fingerprintsMatch(ctx, key, entry) {
		return nil, false
	}
	return &entry.Result, true
}

// fingerprintsMatch recomputes the two source versions and compares them with
// the stored stamps. Defense in depth against mutations that skipped explicit
// invalidation; a store error counts as a mismatch.
func (c *RedisCache) fingerprintsMatch(ctx context.Context, key CacheKey, entry CacheEntry) bool {
	if c.fingerprints == nil {
		return true
	}
	desigVer, err := c.fingerprints.DesignationVersion(ctx, key.TenantID, key.UserID)
	if err != nil || desigVer.UnixMicro() != entry.DesignationVersion {
		return false
	}
	overrideVer, err := c.fingerprints.OverrideVersion(ctx, key.TenantID, key.UserID)
	if err != nil || overrideVer.UnixMicro() != entry.OverrideVersion {
		return false
	}
	return true
}

// Put replaces any prior entry for the key wholesale. The redis SET is atomic
// per key, which is all the concurrency contract requires: last writer wins.
// The fingerprints come from the caller, stamped before it read the grant
// stores; recomputing them here would date them after the reads and let a
// mutation that landed mid-resolution slip past the Get double-check.
func (c *RedisCache) Put(ctx context.Context, key CacheKey, result ResolvedPermissions, fp Fingerprints) error {
	if c == nil || c.client == nil {
		return nil
	}
	entry := CacheEntry{
		Result:             result,
		DesignationVersion: fp.DesignationVersion.UnixMicro(),
		OverrideVersion:    fp.OverrideVersion.UnixMicro(),
		ExpiresAt:          c.now().Add(c.ttl),
		Valid:              true,
	}
	ver, err := c.tenantVersion(ctx, key.TenantID)
	if err != nil {
		return fmt.Errorf("rbac cache: tenant version: %w", err)
	}
	entry.CacheVersion = ver
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("rbac cache: marshal: %w", err)
	}
	redisKey := fmt.Sprintf("rbac:eff:%d:%d:v%d", key.TenantID, key.UserID, ver)
	if err := c.client.Set(ctx, redisKey, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("rbac cache: set: %w", err)
	}
	return nil
}

// InvalidateUser drops the user's entry immediately. Must run in the same unit
// of work as any mutation to the user's assignments or overrides.
func (c *RedisCache) InvalidateUser(ctx context.Context, key CacheKey) error {
	if c == nil || c.client == nil {
		return nil
	}
	redisKey, err := c.entryKey(ctx, key)
	if err != nil {
		return fmt.Errorf("rbac cache: invalidate user: %w", err)
	}
	if err := c.client.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("rbac cache: invalidate user: %w", err)
	}
	return nil
}

// InvalidateTenant bumps the tenant version, orphaning every entry for the
// tenant at once. Orphaned entries fall out via TTL or the sweeper.
func (c *RedisCache) InvalidateTenant(ctx context.Context, tenantID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Incr(ctx, tenantVersionKey(tenantID)).Err(); err != nil {
		return fmt.Errorf("rbac cache: invalidate tenant: %w", err)
	}
	return nil
}
