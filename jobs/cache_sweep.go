package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/sitegrid/sitegrid/internal/jobs"
)

const sweepScanBatch = 200

// CacheSweepJob removes effective-permission cache entries that eager
// invalidation orphaned. Tenant-wide invalidation bumps a version embedded in
// the key, which leaves the old-version entries behind until their TTL fires;
// the sweeper reclaims them early so Redis does not carry dead weight between
// TTL expirations.
type CacheSweepJob struct {
	Redis   *redis.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewCacheSweepJob wires dependencies for the sweep handler.
func NewCacheSweepJob(client *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheSweepJob {
	return &CacheSweepJob{
		Redis:   client,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes cache sweep tasks.
func (j *CacheSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Redis == nil {
		return errors.New("cache sweep: handler not configured")
	}
	var payload CacheSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskCacheSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	pattern := "rbac:eff:*"
	if payload.TenantID > 0 {
		pattern = fmt.Sprintf("rbac:eff:%d:*", payload.TenantID)
	}
	logger := j.logger().With(slog.String("pattern", pattern))
	logger.Info("starting cache sweep")

	versions := map[int64]int64{}
	swept := 0
	iter := j.Redis.Scan(ctx, 0, pattern, sweepScanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		stale, err := j.isStale(ctx, key, versions)
		if err != nil {
			resultErr = err
			logger.Error("inspect cache entry", slog.String("key", key), slog.Any("error", err))
			return resultErr
		}
		if !stale {
			continue
		}
		if err := j.Redis.Del(ctx, key).Err(); err != nil {
			resultErr = err
			logger.Error("delete cache entry", slog.String("key", key), slog.Any("error", err))
			return resultErr
		}
		swept++
	}
	if err := iter.Err(); err != nil {
		resultErr = err
		logger.Error("scan cache keys", slog.Any("error", err))
		return resultErr
	}

	j.Metrics.AddSwept(swept)
	logger.Info("cache sweep complete", slog.Int("swept", swept))
	return resultErr
}

// isStale reports whether a key belongs to a superseded tenant version or
// holds an entry past its own expiry stamp. Keys it cannot parse are left
// alone.
func (j *CacheSweepJob) isStale(ctx context.Context, key string, versions map[int64]int64) (bool, error) {
	tenantID, keyVersion, ok := parseEntryKey(key)
	if !ok {
		return false, nil
	}

	current, cached := versions[tenantID]
	if !cached {
		ver, err := j.Redis.Get(ctx, fmt.Sprintf("rbac:tenant:%d:version", tenantID)).Int64()
		if err == redis.Nil {
			ver = 1
		} else if err != nil {
			return false, err
		}
		versions[tenantID] = ver
		current = ver
	}
	if keyVersion < current {
		return true, nil
	}

	payload, err := j.Redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var entry struct {
		ExpiresAt time.Time `json:"expires_at"`
		Valid     bool      `json:"valid"`
	}
	if err := json.Unmarshal(payload, &entry); err != nil {
		// Unreadable entries can never serve a hit.
		return true, nil
	}
	if !entry.Valid {
		return true, nil
	}
	return !entry.ExpiresAt.IsZero() && !j.clock().Before(entry.ExpiresAt), nil
}

// parseEntryKey splits rbac:eff:<tenant>:<user>:v<version>.
func parseEntryKey(key string) (tenantID, version int64, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "rbac" || parts[1] != "eff" {
		return 0, 0, false
	}
	tenantID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || tenantID <= 0 {
		return 0, 0, false
	}
	if !strings.HasPrefix(parts[4], "v") {
		return 0, 0, false
	}
	version, err = strconv.ParseInt(strings.TrimPrefix(parts[4], "v"), 10, 64)
	if err != nil || version <= 0 {
		return 0, 0, false
	}
	return tenantID, version, true
}

func (j *CacheSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
