package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newSweepFixture(t *testing.T) (*CacheSweepJob, *redis.Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	job := NewCacheSweepJob(client, nil, nil)
	return job, client, srv
}

func entryPayload(validFor time.Duration) string {
	expires := time.Now().UTC().Add(validFor).Format(time.RFC3339Nano)
	return `{"valid":true,"expires_at":"` + expires + `"}`
}

func sweepTask(t *testing.T, payload CacheSweepPayload) *asynq.Task {
	t.Helper()
	task, err := NewCacheSweepTask(payload)
	require.NoError(t, err)
	return task
}

func TestCacheSweepRemovesSupersededVersions(t *testing.T) {
	job, client, _ := newSweepFixture(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "rbac:tenant:1:version", 3, 0).Err())
	require.NoError(t, client.Set(ctx, "rbac:eff:1:10:v2", entryPayload(time.Hour), 0).Err())
	require.NoError(t, client.Set(ctx, "rbac:eff:1:10:v3", entryPayload(time.Hour), 0).Err())
	require.NoError(t, client.Set(ctx, "rbac:eff:1:11:v1", entryPayload(time.Hour), 0).Err())

	require.NoError(t, job.Handle(ctx, sweepTask(t, CacheSweepPayload{})))

	require.Equal(t, int64(0), client.Exists(ctx, "rbac:eff:1:10:v2").Val())
	require.Equal(t, int64(0), client.Exists(ctx, "rbac:eff:1:11:v1").Val())
	require.Equal(t, int64(1), client.Exists(ctx, "rbac:eff:1:10:v3").Val(), "current-version entry survives")
}

func TestCacheSweepRemovesExpiredAndInvalidEntries(t *testing.T) {
	job, client, _ := newSweepFixture(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "rbac:tenant:1:version", 1, 0).Err())
	require.NoError(t, client.Set(ctx, "rbac:eff:1:10:v1", entryPayload(-time.Minute), 0).Err())
	require.NoError(t, client.Set(ctx, "rbac:eff:1:11:v1", `{"valid":false}`, 0).Err())
	require.NoError(t, client.Set(ctx, "rbac:eff:1:12:v1", "not json", 0).Err())
	require.NoError(t, client.Set(ctx, "rbac:eff:1:13:v1", entryPayload(time.Hour), 0).Err())

	require.NoError(t, job.Handle(ctx, sweepTask(t, CacheSweepPayload{})))

	require.Equal(t, int64(0), client.Exists(ctx, "rbac:eff:1:10:v1").Val())
	require.Equal(t, int64(0), client.Exists(ctx, "rbac:eff:1:11:v1").Val())
	require.Equal(t, int64(0), client.Exists(ctx, "rbac:eff:1:12:v1").Val())
	require.Equal(t, int64(1), client.Exists(ctx, "rbac:eff:1:13:v1").Val())
}

func TestCacheSweepScopedToTenant(t *testing.T) {
	job, client, _ := newSweepFixture(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "rbac:tenant:1:version", 2, 0).Err())
	require.NoError(t, client.Set(ctx, "rbac:tenant:2:version", 2, 0).Err())
	require.NoError(t, client.Set(ctx, "rbac:eff:1:10:v1", entryPayload(time.Hour), 0).Err())
	require.NoError(t, client.Set(ctx, "rbac:eff:2:10:v1", entryPayload(time.Hour), 0).Err())

	require.NoError(t, job.Handle(ctx, sweepTask(t, CacheSweepPayload{TenantID: 1})))

	require.Equal(t, int64(0), client.Exists(ctx, "rbac:eff:1:10:v1").Val())
	require.Equal(t, int64(1), client.Exists(ctx, "rbac:eff:2:10:v1").Val(), "other tenants untouched")
}

func TestCacheSweepLeavesUnparseableKeysAlone(t *testing.T) {
	job, client, _ := newSweepFixture(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "rbac:eff:weird", "whatever", 0).Err())

	require.NoError(t, job.Handle(ctx, sweepTask(t, CacheSweepPayload{})))
	require.Equal(t, int64(1), client.Exists(ctx, "rbac:eff:weird").Val())
}

func TestParseEntryKey(t *testing.T) {
	tenantID, version, ok := parseEntryKey("rbac:eff:7:42:v3")
	require.True(t, ok)
	require.Equal(t, int64(7), tenantID)
	require.Equal(t, int64(3), version)

	_, _, ok = parseEntryKey("rbac:eff:7:42:3")
	require.False(t, ok)
	_, _, ok = parseEntryKey("rbac:tenant:7:version")
	require.False(t, ok)
}
