package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/sitegrid/sitegrid/internal/jobs"
)

const defaultAuditRetentionDays = 365

// AuditPruneJob trims audit rows older than the retention window.
type AuditPruneJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditPruneJob wires dependencies for the prune handler.
func NewAuditPruneJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPruneJob {
	return &AuditPruneJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes audit prune tasks.
func (j *AuditPruneJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("audit prune: handler not configured")
	}
	var payload AuditPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	retention := payload.RetentionDays
	if retention <= 0 {
		retention = defaultAuditRetentionDays
	}

	tracker := j.Metrics.Track(TaskAuditPrune)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.clock().AddDate(0, 0, -retention)
	tag, err := j.Pool.Exec(ctx, `DELETE FROM rbac_audit_log WHERE occurred_at < $1`, cutoff)
	if err != nil {
		resultErr = err
		j.logger().Error("prune audit log", slog.Any("error", err))
		return resultErr
	}
	j.logger().Info("audit prune complete",
		slog.Int("retention_days", retention),
		slog.Int64("rows_deleted", tag.RowsAffected()),
	)
	return resultErr
}

func (j *AuditPruneJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
