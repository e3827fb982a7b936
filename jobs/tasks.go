package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCacheSweep removes stale effective-permission cache entries.
	TaskCacheSweep = "rbac:cache:sweep"
	// TaskAuditPrune trims aged rows from the audit log.
	TaskAuditPrune = "rbac:audit:prune"
)

// CacheSweepPayload scopes a sweep run. A zero TenantID sweeps every tenant.
type CacheSweepPayload struct {
	TenantID int64 `json:"tenant_id,omitempty"`
}

// NewCacheSweepTask constructs a cache sweep task.
func NewCacheSweepTask(payload CacheSweepPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCacheSweep, data), nil
}

// AuditPrunePayload bounds how long audit rows are retained.
type AuditPrunePayload struct {
	RetentionDays int `json:"retention_days,omitempty"`
}

// NewAuditPruneTask constructs an audit prune task.
func NewAuditPruneTask(payload AuditPrunePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPrune, data), nil
}
