package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitegrid/sitegrid/internal/rbac"
)

// Entry is a record stored in rbac_audit_log.
type Entry struct {
	ID       string
	TenantID int64
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// Logger writes records into rbac_audit_log. It is a write-only collaborator:
// the engine never reads it back.
type Logger struct {
	pool *pgxpool.Pool
}

// NewLogger returns a new Logger.
func NewLogger(pool *pgxpool.Pool) *Logger {
	return &Logger{pool: pool}
}

// Record persists the entry. A missing ID is filled in.
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if entry.Action == "" || entry.Entity == "" {
		return errors.New("audit entry requires action and entity")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	metaJSON, err := json.Marshal(entry.Meta)
	if err != nil {
		return err
	}
	occurredAt := pgtype.Timestamptz{Time: entry.At, Valid: !entry.At.IsZero()}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO rbac_audit_log (id, tenant_id, actor_id, action, entity, entity_id, meta, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		entry.ID, entry.TenantID, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, metaJSON, occurredAt)
	return err
}

// RecordResolution satisfies the engine's audit sink.
func (l *Logger) RecordResolution(ctx context.Context, tenantID, userID int64, resolutionID string, summary rbac.ResolutionSummary) error {
	return l.Record(ctx, Entry{
		ID:       resolutionID,
		TenantID: tenantID,
		ActorID:  userID,
		Action:   "permissions.resolve",
		Entity:   "user_profile",
		EntityID: fmt.Sprintf("%d", userID),
		Meta: map[string]any{
			"total":     summary.Total,
			"denied":    summary.Denied,
			"conflicts": summary.Conflicts,
			"wildcard":  summary.Wildcard,
		},
	})
}

// TimelineFilters narrows a timeline query.
type TimelineFilters struct {
	TenantID int64
	Action   string
	Entity   string
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
}

// TimelineRow is one audit event as shown to administrators.
type TimelineRow struct {
	ID       string
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	At       time.Time
}

// PagingInfo reports paging state alongside timeline rows.
type PagingInfo struct {
	Page     int
	PageSize int
	HasNext  bool
	PrevPage int
	NextPage int
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows   []TimelineRow
	Paging PagingInfo
}

// Timeline pages through a tenant's audit events, newest first.
func (l *Logger) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if l == nil || l.pool == nil {
		return Result{}, errors.New("audit: logger not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	query := `
		SELECT id, actor_id, action, entity, entity_id, occurred_at
		FROM rbac_audit_log
		WHERE tenant_id = $1`
	args := []any{filters.TenantID}
	if action := strings.TrimSpace(filters.Action); action != "" {
		args = append(args, action)
		query += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if entity := strings.TrimSpace(filters.Entity); entity != "" {
		args = append(args, entity)
		query += fmt.Sprintf(" AND entity = $%d", len(args))
	}
	if !filters.From.IsZero() {
		args = append(args, filters.From)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !filters.To.IsZero() {
		args = append(args, filters.To)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	args = append(args, pageSize+1, offset)
	query += fmt.Sprintf(" ORDER BY occurred_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	var resultRows []TimelineRow
	for rows.Next() {
		var (
			row TimelineRow
			at  pgtype.Timestamptz
		)
		if err := rows.Scan(&row.ID, &row.ActorID, &row.Action, &row.Entity, &row.EntityID, &at); err != nil {
			return Result{}, err
		}
		if at.Valid {
			row.At = at.Time
		}
		resultRows = append(resultRows, row)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	hasNext := len(resultRows) > pageSize
	if hasNext {
		resultRows = resultRows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: resultRows, Paging: paging}, nil
}
