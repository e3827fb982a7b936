package audithttp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sitegrid/sitegrid/internal/audit"
)

const (
	defaultPageSize  = 20
	maxPageSize      = 50
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRangeDays = 90
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler serves the audit timeline over JSON.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
	now     func() time.Time
}

// NewHandler builds an audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, now: time.Now}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return
	}

	filters, err := h.parseFilters(r)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Any("error", err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	h.writeJSON(w, http.StatusOK, timelineResponse{
		Events: rowsToPayload(result.Rows),
		Paging: pagingPayload{
			Page:     result.Paging.Page,
			PageSize: result.Paging.PageSize,
			HasNext:  result.Paging.HasNext,
		},
	})
}

type timelineResponse struct {
	Events []eventPayload `json:"events"`
	Paging pagingPayload  `json:"paging"`
}

type eventPayload struct {
	ID       string    `json:"id"`
	ActorID  int64     `json:"actor_id"`
	Action   string    `json:"action"`
	Entity   string    `json:"entity"`
	EntityID string    `json:"entity_id"`
	At       time.Time `json:"occurred_at"`
}

type pagingPayload struct {
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasNext  bool `json:"has_next"`
}

func rowsToPayload(rows []audit.TimelineRow) []eventPayload {
	out := make([]eventPayload, 0, len(rows))
	for _, row := range rows {
		out = append(out, eventPayload{
			ID:       row.ID,
			ActorID:  row.ActorID,
			Action:   row.Action,
			Entity:   row.Entity,
			EntityID: row.EntityID,
			At:       row.At,
		})
	}
	return out
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()

	tenantID, err := strconv.ParseInt(q.Get("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		return audit.TimelineFilters{}, fmt.Errorf("invalid tenant_id")
	}

	filters := audit.TimelineFilters{
		TenantID: tenantID,
		Action:   strings.TrimSpace(q.Get("action")),
		Entity:   strings.TrimSpace(q.Get("entity")),
		Page:     1,
		PageSize: defaultPageSize,
	}

	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			return audit.TimelineFilters{}, fmt.Errorf("invalid page")
		}
		filters.Page = page
	}
	if raw := q.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 || size > maxPageSize {
			return audit.TimelineFilters{}, fmt.Errorf("invalid page_size")
		}
		filters.PageSize = size
	}

	now := h.now()
	filters.To = now
	filters.From = now.Add(-defaultDateRange)
	if raw := q.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.TimelineFilters{}, fmt.Errorf("invalid from timestamp")
		}
		filters.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.TimelineFilters{}, fmt.Errorf("invalid to timestamp")
		}
		filters.To = to
	}
	if filters.To.Before(filters.From) {
		return audit.TimelineFilters{}, fmt.Errorf("date range reversed")
	}
	if filters.To.Sub(filters.From) > maxDateRangeDays*24*time.Hour {
		return audit.TimelineFilters{}, fmt.Errorf("date range exceeds %d days", maxDateRangeDays)
	}
	return filters, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}
