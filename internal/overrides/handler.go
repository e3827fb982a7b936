package overrides

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sitegrid/sitegrid/internal/rbac"
)

// Handler exposes the override workflow over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers override routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Post("/{id}/approve", h.approve)
	r.Post("/{id}/reject", h.reject)
	r.Post("/{id}/revoke", h.revoke)
}

type createPayload struct {
	TenantID       int64             `json:"tenant_id"`
	UserID         int64             `json:"user_id"`
	PermissionCode string            `json:"permission_code"`
	Type           rbac.OverrideType `json:"override_type"`
	Level          rbac.Level        `json:"level"`
	Scope          rbac.Scope        `json:"scope"`
	Conditions     map[string]any    `json:"conditions,omitempty"`
	RequiresMFA    bool              `json:"requires_mfa,omitempty"`
	Reason         string            `json:"reason,omitempty"`
	EffectiveFrom  time.Time         `json:"effective_from"`
	EffectiveTo    *time.Time        `json:"effective_to,omitempty"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload createPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	created, err := h.service.Create(r.Context(), CreateRequest{
		TenantID:       payload.TenantID,
		UserID:         payload.UserID,
		PermissionCode: payload.PermissionCode,
		Type:           payload.Type,
		Level:          payload.Level,
		Scope:          payload.Scope,
		Conditions:     payload.Conditions,
		RequiresMFA:    payload.RequiresMFA,
		Reason:         payload.Reason,
		EffectiveFrom:  payload.EffectiveFrom,
		EffectiveTo:    payload.EffectiveTo,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	h.workflow(w, r, func(tenantID, id int64) (any, error) {
		return h.service.Approve(r.Context(), tenantID, id)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	h.workflow(w, r, func(tenantID, id int64) (any, error) {
		return h.service.Reject(r.Context(), tenantID, id)
	})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	h.workflow(w, r, func(tenantID, id int64) (any, error) {
		return nil, h.service.Revoke(r.Context(), tenantID, id)
	})
}

func (h *Handler) workflow(w http.ResponseWriter, r *http.Request, fn func(tenantID, id int64) (any, error)) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid tenant_id")
		return
	}
	result, err := fn(tenantID, id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	if result == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, rbac.ErrInvalidCode):
		h.writeError(w, http.StatusBadRequest, "invalid permission code")
	case errors.Is(err, ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &validationErrs):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("overrides handler", slog.Any("error", err))
		h.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
