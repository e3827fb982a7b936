package groups

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

// Handler exposes group administration over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers group routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.create)
	r.Post("/{id}/deactivate", h.deactivate)
	r.Put("/{id}/grants", h.setGrants)
	r.Post("/{id}/assignments", h.assign)
	r.Delete("/{id}/assignments/{userID}", h.unassign)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TenantID int64  `json:"tenant_id"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	created, err := h.service.Create(r.Context(), CreateRequest{TenantID: payload.TenantID, Name: payload.Name})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid tenant_id")
		return
	}
	if err := h.service.Deactivate(r.Context(), tenantID, id); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload struct {
		TenantID int64        `json:"tenant_id"`
		Grants   []GrantInput `json:"grants"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.service.SetGrants(r.Context(), payload.TenantID, id, payload.Grants); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	var payload struct {
		TenantID      int64      `json:"tenant_id"`
		UserID        int64      `json:"user_id"`
		EffectiveFrom time.Time  `json:"effective_from"`
		EffectiveTo   *time.Time `json:"effective_to,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	created, err := h.service.Assign(r.Context(), AssignRequest{
		TenantID:      payload.TenantID,
		UserID:        payload.UserID,
		GroupID:       id,
		EffectiveFrom: payload.EffectiveFrom,
		EffectiveTo:   payload.EffectiveTo,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	userID, ok := h.pathID(w, r, "userID")
	if !ok {
		return
	}
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid tenant_id")
		return
	}
	if err := h.service.Unassign(r.Context(), tenantID, userID, id); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) handleServiceError(w http.ResponseWriter, err error) {
	var validationErrs validator.ValidationErrors
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, rbac.ErrInvalidCode):
		h.writeError(w, http.StatusBadRequest, "invalid permission code")
	case errors.As(err, &validationErrs):
		h.writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("groups handler", slog.Any("error", err))
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
