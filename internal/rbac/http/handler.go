package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/sitegrid/sitegrid/internal/rbac"
)

// Handler exposes the engine's two calls as JSON endpoints for standalone
// deployment.
type Handler struct {
	logger   *slog.Logger
	engine   *rbac.Engine
	validate *validator.Validate
}

// NewHandler builds the RPC handler.
func NewHandler(logger *slog.Logger, engine *rbac.Engine) *Handler {
	return &Handler{logger: logger, engine: engine, validate: validator.New()}
}

// MountRoutes registers the engine routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/resolve", h.resolve)
	r.Post("/check", h.check)
}

type resolveRequest struct {
	TenantID     int64 `json:"tenant_id" validate:"required,gt=0"`
	UserID       int64 `json:"user_id" validate:"required,gt=0"`
	ForceRefresh bool  `json:"force_refresh"`
}

type checkRequest struct {
	TenantID       int64              `json:"tenant_id" validate:"required,gt=0"`
	UserID         int64              `json:"user_id" validate:"required,gt=0"`
	PermissionCode string             `json:"permission_code" validate:"required"`
	ScopeContext   *rbac.ScopeContext `json:"scope_context,omitempty"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.engine.ResolveEffectivePermissions(r.Context(), req.TenantID, req.UserID, req.ForceRefresh)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !h.decode(w, r, &req) {
		return
	}
	decision, err := h.engine.CheckPermission(r.Context(), req.TenantID, req.UserID, req.PermissionCode, req.ScopeContext)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, decision)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown tenant or user"})
	case errors.Is(err, rbac.ErrInvalidCode):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid permission code"})
	default:
		h.logger.Error("rbac handler", slog.Any("error", err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}
