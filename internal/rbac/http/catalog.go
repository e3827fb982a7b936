package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sitegrid/sitegrid/internal/rbac"
)

// CatalogHandler manages the tenant permission catalog.
type CatalogHandler struct {
	logger  *slog.Logger
	catalog *rbac.Catalog
}

// NewCatalogHandler builds the catalog handler.
func NewCatalogHandler(logger *slog.Logger, catalog *rbac.Catalog) *CatalogHandler {
	return &CatalogHandler{logger: logger, catalog: catalog}
}

// MountRoutes registers catalog routes.
func (h *CatalogHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/{code}/deactivate", h.deactivate)
	r.Delete("/{code}", h.delete)
}

func (h *CatalogHandler) list(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantQuery(w, r)
	if !ok {
		return
	}
	perms, err := h.catalog.ListPermissions(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, perms)
}

type createPermissionPayload struct {
	TenantID      int64          `json:"tenant_id"`
	Code          string         `json:"code"`
	Name          string         `json:"name"`
	Category      string         `json:"category"`
	Risk          rbac.RiskLevel `json:"risk_level"`
	RequiresScope bool           `json:"requires_scope"`
}

func (h *CatalogHandler) create(w http.ResponseWriter, r *http.Request) {
	var payload createPermissionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	created, err := h.catalog.CreatePermission(r.Context(), rbac.Permission{
		TenantID:      payload.TenantID,
		Code:          payload.Code,
		Name:          payload.Name,
		Category:      payload.Category,
		Risk:          payload.Risk,
		RequiresScope: payload.RequiresScope,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, created)
}

func (h *CatalogHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantQuery(w, r)
	if !ok {
		return
	}
	if err := h.catalog.DeactivatePermission(r.Context(), tenantID, chi.URLParam(r, "code")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) delete(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.tenantQuery(w, r)
	if !ok {
		return
	}
	if err := h.catalog.DeletePermission(r.Context(), tenantID, chi.URLParam(r, "code")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CatalogHandler) tenantQuery(w http.ResponseWriter, r *http.Request) (int64, bool) {
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid tenant_id"})
		return 0, false
	}
	return tenantID, true
}

func (h *CatalogHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rbac.ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, rbac.ErrDuplicateCode):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "permission code already exists"})
	case errors.Is(err, rbac.ErrSystemPermission):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "system permission is immutable"})
	case errors.Is(err, rbac.ErrPermissionInUse):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "permission still referenced"})
	case errors.Is(err, rbac.ErrInvalidCode):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid permission code"})
	default:
		h.logger.Error("catalog handler", slog.Any("error", err))
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *CatalogHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("encode response", slog.Any("error", err))
	}
}
