package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	audithttp "github.com/sitegrid/sitegrid/internal/audit/http"
	"github.com/sitegrid/sitegrid/internal/designations"
	"github.com/sitegrid/sitegrid/internal/groups"
	"github.com/sitegrid/sitegrid/internal/observability"
	"github.com/sitegrid/sitegrid/internal/overrides"
	"github.com/sitegrid/sitegrid/internal/rbac"
	rbachttp "github.com/sitegrid/sitegrid/internal/rbac/http"
)

// Administrative permissions enforced on the management surface.
const (
	permCatalogManage      = "rbac.catalog.manage"
	permDesignationsManage = "rbac.designations.manage"
	permGroupsManage       = "rbac.groups.manage"
	permOverridesManage    = "rbac.overrides.manage"
	permAuditView          = "rbac.audit.view"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	Pool                *pgxpool.Pool
	Metrics             *observability.Metrics
	RBACMiddleware      rbac.Middleware
	ResolutionHandler   *rbachttp.Handler
	CatalogHandler      *rbachttp.CatalogHandler
	DesignationsHandler *designations.Handler
	GroupsHandler       *groups.Handler
	OverridesHandler    *overrides.Handler
	AuditHandler        *audithttp.Handler
}

// NewRouter constructs the chi.Router with SiteGrid defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/rbac", func(rbacRouter chi.Router) {
		if params.ResolutionHandler != nil {
			params.ResolutionHandler.MountRoutes(rbacRouter)
		}
		if params.CatalogHandler != nil {
			rbacRouter.Route("/permissions", func(pr chi.Router) {
				pr.Use(params.RBACMiddleware.Require(permCatalogManage))
				params.CatalogHandler.MountRoutes(pr)
			})
		}
		if params.DesignationsHandler != nil {
			rbacRouter.Route("/designations", func(dr chi.Router) {
				dr.Use(params.RBACMiddleware.Require(permDesignationsManage))
				params.DesignationsHandler.MountRoutes(dr)
			})
		}
		if params.GroupsHandler != nil {
			rbacRouter.Route("/groups", func(gr chi.Router) {
				gr.Use(params.RBACMiddleware.Require(permGroupsManage))
				params.GroupsHandler.MountRoutes(gr)
			})
		}
		if params.OverridesHandler != nil {
			rbacRouter.Route("/overrides", func(or chi.Router) {
				or.Use(params.RBACMiddleware.Require(permOverridesManage))
				params.OverridesHandler.MountRoutes(or)
			})
		}
		if params.AuditHandler != nil {
			rbacRouter.Route("/audit", func(ar chi.Router) {
				ar.Use(params.RBACMiddleware.Require(permAuditView))
				params.AuditHandler.MountRoutes(ar)
			})
		}
	})

	return r
}
