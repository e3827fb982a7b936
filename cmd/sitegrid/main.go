package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sitegrid/sitegrid/internal/app"
	"github.com/sitegrid/sitegrid/internal/audit"
	audithttp "github.com/sitegrid/sitegrid/internal/audit/http"
	"github.com/sitegrid/sitegrid/internal/designations"
	"github.com/sitegrid/sitegrid/internal/groups"
	"github.com/sitegrid/sitegrid/internal/observability"
	"github.com/sitegrid/sitegrid/internal/overrides"
	"github.com/sitegrid/sitegrid/internal/platform/cache"
	"github.com/sitegrid/sitegrid/internal/platform/db"
	"github.com/sitegrid/sitegrid/internal/rbac"
	rbachttp "github.com/sitegrid/sitegrid/internal/rbac/http"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	repo := rbac.NewRepository(pool)
	permCache := rbac.NewRedisCache(redisClient, repo, cfg.PermissionCacheTTL)
	auditLogger := audit.NewLogger(pool)

	engine := rbac.NewEngine(rbac.EngineParams{
		Designations: repo,
		Groups:       repo.Groups(),
		Overrides:    repo,
		Catalog:      repo,
		Profiles:     repo,
		Fingerprints: repo,
		Cache:        permCache,
		Audit:        auditLogger,
		Metrics:      metrics,
		Logger:       logger,
	})

	catalog := rbac.NewCatalog(repo, permCache, logger)

	designationService := designations.NewService(designations.NewRepository(pool), engine, auditLogger, logger)
	groupService := groups.NewService(groups.NewRepository(pool), engine, auditLogger, logger)
	overrideService := overrides.NewService(overrides.NewRepository(pool), catalog, engine, auditLogger, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		Pool:                pool,
		Metrics:             metrics,
		RBACMiddleware:      rbac.Middleware{Engine: engine, Logger: logger},
		ResolutionHandler:   rbachttp.NewHandler(logger, engine),
		CatalogHandler:      rbachttp.NewCatalogHandler(logger, catalog),
		DesignationsHandler: designations.NewHandler(logger, designationService),
		GroupsHandler:       groups.NewHandler(logger, groupService),
		OverridesHandler:    overrides.NewHandler(logger, overrideService),
		AuditHandler:        audithttp.NewHandler(logger, auditLogger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
