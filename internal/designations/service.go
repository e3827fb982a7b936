package designations

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sitegrid/sitegrid/internal/audit"
	"github.com/sitegrid/sitegrid/internal/rbac"
)

// Repository is the persistence contract the service needs.
type Repository interface {
	Create(ctx context.Context, d rbac.Designation) (rbac.Designation, error)
	Get(ctx context.Context, tenantID, id int64) (rbac.Designation, error)
	Update(ctx context.Context, d rbac.Designation) (rbac.Designation, error)
	Deactivate(ctx context.Context, tenantID, id int64) error
	ReplaceBaseGrants(ctx context.Context, designationID int64, grants []rbac.GrantRecord) error
	CreateAssignment(ctx context.Context, tenantID int64, a rbac.Assignment) (rbac.Assignment, error)
	EndAssignment(ctx context.Context, tenantID, userID, designationID int64, now time.Time) error
}

// Invalidator is the slice of the permission cache the service drives.
// Invalidation runs synchronously in the same unit of work as the mutation.
type Invalidator interface {
	InvalidateUser(ctx context.Context, tenantID, userID int64) error
	InvalidateTenant(ctx context.Context, tenantID int64) error
}

// Recorder receives audit entries for administrative mutations.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service manages designations and their user assignments.
type Service struct {
	repo     Repository
	cache    Invalidator
	audit    Recorder
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the designation admin service.
func NewService(repo Repository, cache Invalidator, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		cache:    cache,
		audit:    recorder,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Create registers a new designation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (rbac.Designation, error) {
	if err := s.validate.Struct(req); err != nil {
		return rbac.Designation{}, fmt.Errorf("designations: %w", err)
	}
	created, err := s.repo.Create(ctx, rbac.Designation{
		TenantID:       req.TenantID,
		Name:           req.Name,
		HierarchyLevel: req.HierarchyLevel,
		Priority:       req.Priority,
		IsActive:       true,
	})
	if err != nil {
		return rbac.Designation{}, err
	}
	s.record(ctx, req.TenantID, "designation.create", created.ID, nil)
	return created, nil
}

// Update changes name, seniority or priority. Priority and seniority feed
// conflict resolution for every holder, so the whole tenant is invalidated.
func (s *Service) Update(ctx context.Context, req UpdateRequest) (rbac.Designation, error) {
	if err := s.validate.Struct(req); err != nil {
		return rbac.Designation{}, fmt.Errorf("designations: %w", err)
	}
	current, err := s.repo.Get(ctx, req.TenantID, req.DesignationID)
	if err != nil {
		return rbac.Designation{}, err
	}
	current.Name = req.Name
	current.HierarchyLevel = req.HierarchyLevel
	current.Priority = req.Priority
	updated, err := s.repo.Update(ctx, current)
	if err != nil {
		return rbac.Designation{}, err
	}
	s.invalidateTenant(ctx, req.TenantID)
	s.record(ctx, req.TenantID, "designation.update", updated.ID, nil)
	return updated, nil
}

// Deactivate soft-disables a designation; its grants stop contributing for
// every holder immediately.
func (s *Service) Deactivate(ctx context.Context, tenantID, id int64) error {
	if err := s.repo.Deactivate(ctx, tenantID, id); err != nil {
		return err
	}
	s.invalidateTenant(ctx, tenantID)
	s.record(ctx, tenantID, "designation.deactivate", id, nil)
	return nil
}

// SetBaseGrants replaces the designation's grant set. Designations can only
// grant, never deny; the request validation enforces that.
func (s *Service) SetBaseGrants(ctx context.Context, tenantID, designationID int64, grants []GrantInput) error {
	records := make([]rbac.GrantRecord, 0, len(grants))
	for _, g := range grants {
		if err := s.validate.Struct(g); err != nil {
			return fmt.Errorf("designations: %w", err)
		}
		if err := rbac.ValidateCode(g.PermissionCode); err != nil {
			return err
		}
		records = append(records, rbac.GrantRecord{
			PermissionCode: g.PermissionCode,
			Level:          g.Level,
			IsMandatory:    g.IsMandatory,
			Scope:          g.Scope,
			Conditions:     g.Conditions,
			RequiresMFA:    g.RequiresMFA,
		})
	}
	if _, err := s.repo.Get(ctx, tenantID, designationID); err != nil {
		return err
	}
	if err := s.repo.ReplaceBaseGrants(ctx, designationID, records); err != nil {
		return err
	}
	s.invalidateTenant(ctx, tenantID)
	s.record(ctx, tenantID, "designation.grants.replace", designationID, map[string]any{"count": len(records)})
	return nil
}

// Assign places a user into a designation and invalidates only that user.
func (s *Service) Assign(ctx context.Context, req AssignRequest) (rbac.Assignment, error) {
	if err := s.validate.Struct(req); err != nil {
		return rbac.Assignment{}, fmt.Errorf("designations: %w", err)
	}
	if _, err := s.repo.Get(ctx, req.TenantID, req.DesignationID); err != nil {
		return rbac.Assignment{}, err
	}
	from := req.EffectiveFrom
	if from.IsZero() {
		from = s.now()
	}
	created, err := s.repo.CreateAssignment(ctx, req.TenantID, rbac.Assignment{
		UserID:        req.UserID,
		SourceID:      req.DesignationID,
		EffectiveFrom: from,
		EffectiveTo:   req.EffectiveTo,
		IsActive:      true,
	})
	if err != nil {
		return rbac.Assignment{}, err
	}
	s.invalidateUser(ctx, req.TenantID, req.UserID)
	s.record(ctx, req.TenantID, "designation.assign", req.DesignationID, map[string]any{"user_id": req.UserID})
	return created, nil
}

// Unassign ends the user's assignment now.
func (s *Service) Unassign(ctx context.Context, tenantID, userID, designationID int64) error {
	if err := s.repo.EndAssignment(ctx, tenantID, userID, designationID, s.now()); err != nil {
		return err
	}
	s.invalidateUser(ctx, tenantID, userID)
	s.record(ctx, tenantID, "designation.unassign", designationID, map[string]any{"user_id": userID})
	return nil
}

func (s *Service) invalidateUser(ctx context.Context, tenantID, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateUser(ctx, tenantID, userID); err != nil {
		s.logger.Error("designations invalidate user", slog.Int64("tenant", tenantID), slog.Int64("user", userID), slog.Any("error", err))
	}
}

func (s *Service) invalidateTenant(ctx context.Context, tenantID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		s.logger.Error("designations invalidate tenant", slog.Int64("tenant", tenantID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, tenantID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		TenantID: tenantID,
		Action:   action,
		Entity:   "designation",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("designations audit", slog.String("action", action), slog.Any("error", err))
	}
}
