package groups

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
	Create(ctx context.Context, g rbac.Group) (rbac.Group, error)
	Get(ctx context.Context, tenantID, id int64) (rbac.Group, error)
	Deactivate(ctx context.Context, tenantID, id int64) error
	ReplaceGrants(ctx context.Context, groupID int64, grants []rbac.GrantRecord) error
	CreateAssignment(ctx context.Context, tenantID int64, a rbac.Assignment) (rbac.Assignment, error)
	EndAssignment(ctx context.Context, tenantID, userID, groupID int64, now time.Time) error
}

// Invalidator is the slice of the permission cache the service drives.
type Invalidator interface {
	InvalidateUser(ctx context.Context, tenantID, userID int64) error
	InvalidateTenant(ctx context.Context, tenantID int64) error
}

// Recorder receives audit entries for administrative mutations.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service manages permission groups and their memberships.
type Service struct {
	repo     Repository
	cache    Invalidator
	audit    Recorder
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the group admin service.
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

// Create registers a new group.
func (s *Service) Create(ctx context.Context, req CreateRequest) (rbac.Group, error) {
	if err := s.validate.Struct(req); err != nil {
		return rbac.Group{}, fmt.Errorf("groups: %w", err)
	}
	created, err := s.repo.Create(ctx, rbac.Group{TenantID: req.TenantID, Name: req.Name, IsActive: true})
	if err != nil {
		return rbac.Group{}, err
	}
	s.record(ctx, req.TenantID, "group.create", created.ID, nil)
	return created, nil
}

// Deactivate soft-disables a group for every member at once.
func (s *Service) Deactivate(ctx context.Context, tenantID, id int64) error {
	if err := s.repo.Deactivate(ctx, tenantID, id); err != nil {
		return err
	}
	s.invalidateTenant(ctx, tenantID)
	s.record(ctx, tenantID, "group.deactivate", id, nil)
	return nil
}

// SetGrants replaces the group's grant set. Every member's cached resolution
// is stale afterwards, so the whole tenant is invalidated.
func (s *Service) SetGrants(ctx context.Context, tenantID, groupID int64, grants []GrantInput) error {
	records := make([]rbac.GrantRecord, 0, len(grants))
	for _, g := range grants {
		if err := s.validate.Struct(g); err != nil {
			return fmt.Errorf("groups: %w", err)
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
	if _, err := s.repo.Get(ctx, tenantID, groupID); err != nil {
		return err
	}
	if err := s.repo.ReplaceGrants(ctx, groupID, records); err != nil {
		return err
	}
	s.invalidateTenant(ctx, tenantID)
	s.record(ctx, tenantID, "group.grants.replace", groupID, map[string]any{"count": len(records)})
	return nil
}

// Assign adds a user to a group and invalidates only that user.
func (s *Service) Assign(ctx context.Context, req AssignRequest) (rbac.Assignment, error) {
	if err := s.validate.Struct(req); err != nil {
		return rbac.Assignment{}, fmt.Errorf("groups: %w", err)
	}
	if _, err := s.repo.Get(ctx, req.TenantID, req.GroupID); err != nil {
		return rbac.Assignment{}, err
	}
	from := req.EffectiveFrom
	if from.IsZero() {
		from = s.now()
	}
	created, err := s.repo.CreateAssignment(ctx, req.TenantID, rbac.Assignment{
		UserID:        req.UserID,
		SourceID:      req.GroupID,
		EffectiveFrom: from,
		EffectiveTo:   req.EffectiveTo,
		IsActive:      true,
	})
	if err != nil {
		return rbac.Assignment{}, err
	}
	s.invalidateUser(ctx, req.TenantID, req.UserID)
	s.record(ctx, req.TenantID, "group.assign", req.GroupID, map[string]any{"user_id": req.UserID})
	return created, nil
}

// Unassign removes the user from the group now.
func (s *Service) Unassign(ctx context.Context, tenantID, userID, groupID int64) error {
	if err := s.repo.EndAssignment(ctx, tenantID, userID, groupID, s.now()); err != nil {
		return err
	}
	s.invalidateUser(ctx, tenantID, userID)
	s.record(ctx, tenantID, "group.unassign", groupID, map[string]any{"user_id": userID})
	return nil
}

func (s *Service) invalidateUser(ctx context.Context, tenantID, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateUser(ctx, tenantID, userID); err != nil {
		s.logger.Error("groups invalidate user", slog.Int64("tenant", tenantID), slog.Int64("user", userID), slog.Any("error", err))
	}
}

func (s *Service) invalidateTenant(ctx context.Context, tenantID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		s.logger.Error("groups invalidate tenant", slog.Int64("tenant", tenantID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, tenantID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		TenantID: tenantID,
		Action:   action,
		Entity:   "permission_group",
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("groups audit", slog.String("action", action), slog.Any("error", err))
	}
}
