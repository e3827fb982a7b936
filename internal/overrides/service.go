package overrides

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

// ErrInvalidTransition indicates an approval action on the wrong state.
var ErrInvalidTransition = fmt.Errorf("overrides: invalid status transition")

// Repository is the persistence contract the service needs.
type Repository interface {
	Create(ctx context.Context, o Override) (Override, error)
	Get(ctx context.Context, tenantID, id int64) (Override, error)
	SetStatus(ctx context.Context, tenantID, id int64, status ApprovalStatus) error
	Revoke(ctx context.Context, tenantID, id int64, now time.Time) error
}

// CatalogReader checks that the override targets a real permission. System
// permissions may only be denied through an explicit restriction.
type CatalogReader interface {
	GetPermission(ctx context.Context, tenantID int64, code string) (rbac.Permission, error)
}

// Invalidator is the slice of the permission cache the service drives.
type Invalidator interface {
	InvalidateUser(ctx context.Context, tenantID, userID int64) error
}

// Recorder receives audit entries for administrative mutations.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service runs the override approval workflow. Only transitions that change
// what resolves (approval, revocation of an approved override) invalidate the
// user's cache.
type Service struct {
	repo     Repository
	catalog  CatalogReader
	cache    Invalidator
	audit    Recorder
	logger   *slog.Logger
	validate *validator.Validate
	now      func() time.Time
}

// NewService constructs the override service.
func NewService(repo Repository, catalog CatalogReader, cache Invalidator, recorder Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		catalog:  catalog,
		cache:    cache,
		audit:    recorder,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Create proposes an override. A restriction must carry level denied; an
// addition must not.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Override, error) {
	if err := s.validate.Struct(req); err != nil {
		return Override{}, fmt.Errorf("overrides: %w", err)
	}
	if err := rbac.ValidateCode(req.PermissionCode); err != nil {
		return Override{}, err
	}
	if req.Type == rbac.OverrideRestriction && req.Level != rbac.LevelDenied {
		return Override{}, fmt.Errorf("overrides: restriction requires level denied")
	}
	if req.Type == rbac.OverrideAddition && req.Level == rbac.LevelDenied {
		return Override{}, fmt.Errorf("overrides: addition cannot carry level denied")
	}
	if _, err := s.catalog.GetPermission(ctx, req.TenantID, req.PermissionCode); err != nil {
		return Override{}, err
	}
	from := req.EffectiveFrom
	if from.IsZero() {
		from = s.now()
	}
	created, err := s.repo.Create(ctx, Override{
		TenantID:       req.TenantID,
		UserID:         req.UserID,
		PermissionCode: req.PermissionCode,
		Type:           req.Type,
		Level:          req.Level,
		Scope:          req.Scope,
		Conditions:     req.Conditions,
		RequiresMFA:    req.RequiresMFA,
		Status:         StatusPending,
		Reason:         req.Reason,
		EffectiveFrom:  from,
		EffectiveTo:    req.EffectiveTo,
		IsActive:       true,
	})
	if err != nil {
		return Override{}, err
	}
	s.record(ctx, created, "override.create")
	return created, nil
}

// Approve makes a pending override live and invalidates the user.
func (s *Service) Approve(ctx context.Context, tenantID, id int64) (Override, error) {
	o, err := s.transition(ctx, tenantID, id, StatusPending, StatusApproved)
	if err != nil {
		return Override{}, err
	}
	s.invalidate(ctx, o)
	s.record(ctx, o, "override.approve")
	return o, nil
}

// Reject declines a pending override. Nothing resolved changes, so no
// invalidation.
func (s *Service) Reject(ctx context.Context, tenantID, id int64) (Override, error) {
	o, err := s.transition(ctx, tenantID, id, StatusPending, StatusRejected)
	if err != nil {
		return Override{}, err
	}
	s.record(ctx, o, "override.reject")
	return o, nil
}

// Revoke deactivates an override. Revoking an approved override changes the
// user's effective set and invalidates.
func (s *Service) Revoke(ctx context.Context, tenantID, id int64) error {
	o, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.repo.Revoke(ctx, tenantID, id, s.now()); err != nil {
		return err
	}
	if o.Status == StatusApproved {
		s.invalidate(ctx, o)
	}
	s.record(ctx, o, "override.revoke")
	return nil
}

func (s *Service) transition(ctx context.Context, tenantID, id int64, from, to ApprovalStatus) (Override, error) {
	o, err := s.repo.Get(ctx, tenantID, id)
	if err != nil {
		return Override{}, err
	}
	if o.Status != from {
		return Override{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	if err := s.repo.SetStatus(ctx, tenantID, id, to); err != nil {
		return Override{}, err
	}
	o.Status = to
	return o, nil
}

func (s *Service) invalidate(ctx context.Context, o Override) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateUser(ctx, o.TenantID, o.UserID); err != nil {
		s.logger.Error("overrides invalidate user", slog.Int64("tenant", o.TenantID), slog.Int64("user", o.UserID), slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, o Override, action string) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, audit.Entry{
		TenantID: o.TenantID,
		Action:   action,
		Entity:   "user_override",
		EntityID: strconv.FormatInt(o.ID, 10),
		Meta: map[string]any{
			"user_id":         o.UserID,
			"permission_code": o.PermissionCode,
			"override_type":   string(o.Type),
		},
	})
	if err != nil {
		s.logger.Warn("overrides audit", slog.String("action", action), slog.Any("error", err))
	}
}
