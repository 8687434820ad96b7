// Package membership manages plans and admin roles.
//
// Role and plan changes are written to the audit log and published on the
// auth bus so that cached lookups for the affected user are dropped.
package membership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/async"
	"github.com/platinummonkey/quill/pkg/audit"
	"github.com/platinummonkey/quill/pkg/auth"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/store"
)

var (
	ErrNotAdmin       = errors.New("administrator access required")
	ErrUserNotFound   = errors.New("user not found")
	ErrUnknownPlan    = errors.New("unknown plan")
	ErrInvalidEndDate = errors.New("end date must be in the future")
)

// Store is the persistence membership needs
type Store interface {
	ListPlans(ctx context.Context) ([]store.PlanRow, error)
	GetUserPlan(ctx context.Context, userID string) (*store.Assignment, error)
	SetUserPlan(ctx context.Context, actorID, userID string, plan access.Plan, start time.Time, endDate *time.Time) error
	ExpirePlans(ctx context.Context, now time.Time) ([]string, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
	SetAdmin(ctx context.Context, actorID, userID string, isAdmin bool) error
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	ListAdminUsers(ctx context.Context) ([]store.AdminUserRow, error)
}

// Service exposes plan and role management
type Service struct {
	store   Store
	bus     *auth.Bus
	audit   audit.Logger
	tasks   *async.Tasks
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewService creates a membership service. bus, auditLogger, tasks,
// metrics and logger may be nil.
func NewService(st Store, bus *auth.Bus, auditLogger audit.Logger, tasks *async.Tasks, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	if tasks == nil {
		tasks = async.NewTasks(logger)
	}
	return &Service{
		store:   st,
		bus:     bus,
		audit:   auditLogger,
		tasks:   tasks,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// ListPlans returns every plan ordered FREE, BASIC, PRO, VIP
func (s *Service) ListPlans(ctx context.Context) ([]store.PlanRow, error) {
	plans, err := s.store.ListPlans(ctx)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(plans, func(i, j int) bool {
		return plans[i].Name.Rank() < plans[j].Name.Rank()
	})
	return plans, nil
}

// GetUserPlan returns the user's assignment, or nil when there is none
func (s *Service) GetUserPlan(ctx context.Context, userID string) (*store.Assignment, error) {
	a, err := s.store.GetUserPlan(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// IsAdmin reports the user's admin flag
func (s *Service) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return s.store.IsAdmin(ctx, userID)
}

// ListUsers returns every account for the admin user table, newest first
func (s *Service) ListUsers(ctx context.Context, actor access.Viewer) ([]store.AdminUserRow, error) {
	if !actor.IsAdmin {
		return nil, ErrNotAdmin
	}
	return s.store.ListAdminUsers(ctx)
}

// SetRole grants or revokes admin for userID
func (s *Service) SetRole(ctx context.Context, actor access.Viewer, userID string, isAdmin bool) error {
	if !actor.IsAdmin {
		return ErrNotAdmin
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	// The store re-checks the actor's role in the same statement, so a
	// role revoked since the session was cached is caught here.
	err := s.store.SetAdmin(ctx, actor.UserID, userID, isAdmin)
	if errors.Is(err, store.ErrDenied) {
		return ErrNotAdmin
	}
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}

	ev := audit.NewEvent(ctx, audit.EventTypeAdminRoleChange, audit.EventStatusSuccess)
	ev.ActorID = actor.UserID
	ev.TargetID = userID
	ev.ResourceType = audit.ResourceTypeRole
	ev.ResourceID = userID
	ev.Message = fmt.Sprintf("admin set to %t", isAdmin)
	ev.Metadata["is_admin"] = isAdmin
	s.write(ctx, ev)

	s.bus.Publish(auth.Event{Kind: auth.EventRoleChanged, UserID: userID, At: s.now()})
	return nil
}

// ChangePlan assigns plan to userID starting now. A nil endDate means the
// assignment does not expire.
func (s *Service) ChangePlan(ctx context.Context, actor access.Viewer, userID string, plan access.Plan, endDate *time.Time) error {
	if !actor.IsAdmin {
		return ErrNotAdmin
	}
	if !plan.Valid() {
		return ErrUnknownPlan
	}
	now := s.now()
	if endDate != nil && !endDate.After(now) {
		return ErrInvalidEndDate
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return err
	}

	err := s.store.SetUserPlan(ctx, actor.UserID, userID, plan, now, endDate)
	if errors.Is(err, store.ErrDenied) {
		return ErrNotAdmin
	}
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s is not seeded", ErrUnknownPlan, plan)
	}
	if err != nil {
		return fmt.Errorf("failed to change plan: %w", err)
	}

	ev := audit.NewEvent(ctx, audit.EventTypeAdminPlanChange, audit.EventStatusSuccess)
	ev.ActorID = actor.UserID
	ev.TargetID = userID
	ev.ResourceType = audit.ResourceTypePlan
	ev.ResourceID = userID
	ev.Message = fmt.Sprintf("plan set to %s", plan)
	ev.Metadata["plan"] = string(plan)
	if endDate != nil {
		ev.Metadata["end_date"] = endDate.UTC().Format(time.RFC3339)
	}
	s.write(ctx, ev)

	s.bus.Publish(auth.Event{Kind: auth.EventPlanChanged, UserID: userID, At: now})
	return nil
}

// ExpirePlans downgrades every assignment whose end date has passed to
// FREE and returns how many were changed
func (s *Service) ExpirePlans(ctx context.Context, now time.Time) (int, error) {
	userIDs, err := s.store.ExpirePlans(ctx, now)
	if err != nil {
		return 0, err
	}
	s.metrics.RecordPlansExpired(len(userIDs))

	for _, id := range userIDs {
		s.bus.Publish(auth.Event{Kind: auth.EventPlanChanged, UserID: id, At: now})
	}

	err = async.Batch(ctx, userIDs, 4, 5*time.Second, func(ctx context.Context, userID string) error {
		ev := audit.NewEvent(ctx, audit.EventTypePlanExpired, audit.EventStatusSuccess)
		ev.TargetID = userID
		ev.ResourceType = audit.ResourceTypePlan
		ev.ResourceID = userID
		ev.Message = "plan expired, downgraded to FREE"
		return s.audit.Log(ctx, ev)
	})
	if err != nil {
		s.logger.WithError(err).Warn("failed to audit some plan expirations")
	}

	if len(userIDs) > 0 {
		s.logger.WithField("count", len(userIDs)).Info("expired plans downgraded to FREE")
	}
	return len(userIDs), nil
}

func (s *Service) requireUser(ctx context.Context, userID string) error {
	_, err := s.store.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	return nil
}

func (s *Service) write(ctx context.Context, ev *audit.AuditEvent) {
	s.tasks.SafeGo(ctx, 5*time.Second, "audit."+string(ev.EventType), func(ctx context.Context) error {
		return s.audit.Log(ctx, ev)
	})
}
