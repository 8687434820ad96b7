package membership

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/async"
	"github.com/platinummonkey/quill/pkg/audit"
	"github.com/platinummonkey/quill/pkg/auth"
	"github.com/platinummonkey/quill/pkg/store"
)

type fakeStore struct {
	mu      sync.Mutex
	users   map[string]bool
	admins  map[string]bool
	plans   map[string]*store.Assignment
	seeded  map[access.Plan]bool
	expired []string
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  map[string]bool{"u1": true, "admin": true},
		admins: map[string]bool{"admin": true},
		plans:  map[string]*store.Assignment{},
		seeded: map[access.Plan]bool{access.PlanFree: true, access.PlanBasic: true, access.PlanPro: true, access.PlanVIP: true},
	}
}

func (f *fakeStore) ListPlans(ctx context.Context) ([]store.PlanRow, error) {
	return []store.PlanRow{
		{Name: access.PlanVIP}, {Name: access.PlanFree}, {Name: access.PlanPro}, {Name: access.PlanBasic},
	}, f.err
}

func (f *fakeStore) GetUserPlan(ctx context.Context, userID string) (*store.Assignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.plans[userID]; ok {
		return a, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) SetUserPlan(ctx context.Context, actorID, userID string, plan access.Plan, start time.Time, endDate *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if !f.seeded[plan] {
		return store.ErrNotFound
	}
	if !f.admins[actorID] {
		return store.ErrDenied
	}
	f.plans[userID] = &store.Assignment{UserID: userID, Plan: plan, StartDate: start, EndDate: endDate}
	return nil
}

func (f *fakeStore) ExpirePlans(ctx context.Context, now time.Time) ([]string, error) {
	return f.expired, f.err
}

func (f *fakeStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[userID], nil
}

func (f *fakeStore) SetAdmin(ctx context.Context, actorID, userID string, isAdmin bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if !f.admins[actorID] {
		return store.ErrDenied
	}
	f.admins[userID] = isAdmin
	return nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.users[id] {
		return nil, store.ErrNotFound
	}
	return &store.User{ID: id}, nil
}

func (f *fakeStore) ListAdminUsers(ctx context.Context) ([]store.AdminUserRow, error) {
	return []store.AdminUserRow{{UserID: "u1"}, {UserID: "admin", IsAdmin: true}}, nil
}

type recordingAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (r *recordingAudit) Log(ctx context.Context, ev *audit.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingAudit) byType(t audit.EventType) []*audit.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*audit.AuditEvent
	for _, ev := range r.events {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *fakeStore
	audit  *recordingAudit
	tasks  *async.Tasks
	mu     sync.Mutex
	events []auth.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newFakeStore(), audit: &recordingAudit{}, tasks: async.NewTasks(nil)}
	bus := auth.NewBus()
	bus.Subscribe(func(ev auth.Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})
	f.svc = NewService(f.store, bus, f.audit, f.tasks, nil, nil)
	return f
}

func (f *fixture) published() []auth.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]auth.Event(nil), f.events...)
}

var (
	adminViewer  = access.Viewer{UserID: "admin", Authenticated: true, IsAdmin: true}
	memberViewer = access.Viewer{UserID: "u1", Authenticated: true, Plan: access.PlanPtr(access.PlanVIP)}
)

func TestListPlans_Ordered(t *testing.T) {
	f := newFixture(t)

	plans, err := f.svc.ListPlans(context.Background())
	require.NoError(t, err)

	var names []access.Plan
	for _, p := range plans {
		names = append(names, p.Name)
	}
	assert.Equal(t, access.PlanOrder, names)
}

func TestGetUserPlan_NoneIsNil(t *testing.T) {
	f := newFixture(t)

	a, err := f.svc.GetUserPlan(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestSetRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SetRole(ctx, adminViewer, "u1", true))
	isAdmin, err := f.svc.IsAdmin(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, isAdmin)

	require.NoError(t, f.tasks.Wait(ctx))
	events := f.audit.byType(audit.EventTypeAdminRoleChange)
	require.Len(t, events, 1)
	assert.Equal(t, "admin", events[0].ActorID)
	assert.Equal(t, "u1", events[0].TargetID)
	assert.Equal(t, true, events[0].Metadata["is_admin"])

	published := f.published()
	require.Len(t, published, 1)
	assert.Equal(t, auth.EventRoleChanged, published[0].Kind)
	assert.Equal(t, "u1", published[0].UserID)
}

func TestSetRole_RequiresAdmin(t *testing.T) {
	f := newFixture(t)

	err := f.svc.SetRole(context.Background(), memberViewer, "u1", true)
	assert.ErrorIs(t, err, ErrNotAdmin)

	err = f.svc.SetRole(context.Background(), access.Anonymous, "u1", true)
	assert.ErrorIs(t, err, ErrNotAdmin)

	assert.False(t, f.store.admins["u1"])
	assert.Empty(t, f.published())
}

func TestSetRole_RevokedAdminWithStaleSession(t *testing.T) {
	f := newFixture(t)
	f.store.admins["admin"] = false

	err := f.svc.SetRole(context.Background(), adminViewer, "u1", true)
	assert.ErrorIs(t, err, ErrNotAdmin)
	assert.False(t, f.store.admins["u1"])
	assert.Empty(t, f.published())
}

func TestSetRole_UnknownUser(t *testing.T) {
	f := newFixture(t)

	err := f.svc.SetRole(context.Background(), adminViewer, "ghost", true)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestChangePlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }
	end := now.Add(30 * 24 * time.Hour)

	require.NoError(t, f.svc.ChangePlan(ctx, adminViewer, "u1", access.PlanPro, &end))

	a, err := f.svc.GetUserPlan(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, access.PlanPro, a.Plan)
	assert.Equal(t, now, a.StartDate)
	assert.Equal(t, end, *a.EndDate)

	require.NoError(t, f.tasks.Wait(ctx))
	events := f.audit.byType(audit.EventTypeAdminPlanChange)
	require.Len(t, events, 1)
	assert.Equal(t, "PRO", events[0].Metadata["plan"])

	published := f.published()
	require.Len(t, published, 1)
	assert.Equal(t, auth.EventPlanChanged, published[0].Kind)
}

func TestChangePlan_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)

	assert.ErrorIs(t, f.svc.ChangePlan(ctx, memberViewer, "u1", access.PlanPro, nil), ErrNotAdmin)
	assert.ErrorIs(t, f.svc.ChangePlan(ctx, adminViewer, "u1", access.Plan("GOLD"), nil), ErrUnknownPlan)
	assert.ErrorIs(t, f.svc.ChangePlan(ctx, adminViewer, "u1", access.PlanPro, &past), ErrInvalidEndDate)
	assert.ErrorIs(t, f.svc.ChangePlan(ctx, adminViewer, "ghost", access.PlanPro, nil), ErrUserNotFound)

	delete(f.store.seeded, access.PlanVIP)
	assert.ErrorIs(t, f.svc.ChangePlan(ctx, adminViewer, "u1", access.PlanVIP, nil), ErrUnknownPlan)

	assert.Empty(t, f.published())
}

func TestChangePlan_RevokedAdminWithStaleSession(t *testing.T) {
	f := newFixture(t)
	f.store.admins["admin"] = false

	err := f.svc.ChangePlan(context.Background(), adminViewer, "u1", access.PlanVIP, nil)
	assert.ErrorIs(t, err, ErrNotAdmin)
	assert.Empty(t, f.store.plans)
	assert.Empty(t, f.published())
}

func TestChangePlan_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("deadlock detected")

	err := f.svc.ChangePlan(context.Background(), adminViewer, "u1", access.PlanBasic, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.Empty(t, f.published())
}

func TestListUsers(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.ListUsers(context.Background(), memberViewer)
	assert.ErrorIs(t, err, ErrNotAdmin)

	rows, err := f.svc.ListUsers(context.Background(), adminViewer)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestExpirePlans(t *testing.T) {
	f := newFixture(t)
	f.store.expired = []string{"u1", "u2", "u3"}

	n, err := f.svc.ExpirePlans(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Len(t, f.audit.byType(audit.EventTypePlanExpired), 3)

	published := f.published()
	require.Len(t, published, 3)
	for _, ev := range published {
		assert.Equal(t, auth.EventPlanChanged, ev.Kind)
	}
}

func TestExpirePlans_NothingDue(t *testing.T) {
	f := newFixture(t)

	n, err := f.svc.ExpirePlans(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, f.published())
}
