package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/auth"
	"github.com/platinummonkey/quill/pkg/store"
)

type fakeAuth struct {
	users map[string]*store.User // by token
}

func (f fakeAuth) Authenticate(ctx context.Context, token string) (*store.User, *store.Session, error) {
	u, ok := f.users[token]
	if !ok {
		return nil, nil, auth.ErrInvalidToken
	}
	return u, &store.Session{ID: "sess-" + u.ID, UserID: u.ID}, nil
}

type fakeLookups struct {
	mu         sync.Mutex
	admins     map[string]bool
	plans      map[string]access.Plan
	err        error
	adminCalls atomic.Int32
	planCalls  atomic.Int32
}

func newFakeLookups() *fakeLookups {
	return &fakeLookups{admins: map[string]bool{}, plans: map[string]access.Plan{}}
}

func (f *fakeLookups) IsAdmin(ctx context.Context, userID string) (bool, error) {
	f.adminCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.admins[userID], nil
}

func (f *fakeLookups) GetUserPlan(ctx context.Context, userID string) (*store.Assignment, error) {
	f.planCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.plans[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.Assignment{UserID: userID, Plan: p, StartDate: time.Now()}, nil
}

func (f *fakeLookups) setAdmin(userID string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admins[userID] = v
}

var alice = &store.User{ID: "11111111-1111-1111-1111-111111111111", Email: "alice@example.com"}

func newTestManager(t *testing.T, cache LookupCache) (*Manager, *fakeLookups) {
	t.Helper()
	lookups := newFakeLookups()
	lookups.plans[alice.ID] = access.PlanBasic
	m := NewManager(fakeAuth{users: map[string]*store.User{"tok-alice": alice}}, lookups, cache, nil)
	return m, lookups
}

func TestLoad_Anonymous(t *testing.T) {
	m, _ := newTestManager(t, NewMemoryLookupCache(time.Minute, nil))

	state, err := m.Load(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, state.Authenticated())
	assert.Equal(t, access.Anonymous, state.Viewer())
}

func TestLoad_InvalidToken(t *testing.T) {
	m, _ := newTestManager(t, NewMemoryLookupCache(time.Minute, nil))

	state, err := m.Load(context.Background(), "bogus")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
	assert.False(t, state.Authenticated())
}

func TestLoad_ResolvesRoleAndPlan(t *testing.T) {
	m, lookups := newTestManager(t, NewMemoryLookupCache(time.Minute, nil))
	lookups.setAdmin(alice.ID, true)

	state, err := m.Load(context.Background(), "tok-alice")
	require.NoError(t, err)

	assert.True(t, state.Authenticated())
	assert.True(t, state.IsAdmin)
	require.NotNil(t, state.Plan)
	assert.Equal(t, access.PlanBasic, state.Plan.Plan)

	v := state.Viewer()
	assert.Equal(t, alice.ID, v.UserID)
	assert.True(t, v.IsAdmin)
	assert.Equal(t, access.PlanBasic, v.EffectivePlan())
}

func TestLoad_CachesLookups(t *testing.T) {
	m, lookups := newTestManager(t, NewMemoryLookupCache(time.Minute, nil))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Load(ctx, "tok-alice")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), lookups.adminCalls.Load())
	assert.Equal(t, int32(1), lookups.planCalls.Load())
}

func TestLoad_NoPlanIsCachedToo(t *testing.T) {
	m, lookups := newTestManager(t, NewMemoryLookupCache(time.Minute, nil))
	delete(lookups.plans, alice.ID)
	ctx := context.Background()

	state, err := m.Load(ctx, "tok-alice")
	require.NoError(t, err)
	assert.Nil(t, state.Plan)
	assert.Equal(t, access.PlanFree, state.Viewer().EffectivePlan())

	_, err = m.Load(ctx, "tok-alice")
	require.NoError(t, err)
	assert.Equal(t, int32(1), lookups.planCalls.Load())
}

func TestLoad_LookupFailureFailsClosed(t *testing.T) {
	m, lookups := newTestManager(t, NewMemoryLookupCache(time.Minute, nil))
	lookups.setAdmin(alice.ID, true)
	lookups.err = errors.New("connection refused")

	state, err := m.Load(context.Background(), "tok-alice")
	require.NoError(t, err)

	assert.True(t, state.Authenticated())
	assert.Error(t, state.LookupErr)
	v := state.Viewer()
	assert.True(t, v.Authenticated)
	assert.False(t, v.IsAdmin)
	assert.Nil(t, v.Plan)
}

func TestAdminToggle_VisibleAfterRoleChangeEvent(t *testing.T) {
	m, lookups := newTestManager(t, NewMemoryLookupCache(time.Minute, nil))
	ctx := context.Background()
	bus := auth.NewBus()
	defer m.Subscribe(bus)()

	isAdmin, err := m.IsAdmin(ctx, alice.ID)
	require.NoError(t, err)
	require.False(t, isAdmin)

	lookups.setAdmin(alice.ID, true)

	isAdmin, err = m.IsAdmin(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, isAdmin, "cached value is served until invalidated")

	bus.Publish(auth.Event{Kind: auth.EventRoleChanged, UserID: alice.ID})

	isAdmin, err = m.IsAdmin(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)
}

func TestAdminToggle_VisibleAfterExpiry(t *testing.T) {
	m, lookups := newTestManager(t, NewMemoryLookupCache(20*time.Millisecond, nil))
	ctx := context.Background()

	isAdmin, err := m.IsAdmin(ctx, alice.ID)
	require.NoError(t, err)
	require.False(t, isAdmin)

	lookups.setAdmin(alice.ID, true)
	time.Sleep(50 * time.Millisecond)

	isAdmin, err = m.IsAdmin(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)
}

func TestHandle_SignOutRunsHooks(t *testing.T) {
	m, _ := newTestManager(t, NewMemoryLookupCache(time.Minute, nil))
	var dropped []string
	m.OnSignOut(func(userID string) { dropped = append(dropped, userID) })

	m.Handle(auth.Event{Kind: auth.EventPlanChanged, UserID: alice.ID})
	assert.Empty(t, dropped)

	m.Handle(auth.Event{Kind: auth.EventSignedOut, UserID: alice.ID})
	assert.Equal(t, []string{alice.ID}, dropped)
}

func TestFromContext(t *testing.T) {
	assert.Same(t, Anonymous, FromContext(context.Background()))

	state := &State{User: alice}
	ctx := WithState(context.Background(), state)
	assert.Same(t, state, FromContext(ctx))
}

func newRedisCache(t *testing.T) (*RedisLookupCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLookupCache(client, 0, nil), mr
}

func TestRedisLookupCache_KeysAndTTL(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetAdmin(ctx, "u1", true))
	require.NoError(t, c.SetPlan(ctx, "u1", &store.Assignment{UserID: "u1", Plan: access.PlanPro}))

	assert.True(t, mr.Exists("quill:auth:admin:u1"))
	assert.True(t, mr.Exists("quill:auth:plan:u1"))
	assert.Equal(t, DefaultLookupTTL, mr.TTL("quill:auth:admin:u1"))

	isAdmin, found, err := c.GetAdmin(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, isAdmin)

	plan, found, err := c.GetPlan(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, access.PlanPro, plan.Plan)

	mr.FastForward(DefaultLookupTTL + time.Second)
	_, found, err = c.GetAdmin(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisLookupCache_NilPlan(t *testing.T) {
	c, _ := newRedisCache(t)
	ctx := context.Background()

	require.NoError(t, c.SetPlan(ctx, "u1", nil))

	plan, found, err := c.GetPlan(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Nil(t, plan)
}

func TestRedisLookupCache_CorruptEntryIsAMiss(t *testing.T) {
	c, mr := newRedisCache(t)
	require.NoError(t, mr.Set("quill:auth:plan:u1", "{not json"))

	_, found, err := c.GetPlan(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, mr.Exists("quill:auth:plan:u1"))
}

func TestRedisLookupCache_Invalidate(t *testing.T) {
	c, mr := newRedisCache(t)
	ctx := context.Background()
	require.NoError(t, c.SetAdmin(ctx, "u1", false))
	require.NoError(t, c.SetPlan(ctx, "u1", nil))

	require.NoError(t, c.Invalidate(ctx, "u1"))

	assert.False(t, mr.Exists("quill:auth:admin:u1"))
	assert.False(t, mr.Exists("quill:auth:plan:u1"))
}

func TestManager_RedisUnavailableFallsThroughToLookups(t *testing.T) {
	c, mr := newRedisCache(t)
	m, lookups := newTestManager(t, c)
	lookups.setAdmin(alice.ID, true)
	mr.Close()

	state, err := m.Load(context.Background(), "tok-alice")
	require.NoError(t, err)
	assert.True(t, state.IsAdmin)
	assert.NoError(t, state.LookupErr)
}

func TestManager_AdminToggleWithRedis(t *testing.T) {
	c, _ := newRedisCache(t)
	m, lookups := newTestManager(t, c)
	ctx := context.Background()

	isAdmin, err := m.IsAdmin(ctx, alice.ID)
	require.NoError(t, err)
	require.False(t, isAdmin)

	lookups.setAdmin(alice.ID, true)
	m.Handle(auth.Event{Kind: auth.EventRoleChanged, UserID: alice.ID})

	isAdmin, err = m.IsAdmin(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, isAdmin)
}
