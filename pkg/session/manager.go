// Package session resolves a request's token into an immutable State
// holding the signed-in user, their admin flag and plan assignment.
//
// Role and plan lookups are issued concurrently and cached per user for
// five minutes, in Redis when it is configured and in process otherwise.
// Any lookup failure fails closed: the viewer is treated as a non-admin
// with no plan.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/auth"
	"github.com/platinummonkey/quill/pkg/contextkeys"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/store"
)

// Authenticator verifies session tokens
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*store.User, *store.Session, error)
}

// Lookups reads role and plan rows
type Lookups interface {
	IsAdmin(ctx context.Context, userID string) (bool, error)
	GetUserPlan(ctx context.Context, userID string) (*store.Assignment, error)
}

// State is the resolved auth state of one request
type State struct {
	User    *store.User
	Session *store.Session
	IsAdmin bool
	Plan    *store.Assignment

	// LookupErr is set when role or plan could not be determined
	LookupErr error
}

// Anonymous is the state of a request without a valid session
var Anonymous = &State{}

// Authenticated reports whether the request carries a valid session
func (s *State) Authenticated() bool {
	return s != nil && s.User != nil
}

// UserID returns the signed-in user's id, or "" when anonymous
func (s *State) UserID() string {
	if !s.Authenticated() {
		return ""
	}
	return s.User.ID
}

// Viewer projects the state onto the access policy's input
func (s *State) Viewer() access.Viewer {
	if !s.Authenticated() {
		return access.Anonymous
	}
	var plan *access.Plan
	if s.Plan != nil {
		plan = access.PlanPtr(s.Plan.Plan)
	}
	return access.FromLookup(s.User.ID, s.IsAdmin, plan, s.LookupErr)
}

// WithState stores state in ctx
func WithState(ctx context.Context, state *State) context.Context {
	ctx = contextkeys.WithSession(ctx, state)
	if state.Authenticated() {
		ctx = contextkeys.WithUserID(ctx, state.User.ID)
	}
	return ctx
}

// FromContext returns the request's state, or Anonymous
func FromContext(ctx context.Context) *State {
	if s, ok := ctx.Value(contextkeys.SessionKey).(*State); ok && s != nil {
		return s
	}
	return Anonymous
}

// Manager loads session state and keeps cached lookups fresh
type Manager struct {
	auth    Authenticator
	lookups Lookups
	cache   LookupCache
	logger  *observability.Logger

	mu        sync.RWMutex
	onSignOut []func(userID string)
}

// NewManager creates a session manager. logger may be nil.
func NewManager(authn Authenticator, lookups Lookups, cache LookupCache, logger *observability.Logger) *Manager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Manager{auth: authn, lookups: lookups, cache: cache, logger: logger}
}

// OnSignOut registers fn to run when a user signs out, typically to drop
// per-viewer data caches
func (m *Manager) OnSignOut(fn func(userID string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSignOut = append(m.onSignOut, fn)
}

// Subscribe attaches the manager to bus and returns the unsubscribe func
func (m *Manager) Subscribe(bus *auth.Bus) func() {
	return bus.Subscribe(m.Handle)
}

// Load authenticates token and resolves role and plan. An empty token
// yields Anonymous. An invalid token yields Anonymous and the
// authentication error.
func (m *Manager) Load(ctx context.Context, token string) (*State, error) {
	if token == "" {
		return Anonymous, nil
	}

	user, sess, err := m.auth.Authenticate(ctx, token)
	if err != nil {
		return Anonymous, err
	}

	isAdmin, plan, err := m.Lookup(ctx, user.ID)
	if err != nil {
		m.logger.WithError(err).WithField("user_id", user.ID).Warn("role/plan lookup failed, treating viewer as FREE non-admin")
		return &State{User: user, Session: sess, LookupErr: err}, nil
	}
	return &State{User: user, Session: sess, IsAdmin: isAdmin, Plan: plan}, nil
}

// Lookup fetches the admin flag and plan concurrently, through the cache
func (m *Manager) Lookup(ctx context.Context, userID string) (bool, *store.Assignment, error) {
	var isAdmin bool
	var plan *store.Assignment

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := m.lookupAdmin(gctx, userID)
		isAdmin = v
		return err
	})
	g.Go(func() error {
		v, err := m.lookupPlan(gctx, userID)
		plan = v
		return err
	})
	if err := g.Wait(); err != nil {
		return false, nil, err
	}
	return isAdmin, plan, nil
}

// IsAdmin returns the cached admin flag for userID
func (m *Manager) IsAdmin(ctx context.Context, userID string) (bool, error) {
	return m.lookupAdmin(ctx, userID)
}

func (m *Manager) lookupAdmin(ctx context.Context, userID string) (bool, error) {
	if v, ok, err := m.cache.GetAdmin(ctx, userID); err != nil {
		m.logger.WithError(err).Debug("lookup cache read failed")
	} else if ok {
		return v, nil
	}

	v, err := m.lookups.IsAdmin(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to look up role: %w", err)
	}
	if err := m.cache.SetAdmin(ctx, userID, v); err != nil {
		m.logger.WithError(err).Debug("lookup cache write failed")
	}
	return v, nil
}

func (m *Manager) lookupPlan(ctx context.Context, userID string) (*store.Assignment, error) {
	if v, ok, err := m.cache.GetPlan(ctx, userID); err != nil {
		m.logger.WithError(err).Debug("lookup cache read failed")
	} else if ok {
		return v, nil
	}

	v, err := m.lookups.GetUserPlan(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		v, err = nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up plan: %w", err)
	}
	if err := m.cache.SetPlan(ctx, userID, v); err != nil {
		m.logger.WithError(err).Debug("lookup cache write failed")
	}
	return v, nil
}

// Handle refreshes cached state for the event's user. Every auth-state
// change drops the cached lookups; sign-out also drops data caches.
func (m *Manager) Handle(ev auth.Event) {
	if ev.UserID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.cache.Invalidate(ctx, ev.UserID); err != nil {
		m.logger.WithError(err).WithField("user_id", ev.UserID).Warn("failed to invalidate lookups")
	}

	if ev.Kind != auth.EventSignedOut {
		return
	}
	m.mu.RLock()
	hooks := append([]func(string){}, m.onSignOut...)
	m.mu.RUnlock()
	for _, fn := range hooks {
		fn(ev.UserID)
	}
}
