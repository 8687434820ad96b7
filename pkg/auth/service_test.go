package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/quill/pkg/async"
	"github.com/platinummonkey/quill/pkg/audit"
	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*store.User // by email
	sessions map[string]*store.Session
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]*store.User{}, sessions: map[string]*store.Session{}}
}

func (f *fakeStore) ProvisionUser(ctx context.Context, email, hash string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	if _, ok := f.users[email]; ok {
		return nil, store.ErrConflict
	}
	u := &store.User{ID: uuid.NewString(), Email: email, PasswordHash: hash, CreatedAt: time.Now()}
	f.users[email] = u
	return u, nil
}

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[email]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) InsertSession(ctx context.Context, sess *store.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *sess
	f.sessions[sess.ID] = &cp
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeStore) RevokeSession(ctx context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok && s.RevokedAt == nil {
		s.RevokedAt = &at
	}
	return nil
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

func (r *recordingAudit) types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.EventType)
	}
	return out
}

type fixture struct {
	svc    *Service
	store  *fakeStore
	audit  *recordingAudit
	tasks  *async.Tasks
	events []Event
	mu     sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newFakeStore(), audit: &recordingAudit{}, tasks: async.NewTasks(nil)}
	bus := NewBus()
	bus.Subscribe(func(ev Event) {
		f.mu.Lock()
		f.events = append(f.events, ev)
		f.mu.Unlock()
	})
	f.svc = NewService(f.store, Config{Secret: testSecret, SessionTTL: time.Hour, BcryptCost: bcrypt.MinCost},
		bus, f.audit, f.tasks, nil, nil)
	return f
}

func (f *fixture) register(t *testing.T, email, password string) *store.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterInput{Email: email, Password: password, ConfirmPassword: password})
	require.NoError(t, err)
	return u
}

func TestRegister_ValidationOrder(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"bad email", RegisterInput{Email: "nope", Password: "x", ConfirmPassword: "y"}, "email"},
		{"mismatch checked before length", RegisterInput{Email: "a@example.com", Password: "abc", ConfirmPassword: "abd"}, "confirm_password"},
		{"short password", RegisterInput{Email: "a@example.com", Password: "abc", ConfirmPassword: "abc"}, "password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.in)
			var fe *httputil.FieldError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, tt.field, fe.Field)
		})
	}
	assert.Empty(t, f.store.users, "invalid input never reaches the store")
}

func TestRegister_NormalizesEmailAndHashes(t *testing.T) {
	f := newFixture(t)

	u := f.register(t, "  Alice@Example.COM ", "secret1")

	assert.Equal(t, "alice@example.com", u.Email)
	assert.NotEqual(t, "secret1", u.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret1")))

	require.NoError(t, f.tasks.Wait(context.Background()))
	assert.Contains(t, f.audit.types(), audit.EventTypeAuthRegister)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "secret1")

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "ALICE@example.com", Password: "secret2", ConfirmPassword: "secret2",
	})
	assert.ErrorIs(t, err, ErrEmailTaken)
}

func TestRegister_StoreFailureIsWrapped(t *testing.T) {
	f := newFixture(t)
	f.store.failNext = errors.New("connection reset")

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "a@example.com", Password: "secret1", ConfirmPassword: "secret1",
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEmailTaken)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "secret1")

	_, err := f.svc.SignIn(context.Background(), "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.SignIn(context.Background(), "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, f.tasks.Wait(context.Background()))
	assert.Contains(t, f.audit.types(), audit.EventTypeAuthLoginFailed)
}

func TestSignIn_PasswordlessAccountCannotUsePassword(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ProvisionExternal(context.Background(), "sso@example.com", "oidc")
	require.NoError(t, err)

	_, err = f.svc.SignIn(context.Background(), "sso@example.com", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice@example.com", "secret1")

	signed, err := f.svc.SignIn(ctx, "Alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(signed.Token, ".")+1, "token is a JWT")
	assert.Equal(t, u.ID, signed.User.ID)

	user, sess, err := f.svc.Authenticate(ctx, signed.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, user.ID)
	assert.Equal(t, signed.Session.ID, sess.ID)

	require.NoError(t, f.svc.SignOut(ctx, signed.Token))

	_, _, err = f.svc.Authenticate(ctx, signed.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.events, 2)
	assert.Equal(t, EventSignedIn, f.events[0].Kind)
	assert.Equal(t, EventSignedOut, f.events[1].Kind)
	assert.Equal(t, u.ID, f.events[1].UserID)
}

func TestAuthenticate_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "secret1")

	signed, err := f.svc.SignIn(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	f.svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, _, err = f.svc.Authenticate(ctx, signed.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// an expired token can still be revoked
	require.NoError(t, f.svc.SignOut(ctx, signed.Token))
	sess, err := f.store.GetSession(ctx, signed.Session.ID)
	require.NoError(t, err)
	assert.NotNil(t, sess.RevokedAt)
}

func TestAuthenticate_RejectsForeignTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "alice@example.com", "secret1")
	signed, err := f.svc.SignIn(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)

	other := NewService(f.store, Config{Secret: strings.Repeat("z", 32), BcryptCost: bcrypt.MinCost}, nil, nil, nil, nil, nil)
	_, _, err = other.Authenticate(ctx, signed.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, _, err = f.svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAuthenticate_UnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice@example.com", "secret1")

	token, _, err := f.svc.tokens.issue(u.ID, u.Email, time.Now())
	require.NoError(t, err)

	_, _, err = f.svc.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestProvisionExternal_ReusesExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice@example.com", "secret1")

	got, err := f.svc.ProvisionExternal(ctx, "ALICE@example.com", "oidc")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	created, err := f.svc.ProvisionExternal(ctx, "bob@example.com", "oidc")
	require.NoError(t, err)
	assert.Empty(t, created.PasswordHash)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	var calls int
	unsubscribe := bus.Subscribe(func(Event) { calls++ })

	bus.Publish(Event{Kind: EventRoleChanged, UserID: "u1"})
	unsubscribe()
	bus.Publish(Event{Kind: EventRoleChanged, UserID: "u1"})

	assert.Equal(t, 1, calls)

	var nilBus *Bus
	assert.NotPanics(t, func() { nilBus.Publish(Event{Kind: EventSignedOut}) })
}
