package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/quill/pkg/async"
	"github.com/platinummonkey/quill/pkg/audit"
	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("this email address is already registered")
	ErrInvalidToken       = errors.New("invalid or expired session")
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 6

// Store is the persistence the auth service needs
type Store interface {
	ProvisionUser(ctx context.Context, email, passwordHash string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
	InsertSession(ctx context.Context, sess *store.Session) error
	GetSession(ctx context.Context, id string) (*store.Session, error)
	RevokeSession(ctx context.Context, id string, at time.Time) error
}

// Config configures the auth service
type Config struct {
	Secret     string
	SessionTTL time.Duration
	BcryptCost int
}

// SignedSession is the result of a successful sign-in
type SignedSession struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *store.User    `json:"user"`
	Session   *store.Session `json:"-"`
}

// Service registers accounts and issues session tokens
type Service struct {
	store   Store
	tokens  tokenIssuer
	cost    int
	bus     *Bus
	audit   audit.Logger
	tasks   *async.Tasks
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewService creates an auth service. bus, auditLogger, tasks, metrics and
// logger may be nil.
func NewService(st Store, cfg Config, bus *Bus, auditLogger audit.Logger, tasks *async.Tasks, metrics *observability.Metrics, logger *observability.Logger) *Service {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
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
		tokens:  tokenIssuer{secret: []byte(cfg.Secret), ttl: cfg.SessionTTL},
		cost:    cfg.BcryptCost,
		bus:     bus,
		audit:   auditLogger,
		tasks:   tasks,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// Bus returns the bus auth events are published on
func (s *Service) Bus() *Bus {
	return s.bus
}

// RegisterInput is the registration form
type RegisterInput struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// Validate checks the form in the order users see the errors: email
// format, then matching passwords, then password length.
func (in RegisterInput) Validate() error {
	if err := httputil.Validator().Var(in.Email, "required,email"); err != nil {
		return &httputil.FieldError{Field: "email", Message: "enter a valid email address"}
	}
	if in.Password != in.ConfirmPassword {
		return &httputil.FieldError{Field: "confirm_password", Message: "passwords do not match"}
	}
	if len([]rune(in.Password)) < MinPasswordLength {
		return &httputil.FieldError{
			Field:   "password",
			Message: fmt.Sprintf("password must be at least %d characters", MinPasswordLength),
		}
	}
	return nil
}

// Register validates the form and provisions a new account. A duplicate
// email yields ErrEmailTaken.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, error) {
	in.Email = normalizeEmail(in.Email)
	if err := in.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.store.ProvisionUser(ctx, in.Email, string(hash))
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}

	s.metrics.RecordRegistration("password")
	s.record(ctx, audit.EventTypeAuthRegister, audit.EventStatusSuccess, user.ID, "account registered")
	return user, nil
}

// SignIn checks credentials and issues a session token
func (s *Service) SignIn(ctx context.Context, email, password string) (*SignedSession, error) {
	email = normalizeEmail(email)

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.loginFailed(ctx, "", email)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	// OIDC-provisioned accounts have no password and cannot sign in here.
	if user.PasswordHash == "" ||
		bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		s.loginFailed(ctx, user.ID, email)
		return nil, ErrInvalidCredentials
	}

	return s.IssueSession(ctx, user)
}

// IssueSession signs a token for an already authenticated user
func (s *Service) IssueSession(ctx context.Context, user *store.User) (*SignedSession, error) {
	now := s.now()
	token, claims, err := s.tokens.issue(user.ID, user.Email, now)
	if err != nil {
		return nil, err
	}

	sess := &store.Session{
		ID:        claims.ID,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if err := s.store.InsertSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordLogin("success")
	s.record(ctx, audit.EventTypeAuthLogin, audit.EventStatusSuccess, user.ID, "signed in")
	s.bus.Publish(Event{Kind: EventSignedIn, UserID: user.ID, SessionID: sess.ID, At: now})

	return &SignedSession{Token: token, ExpiresAt: sess.ExpiresAt, User: user, Session: sess}, nil
}

// SignOut revokes the session behind token. Expired tokens are still revoked.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.tokens.parse(token, true, s.now())
	if err != nil {
		return err
	}

	now := s.now()
	if err := s.store.RevokeSession(ctx, claims.ID, now); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}

	s.record(ctx, audit.EventTypeAuthLogout, audit.EventStatusSuccess, claims.Subject, "signed out")
	s.bus.Publish(Event{Kind: EventSignedOut, UserID: claims.Subject, SessionID: claims.ID, At: now})
	return nil
}

// Authenticate verifies token and its server-side session, returning the
// signed-in user
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, *store.Session, error) {
	claims, err := s.tokens.parse(token, false, s.now())
	if err != nil {
		return nil, nil, err
	}

	sess, err := s.store.GetSession(ctx, claims.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidToken
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load session: %w", err)
	}
	if sess.UserID != claims.Subject || !sess.Active(s.now()) {
		return nil, nil, ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, sess.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrInvalidToken
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, sess, nil
}

// ProvisionExternal returns the account for an externally verified email,
// creating a passwordless one on first sign-in
func (s *Service) ProvisionExternal(ctx context.Context, email, method string) (*store.User, error) {
	email = normalizeEmail(email)

	user, err := s.store.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	user, err = s.store.ProvisionUser(ctx, email, "")
	if errors.Is(err, store.ErrConflict) {
		// Lost a race with a concurrent first sign-in.
		return s.store.GetUserByEmail(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to provision account: %w", err)
	}

	s.metrics.RecordRegistration(method)
	s.record(ctx, audit.EventTypeAuthRegister, audit.EventStatusSuccess, user.ID, "account provisioned via "+method)
	return user, nil
}

func (s *Service) loginFailed(ctx context.Context, userID, email string) {
	s.metrics.RecordLogin("failure")
	ev := audit.NewEvent(ctx, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure)
	ev.TargetID = userID
	ev.ResourceType = audit.ResourceTypeUser
	ev.Message = "invalid credentials"
	ev.Metadata = map[string]interface{}{"email": email}
	s.write(ctx, ev)
}

func (s *Service) record(ctx context.Context, eventType audit.EventType, status audit.EventStatus, userID, message string) {
	ev := audit.NewEvent(ctx, eventType, status)
	ev.ActorID = userID
	ev.TargetID = userID
	ev.ResourceType = audit.ResourceTypeUser
	ev.ResourceID = userID
	ev.Message = message
	s.write(ctx, ev)
}

func (s *Service) write(ctx context.Context, ev *audit.AuditEvent) {
	s.tasks.SafeGo(ctx, 5*time.Second, "audit."+string(ev.EventType), func(ctx context.Context) error {
		return s.audit.Log(ctx, ev)
	})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
