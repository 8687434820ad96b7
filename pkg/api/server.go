package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/articles"
	"github.com/platinummonkey/quill/pkg/auth"
	"github.com/platinummonkey/quill/pkg/config"
	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/media"
	"github.com/platinummonkey/quill/pkg/middleware"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/profiles"
	"github.com/platinummonkey/quill/pkg/result"
	"github.com/platinummonkey/quill/pkg/store"
)

// MaxRequestBytes bounds request bodies. Uploads get media.MaxUploadSize
// plus room for the multipart envelope.
const MaxRequestBytes = media.MaxUploadSize + 1<<20

// AuthService registers accounts and manages sessions
type AuthService interface {
	Register(ctx context.Context, in auth.RegisterInput) (*store.User, error)
	SignIn(ctx context.Context, email, password string) (*auth.SignedSession, error)
	SignOut(ctx context.Context, token string) error
	IssueSession(ctx context.Context, user *store.User) (*auth.SignedSession, error)
	ProvisionExternal(ctx context.Context, email, method string) (*store.User, error)
}

// OIDCFlow runs the single sign-on code flow
type OIDCFlow interface {
	Begin(redirect string) (authURL, cookie string, err error)
	Complete(ctx context.Context, cookie, stateParam, code string) (*auth.ExternalIdentity, string, error)
}

// ArticleService reads and writes articles on behalf of a viewer
type ArticleService interface {
	FetchOne(ctx context.Context, v access.Viewer, id string) result.Result[*store.Article]
	FetchList(ctx context.Context, v access.Viewer) result.Result[[]store.Article]
	FetchMine(ctx context.Context, v access.Viewer) result.Result[[]store.Article]
	FetchPublic(ctx context.Context) result.Result[[]store.Article]
	Create(ctx context.Context, v access.Viewer, in articles.Input) result.Result[*store.Article]
	Update(ctx context.Context, v access.Viewer, id string, in articles.Input) result.Result[*store.Article]
	Delete(ctx context.Context, v access.Viewer, id string) result.Result[struct{}]
	EditPolicy() access.EditPolicy
}

// ProfileService reads and writes profiles
type ProfileService interface {
	Get(ctx context.Context, userID string) result.Result[*store.Profile]
	Save(ctx context.Context, v access.Viewer, in profiles.Input) result.Result[*store.Profile]
	UpdateAvatar(ctx context.Context, v access.Viewer, filename, contentType string, body io.Reader) result.Result[string]
	DeleteAvatar(ctx context.Context, v access.Viewer) result.Result[struct{}]
}

// MembershipService manages plans and roles
type MembershipService interface {
	ListPlans(ctx context.Context) ([]store.PlanRow, error)
	ListUsers(ctx context.Context, actor access.Viewer) ([]store.AdminUserRow, error)
	SetRole(ctx context.Context, actor access.Viewer, userID string, isAdmin bool) error
	ChangePlan(ctx context.Context, actor access.Viewer, userID string, plan access.Plan, endDate *time.Time) error
}

// ImageService stores article images
type ImageService interface {
	Upload(ctx context.Context, bucket media.Bucket, userID, filename, contentType string, body io.Reader) (string, error)
	IsValidImageURL(ctx context.Context, url string) bool
}

// Deps are the collaborators the server routes to. OIDC, Images,
// LoginLimiter, Health and Metrics may be nil.
type Deps struct {
	Auth       AuthService
	OIDC       OIDCFlow
	Sessions   middleware.SessionLoader
	Articles   ArticleService
	Profiles   ProfileService
	Membership MembershipService
	Images     ImageService

	LoginLimiter *middleware.LoginLimiter
	Health       *observability.HealthChecker
	Metrics      http.Handler

	SecureCookies bool
	Logger        *observability.Logger
}

// Server represents the quill HTTP server
type Server struct {
	deps    Deps
	router  *mux.Router
	pages   *mux.Router
	metrics *observability.Metrics
	logger  *observability.Logger
	handler http.Handler
}

// NewServer creates the server and registers every route
func NewServer(deps Deps, httpMetrics *observability.Metrics) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &Server{
		deps:    deps,
		router:  mux.NewRouter(),
		pages:   mux.NewRouter(),
		metrics: httpMetrics,
		logger:  logger,
	}
	s.setupRoutes()

	sessions := middleware.NewSessionMiddleware(deps.Sessions, deps.SecureCookies, logger)
	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(logger),
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(MaxRequestBytes),
		sessions.Handler,
	)(s.router)
	return s
}

// setupRoutes configures all routes. Page routes are registered last so
// the catch-all prefix does not shadow the API.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.health).Methods("GET")
	s.router.HandleFunc("/health/live", s.liveness).Methods("GET")
	s.router.HandleFunc("/health/ready", s.readiness).Methods("GET")
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics).Methods("GET")
	}
	s.router.HandleFunc("/debug/env", debugEnv).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(observability.HTTPMetricsMiddleware(s.metrics))
	s.registerAuthRoutes(api)
	s.registerArticleRoutes(api)
	s.registerProfileRoutes(api)
	s.registerImageRoutes(api)
	s.registerMembershipRoutes(api)
	if s.deps.OIDC != nil {
		s.router.HandleFunc("/auth/oidc/login", s.oidcLogin).Methods("GET")
		s.router.HandleFunc("/auth/oidc/callback", s.oidcCallback).Methods("GET")
	}

	s.pages.Use(observability.HTTPMetricsMiddleware(s.metrics))
	s.registerPageRoutes(s.pages)
	s.router.PathPrefix("/").Handler(middleware.Guard(s.logger)(s.pages))
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers additional API routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router.PathPrefix("/api").Subrouter())
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		httputil.WriteSuccess(w, map[string]string{"status": "ok"})
		return
	}
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if status.Status == observability.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, status)
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		httputil.WriteSuccess(w, map[string]string{"status": "ok"})
		return
	}
	s.deps.Health.Liveness(w, r)
}

func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		httputil.WriteSuccess(w, map[string]string{"status": "ok"})
		return
	}
	s.deps.Health.Readiness(w, r)
}

// debugEnv reports which known variables are set, never their values
func debugEnv(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, map[string]interface{}{
		"env":     config.EnvReport(),
		"missing": config.MissingVars(),
	})
}
