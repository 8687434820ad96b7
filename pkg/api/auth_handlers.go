package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/auth"
	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/middleware"
	"github.com/platinummonkey/quill/pkg/session"
	"github.com/platinummonkey/quill/pkg/store"
)

// SessionView describes the caller's session
type SessionView struct {
	Authenticated bool              `json:"authenticated"`
	User          *store.User       `json:"user,omitempty"`
	IsAdmin       bool              `json:"is_admin"`
	Plan          *store.Assignment `json:"plan,omitempty"`
	EffectivePlan access.Plan       `json:"effective_plan"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
}

func sessionView(state *session.State) SessionView {
	v := state.Viewer()
	view := SessionView{
		Authenticated: state.Authenticated(),
		User:          state.User,
		IsAdmin:       v.IsAdmin,
		EffectivePlan: v.EffectivePlan(),
	}
	if state.LookupErr == nil {
		view.Plan = state.Plan
	}
	if state.Session != nil {
		exp := state.Session.ExpiresAt
		view.ExpiresAt = &exp
	}
	return view
}

// SignedInResponse is returned by register, login and SSO. The token is
// also set as the session cookie.
type SignedInResponse struct {
	User      *store.User `json:"user"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) registerAuthRoutes(r *mux.Router) {
	r.HandleFunc("/auth/register", s.register).Methods("POST")

	var login http.Handler = http.HandlerFunc(s.login)
	if s.deps.LoginLimiter != nil {
		login = s.deps.LoginLimiter.Handler(login)
	}
	r.Handle("/auth/login", login).Methods("POST")

	r.Handle("/auth/logout", middleware.RequireSession(http.HandlerFunc(s.logout))).Methods("POST")
	r.HandleFunc("/auth/session", s.currentSession).Methods("GET")
}

// register handles POST /api/auth/register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := s.deps.Auth.Register(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	signed, err := s.deps.Auth.IssueSession(r.Context(), user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.startSession(w, signed)
	httputil.WriteCreated(w, SignedInResponse{User: signed.User, Token: signed.Token, ExpiresAt: signed.ExpiresAt})
}

// login handles POST /api/auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		httputil.WriteValidationError(w, "email", "email is required")
		return
	}
	if req.Password == "" {
		httputil.WriteValidationError(w, "password", "password is required")
		return
	}
	if s.deps.LoginLimiter != nil {
		if allowed, retryAfter := s.deps.LoginLimiter.AllowAccount(r.Context(), req.Email); !allowed {
			s.deps.LoginLimiter.WriteLimited(w, retryAfter)
			return
		}
	}

	signed, err := s.deps.Auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.startSession(w, signed)
	httputil.WriteSuccess(w, SignedInResponse{User: signed.User, Token: signed.Token, ExpiresAt: signed.ExpiresAt})
}

// logout handles POST /api/auth/logout
func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.TokenFromRequest(r)
	if err := s.deps.Auth.SignOut(r.Context(), token); err != nil {
		writeError(w, s.logger, err)
		return
	}
	middleware.ClearSessionCookie(w, s.deps.SecureCookies)
	httputil.WriteNoContent(w)
}

// currentSession handles GET /api/auth/session
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, sessionView(session.FromContext(r.Context())))
}

func (s *Server) startSession(w http.ResponseWriter, signed *auth.SignedSession) {
	middleware.SetSessionCookie(w, signed.Token, signed.ExpiresAt, s.deps.SecureCookies)
}

// oidcLogin handles GET /auth/oidc/login
func (s *Server) oidcLogin(w http.ResponseWriter, r *http.Request) {
	redirect := safeRedirect(r.URL.Query().Get("redirect"))
	authURL, cookie, err := s.deps.OIDC.Begin(redirect)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookieName,
		Value:    cookie,
		Path:     "/auth/oidc",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   s.deps.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, authURL, http.StatusFound)
}

// oidcCallback handles GET /auth/oidc/callback
func (s *Server) oidcCallback(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookieName,
		Path:     "/auth/oidc",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.deps.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	var stateCookie string
	if c, err := r.Cookie(auth.StateCookieName); err == nil {
		stateCookie = c.Value
	}
	q := r.URL.Query()
	identity, redirect, err := s.deps.OIDC.Complete(r.Context(), stateCookie, q.Get("state"), q.Get("code"))
	if err != nil {
		s.logger.WithError(err).Warn("single sign-on failed")
		http.Redirect(w, r, middleware.LoginPath+"?error=sso_failed", http.StatusFound)
		return
	}

	user, err := s.deps.Auth.ProvisionExternal(r.Context(), identity.Email, "oidc")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	signed, err := s.deps.Auth.IssueSession(r.Context(), user)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.startSession(w, signed)
	http.Redirect(w, r, safeRedirect(redirect), http.StatusFound)
}

// safeRedirect keeps post-login redirects on this site
func safeRedirect(target string) string {
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.HasPrefix(target, "/\\") {
		return middleware.HomePath
	}
	return target
}
