package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/session"
)

// SessionCookieName carries the session token
const SessionCookieName = "quill_session"

// SessionLoader resolves a token into session state
type SessionLoader interface {
	Load(ctx context.Context, token string) (*session.State, error)
}

// TokenFromRequest returns the session token from the cookie, or from a
// Bearer Authorization header when there is no cookie
func TokenFromRequest(r *http.Request) (token string, fromCookie bool) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	header := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(header, " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(value), false
	}
	return "", false
}

// SetSessionCookie stores token in an HttpOnly, SameSite=Lax cookie
func SetSessionCookie(w http.ResponseWriter, token string, expires time.Time, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionMiddleware attaches the request's session state to its context
type SessionMiddleware struct {
	loader SessionLoader
	secure bool
	logger *observability.Logger
}

// NewSessionMiddleware creates the session middleware
func NewSessionMiddleware(loader SessionLoader, secureCookies bool, logger *observability.Logger) *SessionMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SessionMiddleware{loader: loader, secure: secureCookies, logger: logger}
}

// Handler resolves the session. Invalid tokens are treated as anonymous
// and a stale cookie is cleared.
func (m *SessionMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, fromCookie := TokenFromRequest(r)

		state, err := m.loader.Load(r.Context(), token)
		if err != nil {
			m.logger.WithError(err).Debug("ignoring invalid session token")
			if fromCookie {
				ClearSessionCookie(w, m.secure)
			}
			state = session.Anonymous
		}

		next.ServeHTTP(w, r.WithContext(session.WithState(r.Context(), state)))
	})
}

// RequireSession rejects anonymous requests with 401
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !session.FromContext(r.Context()).Authenticated() {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects anonymous requests with 401 and non-admins with 403.
// A failed role lookup counts as non-admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		state := session.FromContext(r.Context())
		if !state.Authenticated() {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !state.Viewer().IsAdmin {
			httputil.WriteDenied(w, "administrator access required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
