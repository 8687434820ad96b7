package middleware

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/platinummonkey/quill/pkg/contextkeys"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/session"
)

// Paths the guard redirects to
const (
	HomePath     = "/"
	LoginPath    = "/login"
	RegisterPath = "/register"
	NewArticle   = "/articles/new"
	AdminPrefix  = "/admin"
	ProfilePath  = "/profile"
	legacyNewAlt = "/articles/_new"
)

var (
	legacyNewPattern = regexp.MustCompile(`^/articles/(_new|new)(/|$)`)
	editPattern      = regexp.MustCompile(`^/articles/[^/]+/edit$`)
)

// Outcome is the terminal action of the guard
type Outcome int

const (
	Allow Outcome = iota
	Redirect
)

// Decision is the guard's verdict for one path. Path is the path to serve
// after alias rewriting; Location is set for redirects.
type Decision struct {
	Outcome  Outcome
	Path     string
	Location string
}

// Rewrite maps legacy aliases onto their canonical path. Both the exact
// alias and any alias followed by a sub-path are handled.
func Rewrite(path string) string {
	if path == legacyNewAlt {
		return NewArticle
	}
	if m := legacyNewPattern.FindStringSubmatch(path); m != nil && m[1] == "_new" {
		return NewArticle + strings.TrimPrefix(path, legacyNewAlt)
	}
	return path
}

// RequiresAuth reports whether path is only available to signed-in users
func RequiresAuth(path string) bool {
	return path == NewArticle || path == ProfilePath || editPattern.MatchString(path)
}

// RequiresAdmin reports whether path is under the admin area
func RequiresAdmin(path string) bool {
	return strings.HasPrefix(path, AdminPrefix)
}

// LoginRedirect builds the login URL returning to path
func LoginRedirect(path string) string {
	return LoginPath + "?redirect=" + url.QueryEscape(path)
}

// Decide evaluates the route rules for path. isAdmin is only called for
// admin paths with a session; it should return false when the role is
// unknown.
func Decide(path string, hasSession bool, isAdmin func() bool) Decision {
	path = Rewrite(path)

	if RequiresAuth(path) && !hasSession {
		return Decision{Outcome: Redirect, Path: path, Location: LoginRedirect(path)}
	}

	if RequiresAdmin(path) {
		if !hasSession {
			return Decision{Outcome: Redirect, Path: path, Location: LoginRedirect(path)}
		}
		if !isAdmin() {
			return Decision{Outcome: Redirect, Path: path, Location: HomePath}
		}
	}

	if hasSession && (path == LoginPath || path == RegisterPath) {
		return Decision{Outcome: Redirect, Path: path, Location: HomePath}
	}

	return Decision{Outcome: Allow, Path: path}
}

// Guard enforces Decide on page routes. It must run after the session
// middleware. Rewritten requests keep their original path in the context.
func Guard(logger *observability.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := session.FromContext(r.Context())
			d := Decide(r.URL.Path, state.Authenticated(), func() bool {
				return state.Viewer().IsAdmin
			})

			if d.Outcome == Redirect {
				logger.WithFields(map[string]interface{}{
					"path":     r.URL.Path,
					"location": d.Location,
				}).Debug("guard redirect")
				http.Redirect(w, r, d.Location, http.StatusFound)
				return
			}

			if d.Path != r.URL.Path {
				u := *r.URL
				u.Path, u.RawPath = d.Path, ""
				r = r.WithContext(contextkeys.WithOriginalPath(r.Context(), r.URL.Path))
				r.URL = &u
			}
			next.ServeHTTP(w, r)
		})
	}
}
