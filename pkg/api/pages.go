package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/auth"
	"github.com/platinummonkey/quill/pkg/contextkeys"
	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/result"
	"github.com/platinummonkey/quill/pkg/session"
	"github.com/platinummonkey/quill/pkg/store"
)

// ListPage is the view-model for / and /articles
type ListPage struct {
	Session        SessionView      `json:"session"`
	Status         result.Status    `json:"status"`
	Articles       []ArticleSummary `json:"articles"`
	CanCreate      bool             `json:"can_create"`
	CreateGuidance string           `json:"create_guidance,omitempty"`
}

// DetailPage is the view-model for /articles/{id}
type DetailPage struct {
	Session      SessionView   `json:"session"`
	Status       result.Status `json:"status"`
	Article      *ArticleView  `json:"article,omitempty"`
	Guidance     string        `json:"guidance,omitempty"`
	RequiredPlan *access.Plan  `json:"required_plan,omitempty"`
	Controls     Controls      `json:"controls"`
}

// EditorPage is the view-model for /articles/new and /articles/{id}/edit
type EditorPage struct {
	Session  SessionView          `json:"session"`
	Mode     string               `json:"mode"`
	Status   result.Status        `json:"status"`
	Allowed  bool                 `json:"allowed"`
	Guidance string               `json:"guidance,omitempty"`
	Article  *store.Article       `json:"article,omitempty"`
	Levels   []access.AccessLevel `json:"levels"`
	// RequestedPath is set when the page was reached through a legacy alias
	RequestedPath string `json:"requested_path,omitempty"`
}

// AuthFormPage is the view-model for /login and /register
type AuthFormPage struct {
	Form              string `json:"form"`
	OIDCEnabled       bool   `json:"oidc_enabled"`
	Redirect          string `json:"redirect,omitempty"`
	Error             string `json:"error,omitempty"`
	MinPasswordLength int    `json:"min_password_length,omitempty"`
}

// ProfilePage is the view-model for /profile
type ProfilePage struct {
	Session SessionView      `json:"session"`
	Status  result.Status    `json:"status"`
	Profile *store.Profile   `json:"profile,omitempty"`
	Mine    []ArticleSummary `json:"articles"`
}

// PlansPage is the view-model for /plans
type PlansPage struct {
	Session SessionView     `json:"session"`
	Plans   []store.PlanRow `json:"plans"`
	Current access.Plan     `json:"current"`
}

// AdminPage is the view-model for /admin and /admin/users
type AdminPage struct {
	Session SessionView          `json:"session"`
	Users   []store.AdminUserRow `json:"users,omitempty"`
	Plans   []store.PlanRow      `json:"plans"`
	Admins  int                  `json:"admins"`
	Total   int                  `json:"total"`
}

const (
	modeCreate = "create"
	modeEdit   = "edit"
)

var editableLevels = []access.AccessLevel{
	access.LevelOpen, access.LevelFree, access.LevelBasic, access.LevelPro, access.LevelVIP,
}

func (s *Server) registerPageRoutes(r *mux.Router) {
	r.HandleFunc("/", s.listPage).Methods("GET")
	r.HandleFunc("/articles", s.listPage).Methods("GET")
	r.HandleFunc("/articles/new", s.newArticlePage).Methods("GET")
	r.HandleFunc("/articles/{id}", s.detailPage).Methods("GET")
	r.HandleFunc("/articles/{id}/edit", s.editArticlePage).Methods("GET")
	r.HandleFunc("/login", s.authFormPage("login")).Methods("GET")
	r.HandleFunc("/register", s.authFormPage("register")).Methods("GET")
	r.HandleFunc("/profile", s.profilePage).Methods("GET")
	r.HandleFunc("/plans", s.plansPage).Methods("GET")
	r.HandleFunc("/admin", s.adminPage(false)).Methods("GET")
	r.HandleFunc("/admin/users", s.adminPage(true)).Methods("GET")
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "page not found")
	})
}

// pageStatus is the HTTP status a page view is served with
func pageStatus(status result.Status) int {
	switch status {
	case result.StatusOK:
		return http.StatusOK
	case result.StatusNotFound:
		return http.StatusNotFound
	case result.StatusDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// listPage shows the visible articles. Anonymous visitors see the OPEN
// articles.
func (s *Server) listPage(w http.ResponseWriter, r *http.Request) {
	state := session.FromContext(r.Context())
	v := state.Viewer()

	var res result.Result[[]store.Article]
	if state.Authenticated() {
		res = s.deps.Articles.FetchList(r.Context(), v)
	} else {
		res = s.deps.Articles.FetchPublic(r.Context())
	}

	create := access.CanCreate(v)
	page := ListPage{
		Session:        sessionView(state),
		Status:         res.Status,
		Articles:       summarize(res.Value),
		CanCreate:      create.Allowed,
		CreateGuidance: create.Guidance(),
	}
	if res.Status == result.StatusError {
		observability.LoggerWithTrace(r.Context(), s.logger).WithError(res.Err).Error("failed to list articles")
	}
	httputil.WriteJSON(w, pageStatus(res.Status), page)
}

func (s *Server) detailPage(w http.ResponseWriter, r *http.Request) {
	state := session.FromContext(r.Context())
	v := state.Viewer()
	page := DetailPage{Session: sessionView(state)}

	id, ok := pageArticleID(r)
	if !ok {
		page.Status = result.StatusNotFound
		httputil.WriteJSON(w, http.StatusNotFound, page)
		return
	}

	res := s.deps.Articles.FetchOne(r.Context(), v, id)
	page.Status = res.Status
	switch res.Status {
	case result.StatusOK:
		view := s.articleView(v, res.Value)
		page.Article = &view
		page.Controls = view.Controls
	case result.StatusDenied:
		page.Guidance = res.Guidance()
		page.RequiredPlan = res.Decision.RequiredPlan
	case result.StatusError:
		observability.LoggerWithTrace(r.Context(), s.logger).WithError(res.Err).WithField("article_id", id).Error("failed to fetch article")
		page.Guidance = httputil.RetryableErrorMessage
	}
	httputil.WriteJSON(w, pageStatus(res.Status), page)
}

func (s *Server) newArticlePage(w http.ResponseWriter, r *http.Request) {
	state := session.FromContext(r.Context())
	d := access.CanCreate(state.Viewer())
	page := EditorPage{
		Session:  sessionView(state),
		Mode:     modeCreate,
		Status:   result.StatusOK,
		Allowed:  d.Allowed,
		Guidance: d.Guidance(),
		Levels:   editableLevels,

		RequestedPath: contextkeys.GetOriginalPath(r.Context()),
	}
	httputil.WriteSuccess(w, page)
}

func (s *Server) editArticlePage(w http.ResponseWriter, r *http.Request) {
	state := session.FromContext(r.Context())
	v := state.Viewer()
	page := EditorPage{Session: sessionView(state), Mode: modeEdit, Levels: editableLevels}

	id, ok := pageArticleID(r)
	if !ok {
		page.Status = result.StatusNotFound
		httputil.WriteJSON(w, http.StatusNotFound, page)
		return
	}

	res := s.deps.Articles.FetchOne(r.Context(), v, id)
	page.Status = res.Status
	switch res.Status {
	case result.StatusOK:
		d := access.CanEdit(v, res.Value.UserID, s.deps.Articles.EditPolicy())
		page.Allowed = d.Allowed
		page.Guidance = d.Guidance()
		if d.Allowed {
			page.Article = res.Value
		} else {
			page.Status = result.StatusDenied
		}
	case result.StatusDenied:
		page.Guidance = res.Guidance()
	case result.StatusError:
		observability.LoggerWithTrace(r.Context(), s.logger).WithError(res.Err).WithField("article_id", id).Error("failed to fetch article for editing")
		page.Guidance = httputil.RetryableErrorMessage
	}
	httputil.WriteJSON(w, pageStatus(page.Status), page)
}

func (s *Server) authFormPage(form string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := AuthFormPage{
			Form:        form,
			OIDCEnabled: s.deps.OIDC != nil,
			Redirect:    r.URL.Query().Get("redirect"),
			Error:       r.URL.Query().Get("error"),
		}
		if form == "register" {
			page.MinPasswordLength = auth.MinPasswordLength
		}
		httputil.WriteSuccess(w, page)
	}
}

func (s *Server) profilePage(w http.ResponseWriter, r *http.Request) {
	state := session.FromContext(r.Context())
	page := ProfilePage{Session: sessionView(state), Mine: []ArticleSummary{}}

	res := s.deps.Profiles.Get(r.Context(), state.UserID())
	page.Status = res.Status
	if res.OK() {
		page.Profile = res.Value
	} else if res.Status == result.StatusError {
		observability.LoggerWithTrace(r.Context(), s.logger).WithError(res.Err).Error("failed to fetch profile")
	}

	if mine := s.deps.Articles.FetchMine(r.Context(), state.Viewer()); mine.OK() {
		page.Mine = summarize(mine.Value)
	}
	httputil.WriteJSON(w, pageStatus(page.Status), page)
}

func (s *Server) plansPage(w http.ResponseWriter, r *http.Request) {
	state := session.FromContext(r.Context())
	plans, err := s.deps.Membership.ListPlans(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	httputil.WriteSuccess(w, PlansPage{
		Session: sessionView(state),
		Plans:   plans,
		Current: state.Viewer().EffectivePlan(),
	})
}

// adminPage serves the dashboard summary, or the full user table when
// withUsers is set
func (s *Server) adminPage(withUsers bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state := session.FromContext(r.Context())
		users, err := s.deps.Membership.ListUsers(r.Context(), state.Viewer())
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		plans, err := s.deps.Membership.ListPlans(r.Context())
		if err != nil {
			writeError(w, s.logger, err)
			return
		}

		page := AdminPage{Session: sessionView(state), Plans: plans, Total: len(users)}
		for _, u := range users {
			if u.IsAdmin {
				page.Admins++
			}
		}
		if withUsers {
			page.Users = users
		}
		httputil.WriteSuccess(w, page)
	}
}

// pageArticleID returns the canonical article id, or false when the path
// segment cannot name an article
func pageArticleID(r *http.Request) (string, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return "", false
	}
	return id.String(), true
}
