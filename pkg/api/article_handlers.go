package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/articles"
	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/middleware"
	"github.com/platinummonkey/quill/pkg/session"
	"github.com/platinummonkey/quill/pkg/store"
)

// ArticleSummary is a list entry
type ArticleSummary struct {
	ID             string             `json:"id"`
	Title          string             `json:"title"`
	Excerpt        string             `json:"excerpt"`
	AccessLevel    access.AccessLevel `json:"access_level"`
	AuthorID       string             `json:"author_id"`
	AuthorNickname string             `json:"author_nickname,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	Date           string             `json:"date"`
}

func summarize(list []store.Article) []ArticleSummary {
	out := make([]ArticleSummary, 0, len(list))
	for _, a := range list {
		out = append(out, ArticleSummary{
			ID:             a.ID,
			Title:          a.Title,
			Excerpt:        articles.Excerpt(a.Content, articles.ExcerptLength),
			AccessLevel:    a.AccessLevel,
			AuthorID:       a.UserID,
			AuthorNickname: a.AuthorNickname,
			CreatedAt:      a.CreatedAt,
			Date:           articles.FormatDate(a.CreatedAt),
		})
	}
	return out
}

// Controls tells the client which mutations to offer
type Controls struct {
	CanEdit   bool `json:"can_edit"`
	CanDelete bool `json:"can_delete"`
}

func controlsFor(v access.Viewer, a *store.Article, policy access.EditPolicy) Controls {
	allowed := access.CanEdit(v, a.UserID, policy).Allowed
	return Controls{CanEdit: allowed, CanDelete: allowed}
}

// ArticleView is a full article with its display fields
type ArticleView struct {
	*store.Article
	Date     string   `json:"date"`
	Controls Controls `json:"controls"`
}

func (s *Server) articleView(v access.Viewer, a *store.Article) ArticleView {
	return ArticleView{
		Article:  a,
		Date:     articles.FormatDate(a.CreatedAt),
		Controls: controlsFor(v, a, s.deps.Articles.EditPolicy()),
	}
}

func (s *Server) registerArticleRoutes(r *mux.Router) {
	r.HandleFunc("/articles", s.listArticles).Methods("GET")
	r.Handle("/articles/mine", middleware.RequireSession(http.HandlerFunc(s.listMyArticles))).Methods("GET")
	r.HandleFunc("/articles/{id}", s.getArticle).Methods("GET")
	r.Handle("/articles", middleware.RequireSession(http.HandlerFunc(s.createArticle))).Methods("POST")
	r.Handle("/articles/{id}", middleware.RequireSession(http.HandlerFunc(s.updateArticle))).Methods("PUT")
	r.Handle("/articles/{id}", middleware.RequireSession(http.HandlerFunc(s.deleteArticle))).Methods("DELETE")
}

// listArticles handles GET /api/articles. Anonymous viewers get an empty list.
func (s *Server) listArticles(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Articles.FetchList(r.Context(), session.FromContext(r.Context()).Viewer())
	if writeFailure(w, s.logger, res) {
		return
	}
	httputil.WriteSuccess(w, summarize(res.Value))
}

// listMyArticles handles GET /api/articles/mine
func (s *Server) listMyArticles(w http.ResponseWriter, r *http.Request) {
	res := s.deps.Articles.FetchMine(r.Context(), session.FromContext(r.Context()).Viewer())
	if writeFailure(w, s.logger, res) {
		return
	}
	httputil.WriteSuccess(w, summarize(res.Value))
}

// getArticle handles GET /api/articles/{id}
func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	v := session.FromContext(r.Context()).Viewer()
	res := s.deps.Articles.FetchOne(r.Context(), v, id)
	if writeFailure(w, s.logger, res) {
		return
	}
	httputil.WriteSuccess(w, s.articleView(v, res.Value))
}

// createArticle handles POST /api/articles
func (s *Server) createArticle(w http.ResponseWriter, r *http.Request) {
	var in articles.Input
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	v := session.FromContext(r.Context()).Viewer()
	res := s.deps.Articles.Create(r.Context(), v, in)
	if writeFailure(w, s.logger, res) {
		return
	}
	httputil.WriteCreated(w, s.articleView(v, res.Value))
}

// updateArticle handles PUT /api/articles/{id}
func (s *Server) updateArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	var in articles.Input
	if !httputil.ParseJSONOrError(w, r, &in) {
		return
	}
	v := session.FromContext(r.Context()).Viewer()
	res := s.deps.Articles.Update(r.Context(), v, id, in)
	if writeFailure(w, s.logger, res) {
		return
	}
	httputil.WriteSuccess(w, s.articleView(v, res.Value))
}

// deleteArticle handles DELETE /api/articles/{id}
func (s *Server) deleteArticle(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.PathUUIDOrError(w, r, "id")
	if !ok {
		return
	}
	res := s.deps.Articles.Delete(r.Context(), session.FromContext(r.Context()).Viewer(), id)
	if writeFailure(w, s.logger, res) {
		return
	}
	httputil.WriteNoContent(w)
}
