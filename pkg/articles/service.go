// Package articles is the data-access layer for articles.
//
// Reads are served from per-viewer caches so that rows filtered for one
// viewer are never shown to another. Every write is guarded in SQL by the
// same rules access applies; a zero-row write is probed to distinguish a
// missing article from a denied one.
package articles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/async"
	"github.com/platinummonkey/quill/pkg/audit"
	"github.com/platinummonkey/quill/pkg/cache"
	"github.com/platinummonkey/quill/pkg/httputil"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/result"
	"github.com/platinummonkey/quill/pkg/store"
)

const (
	keyMine        = "mine"
	anonymousKey   = "anonymous"
	maxViewers     = 4096
	MaxTitleLength = 200
)

// Store is the persistence the service needs
type Store interface {
	GetArticle(ctx context.Context, viewerID, id string) (*store.Article, error)
	ListVisibleArticles(ctx context.Context, viewerID string) ([]store.Article, error)
	ListPublicArticles(ctx context.Context) ([]store.Article, error)
	ListArticlesByAuthor(ctx context.Context, authorID string) ([]store.Article, error)
	InsertArticle(ctx context.Context, a *store.Article) error
	UpdateArticle(ctx context.Context, viewerID string, a *store.Article, recheckPlan bool) error
	DeleteArticle(ctx context.Context, viewerID, id string, recheckPlan bool) error
}

// Input is the editable part of an article
type Input struct {
	Title       string             `json:"title"`
	Content     string             `json:"content"`
	AccessLevel access.AccessLevel `json:"access_level"`
}

// Normalize trims whitespace and defaults the level to FREE
func (in Input) Normalize() Input {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	if in.AccessLevel == "" {
		in.AccessLevel = access.LevelFree
	}
	return in
}

// Validate checks a normalized input
func (in Input) Validate() error {
	if in.Title == "" {
		return &httputil.FieldError{Field: "title", Message: "title is required"}
	}
	if len([]rune(in.Title)) > MaxTitleLength {
		return &httputil.FieldError{Field: "title", Message: fmt.Sprintf("title must be at most %d characters", MaxTitleLength)}
	}
	if in.Content == "" {
		return &httputil.FieldError{Field: "content", Message: "content is required"}
	}
	if !in.AccessLevel.Valid() {
		return &httputil.FieldError{Field: "access_level", Message: "access_level must be one of: OPEN FREE BASIC PRO VIP"}
	}
	return nil
}

// Options configures a Service
type Options struct {
	TTL        time.Duration
	EditPolicy access.EditPolicy
	Audit      audit.Logger
	Tasks      *async.Tasks
	Metrics    *observability.Metrics
	Logger     *observability.Logger
}

// Service reads and writes articles on behalf of a viewer
type Service struct {
	store   Store
	items   *cache.Registry[*store.Article]
	lists   *cache.Registry[[]store.Article]
	public  *cache.TTLCache[[]store.Article]
	policy  access.EditPolicy
	audit   audit.Logger
	tasks   *async.Tasks
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// NewService creates an article service
func NewService(st Store, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = cache.DefaultTTL
	}
	if opts.Audit == nil {
		opts.Audit = audit.NopLogger{}
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	if opts.Tasks == nil {
		opts.Tasks = async.NewTasks(opts.Logger)
	}
	return &Service{
		store:   st,
		items:   cache.NewRegistry[*store.Article]("articles", maxViewers, opts.TTL, opts.Metrics),
		lists:   cache.NewRegistry[[]store.Article]("article_lists", maxViewers, opts.TTL, opts.Metrics),
		public:  cache.New[[]store.Article]("public_articles", 1, opts.TTL, opts.Metrics),
		policy:  opts.EditPolicy,
		audit:   opts.Audit,
		tasks:   opts.Tasks,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     time.Now,
	}
}

// EditPolicy returns the policy applied to updates and deletes
func (s *Service) EditPolicy() access.EditPolicy {
	return s.policy
}

func viewerKey(v access.Viewer) string {
	if !v.Authenticated || v.UserID == "" {
		return anonymousKey
	}
	return v.UserID
}

// FetchOne returns the article if v may read it
func (s *Service) FetchOne(ctx context.Context, v access.Viewer, id string) result.Result[*store.Article] {
	c := s.items.For(viewerKey(v))
	if a, hit := c.Get(id); hit {
		return result.Ok(a)
	}

	a, err := s.store.GetArticle(ctx, v.UserID, id)
	var de *store.DeniedError
	switch {
	case err == nil:
		c.Set(id, a)
		return result.Ok(a)
	case errors.Is(err, store.ErrNotFound):
		return result.NotFound[*store.Article]()
	case errors.As(err, &de):
		d := access.CanView(v, de.Meta.UserID, de.Meta.AccessLevel)
		if d.Allowed {
			// The session's view of the plan is stale; the database wins.
			d.Reason = access.ReasonInsufficientPlan
			if req, has := de.Meta.AccessLevel.RequiredPlan(); has {
				d.RequiredPlan = access.PlanPtr(req)
			}
		}
		s.metrics.RecordAccessDenied(string(access.ActionView), string(de.Meta.AccessLevel))
		return result.Denied[*store.Article](d)
	default:
		s.logger.WithError(err).WithField("article_id", id).Error("failed to fetch article")
		return result.Failed[*store.Article](err)
	}
}

// FetchList returns every article v may read, newest first. Anonymous
// viewers get an empty list.
func (s *Service) FetchList(ctx context.Context, v access.Viewer) result.Result[[]store.Article] {
	if !v.Authenticated {
		return result.Ok([]store.Article{})
	}
	return s.cachedList(v, cache.KeyAll, func() ([]store.Article, error) {
		return s.store.ListVisibleArticles(ctx, v.UserID)
	})
}

// FetchMine returns the viewer's own articles
func (s *Service) FetchMine(ctx context.Context, v access.Viewer) result.Result[[]store.Article] {
	if !v.Authenticated {
		return result.Ok([]store.Article{})
	}
	return s.cachedList(v, keyMine, func() ([]store.Article, error) {
		return s.store.ListArticlesByAuthor(ctx, v.UserID)
	})
}

// FetchPublic returns OPEN articles for the landing page
func (s *Service) FetchPublic(ctx context.Context) result.Result[[]store.Article] {
	if list, hit := s.public.Get(cache.KeyAll); hit {
		return result.Ok(list)
	}
	list, err := s.store.ListPublicArticles(ctx)
	if err != nil {
		s.logger.WithError(err).Error("failed to list public articles")
		return result.Failed[[]store.Article](err)
	}
	s.public.Set(cache.KeyAll, list)
	return result.Ok(list)
}

func (s *Service) cachedList(v access.Viewer, key string, load func() ([]store.Article, error)) result.Result[[]store.Article] {
	c := s.lists.For(viewerKey(v))
	if list, hit := c.Get(key); hit {
		return result.Ok(list)
	}
	list, err := load()
	if err != nil {
		s.logger.WithError(err).WithField("list", key).Error("failed to list articles")
		return result.Failed[[]store.Article](err)
	}
	c.Set(key, list)
	return result.Ok(list)
}

// Create publishes a new article authored by v. The plan check here is
// advisory; the insert itself is refused by the database when v may not
// create articles.
func (s *Service) Create(ctx context.Context, v access.Viewer, in Input) result.Result[*store.Article] {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return result.Failed[*store.Article](err)
	}

	if d := access.CanCreate(v); !d.Allowed {
		s.metrics.RecordAccessDenied(string(access.ActionCreate), string(in.AccessLevel))
		return result.Denied[*store.Article](d)
	}

	now := s.now().UTC()
	a := &store.Article{
		ID:          uuid.NewString(),
		UserID:      v.UserID,
		Title:       in.Title,
		Content:     in.Content,
		AccessLevel: in.AccessLevel,
		CreatedAt:   now,
	}
	err := s.store.InsertArticle(ctx, a)
	if errors.Is(err, store.ErrDenied) {
		basic := access.PlanBasic
		s.metrics.RecordAccessDenied(string(access.ActionCreate), string(in.AccessLevel))
		s.record(ctx, v, audit.EventTypeAccessDenied, audit.EventStatusDenied, a.ID, "create refused by database")
		return result.Denied[*store.Article](access.Decision{
			Action:       access.ActionCreate,
			Reason:       access.ReasonInsufficientPlan,
			RequiredPlan: &basic,
			CurrentPlan:  v.EffectivePlan(),
		})
	}
	if err != nil {
		s.logger.WithError(err).Error("failed to create article")
		return result.Failed[*store.Article](err)
	}

	s.invalidate()
	s.metrics.RecordArticleCreated(string(a.AccessLevel))
	s.record(ctx, v, audit.EventTypeArticleCreate, audit.EventStatusSuccess, a.ID, a.Title)
	return result.Ok(a)
}

// Update rewrites an article when v is its author or an admin
func (s *Service) Update(ctx context.Context, v access.Viewer, id string, in Input) result.Result[*store.Article] {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return result.Failed[*store.Article](err)
	}
	if !v.Authenticated {
		return result.Denied[*store.Article](access.CanEdit(v, "", s.policy))
	}

	a := &store.Article{
		ID:          id,
		Title:       in.Title,
		Content:     in.Content,
		AccessLevel: in.AccessLevel,
		UpdatedAt:   s.now().UTC(),
	}
	err := s.store.UpdateArticle(ctx, v.UserID, a, s.policy == access.EditPolicyRecheckPlan)
	if res, done := s.mutationOutcome(ctx, v, id, err); done {
		return result.Recast[*store.Article](res)
	}

	s.invalidate(id)
	s.record(ctx, v, audit.EventTypeArticleUpdate, audit.EventStatusSuccess, id, a.Title)
	return s.FetchOne(ctx, v, id)
}

// Delete removes an article when v is its author or an admin
func (s *Service) Delete(ctx context.Context, v access.Viewer, id string) result.Result[struct{}] {
	if !v.Authenticated {
		return result.Denied[struct{}](access.CanEdit(v, "", s.policy))
	}

	err := s.store.DeleteArticle(ctx, v.UserID, id, s.policy == access.EditPolicyRecheckPlan)
	if res, done := s.mutationOutcome(ctx, v, id, err); done {
		return res
	}

	s.invalidate(id)
	s.record(ctx, v, audit.EventTypeArticleDelete, audit.EventStatusSuccess, id, "")
	return result.Ok(struct{}{})
}

// mutationOutcome maps a store write error onto a Result. done is false
// when the write succeeded.
func (s *Service) mutationOutcome(ctx context.Context, v access.Viewer, id string, err error) (result.Result[struct{}], bool) {
	if err == nil {
		return result.Result[struct{}]{}, false
	}
	var de *store.DeniedError
	switch {
	case errors.Is(err, store.ErrNotFound):
		return result.NotFound[struct{}](), true
	case errors.As(err, &de):
		d := access.CanEdit(v, de.Meta.UserID, s.policy)
		if d.Allowed {
			d.Reason = access.ReasonNotAuthor
		}
		s.metrics.RecordAccessDenied(string(access.ActionEdit), string(de.Meta.AccessLevel))
		s.record(ctx, v, audit.EventTypeAccessDenied, audit.EventStatusDenied, id, "edit refused by database")
		return result.Denied[struct{}](d), true
	default:
		s.logger.WithError(err).WithField("article_id", id).Error("failed to modify article")
		return result.Failed[struct{}](err), true
	}
}

// invalidate drops ids and every list from all viewers' caches
func (s *Service) invalidate(ids ...string) {
	if len(ids) > 0 {
		s.items.Invalidate(ids...)
	}
	s.lists.Invalidate(cache.KeyAll, keyMine)
	s.public.Purge()
}

// DropViewer discards everything cached for userID
func (s *Service) DropViewer(userID string) {
	if userID == "" {
		return
	}
	s.items.Drop(userID)
	s.lists.Drop(userID)
}

func (s *Service) record(ctx context.Context, v access.Viewer, typ audit.EventType, status audit.EventStatus, articleID, msg string) {
	ev := audit.NewEvent(ctx, typ, status)
	ev.ActorID = v.UserID
	ev.ResourceType = audit.ResourceTypeArticle
	ev.ResourceID = articleID
	ev.Message = msg
	s.tasks.SafeGo(ctx, 5*time.Second, "audit."+string(typ), func(ctx context.Context) error {
		return s.audit.Log(ctx, ev)
	})
}
