package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/platinummonkey/quill/pkg/access"
)

// Article is a row of the articles table joined with its author's nickname
type Article struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Title          string             `json:"title"`
	Content        string             `json:"content"`
	AccessLevel    access.AccessLevel `json:"access_level"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	AuthorNickname string             `json:"author_nickname,omitempty"`
}

// ArticleMeta is the policy-relevant part of an article
type ArticleMeta struct {
	ID          string
	UserID      string
	AccessLevel access.AccessLevel
}

// DeniedError reports an article that exists but is hidden from the caller
type DeniedError struct {
	Meta ArticleMeta
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("article %s: %s", e.Meta.ID, ErrDenied)
}

func (e *DeniedError) Unwrap() error {
	return ErrDenied
}

const articleSelect = `
	SELECT a.id, a.user_id, a.title, a.content, a.access_level, a.created_at, a.updated_at,
		COALESCE(pr.nickname, '')
	FROM articles a
	LEFT JOIN user_profiles pr ON pr.user_id = a.user_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row rowScanner) (*Article, error) {
	var a Article
	var level string
	if err := row.Scan(&a.ID, &a.UserID, &a.Title, &a.Content, &level, &a.CreatedAt, &a.UpdatedAt, &a.AuthorNickname); err != nil {
		return nil, err
	}
	a.AccessLevel = access.AccessLevel(level)
	return &a, nil
}

func scanArticles(rows *sql.Rows) ([]Article, error) {
	defer rows.Close()
	articles := make([]Article, 0)
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan article: %w", err)
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

// GetArticle returns the article if viewerID may read it. A hidden
// article yields a *DeniedError carrying its metadata.
func (s *Store) GetArticle(ctx context.Context, viewerID, id string) (_ *Article, err error) {
	ctx, done := s.op(ctx, "get_article", attribute.String("article.id", id))
	defer func() { done(err) }()

	query := articleSelect + `
	WHERE a.id = $1 AND ` + viewPredicate(2)

	a, err := scanArticle(s.db.QueryRowContext(ctx, query, id, nullableID(viewerID)))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get article: %w", err)
	}

	meta, err := s.GetArticleMeta(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, &DeniedError{Meta: *meta}
}

// GetArticleMeta reads an article's owner and access level without any predicate
func (s *Store) GetArticleMeta(ctx context.Context, id string) (_ *ArticleMeta, err error) {
	ctx, done := s.op(ctx, "get_article_meta")
	defer func() { done(err) }()

	var m ArticleMeta
	var level string
	err = s.db.QueryRowContext(ctx,
		"SELECT id, user_id, access_level FROM articles WHERE id = $1", id,
	).Scan(&m.ID, &m.UserID, &level)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get article metadata: %w", err)
	}
	m.AccessLevel = access.AccessLevel(level)
	return &m, nil
}

// ListVisibleArticles returns every article viewerID may read, newest first
func (s *Store) ListVisibleArticles(ctx context.Context, viewerID string) (_ []Article, err error) {
	ctx, done := s.op(ctx, "list_visible_articles")
	defer func() { done(err) }()

	query := articleSelect + `
	WHERE ` + viewPredicate(1) + `
	ORDER BY a.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, nullableID(viewerID))
	if err != nil {
		return nil, fmt.Errorf("failed to list articles: %w", err)
	}
	return scanArticles(rows)
}

// ListPublicArticles returns OPEN articles, newest first
func (s *Store) ListPublicArticles(ctx context.Context) (_ []Article, err error) {
	ctx, done := s.op(ctx, "list_public_articles")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, articleSelect+`
	WHERE a.access_level = 'OPEN'
	ORDER BY a.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list public articles: %w", err)
	}
	return scanArticles(rows)
}

// ListArticlesByAuthor returns the author's own articles, newest first
func (s *Store) ListArticlesByAuthor(ctx context.Context, authorID string) (_ []Article, err error) {
	ctx, done := s.op(ctx, "list_articles_by_author")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, articleSelect+`
	WHERE a.user_id = $1
	ORDER BY a.created_at DESC`, authorID)
	if err != nil {
		return nil, fmt.Errorf("failed to list author articles: %w", err)
	}
	return scanArticles(rows)
}

// InsertArticle writes a new article authored by a.UserID. The insert only
// happens when the author is an admin or holds BASIC or above; otherwise
// ErrDenied is returned.
func (s *Store) InsertArticle(ctx context.Context, a *Article) (err error) {
	ctx, done := s.op(ctx, "insert_article", attribute.String("article.access_level", string(a.AccessLevel)))
	defer func() { done(err) }()

	query := `
	INSERT INTO articles (id, user_id, title, content, access_level, created_at, updated_at)
	SELECT $1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::timestamptz, $6::timestamptz
	WHERE ` + createPredicate(2)

	res, err := s.db.ExecContext(ctx, query, a.ID, a.UserID, a.Title, a.Content, string(a.AccessLevel), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to insert article: %w", err)
	}
	if n == 0 {
		return ErrDenied
	}
	a.UpdatedAt = a.CreatedAt
	return nil
}

// UpdateArticle rewrites title, content and level when viewerID is the
// author or an admin. recheckPlan additionally requires the author to
// still hold BASIC or above.
func (s *Store) UpdateArticle(ctx context.Context, viewerID string, a *Article, recheckPlan bool) (err error) {
	ctx, done := s.op(ctx, "update_article", attribute.String("article.id", a.ID))
	defer func() { done(err) }()

	query := `
	UPDATE articles a
	SET title = $2, content = $3, access_level = $4, updated_at = $5
	WHERE a.id = $1 AND ` + editPredicate(6, recheckPlan)

	res, err := s.db.ExecContext(ctx, query, a.ID, a.Title, a.Content, string(a.AccessLevel), a.UpdatedAt, nullableID(viewerID))
	if err != nil {
		return fmt.Errorf("failed to update article: %w", err)
	}
	return s.checkMutation(ctx, res, a.ID)
}

// DeleteArticle removes an article under the same rule as UpdateArticle
func (s *Store) DeleteArticle(ctx context.Context, viewerID, id string, recheckPlan bool) (err error) {
	ctx, done := s.op(ctx, "delete_article", attribute.String("article.id", id))
	defer func() { done(err) }()

	query := `
	DELETE FROM articles a
	WHERE a.id = $1 AND ` + editPredicate(2, recheckPlan)

	res, err := s.db.ExecContext(ctx, query, id, nullableID(viewerID))
	if err != nil {
		return fmt.Errorf("failed to delete article: %w", err)
	}
	return s.checkMutation(ctx, res, id)
}

// checkMutation turns a zero-row write into ErrNotFound or a *DeniedError
func (s *Store) checkMutation(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	meta, err := s.GetArticleMeta(ctx, id)
	if err != nil {
		return err
	}
	return &DeniedError{Meta: *meta}
}
