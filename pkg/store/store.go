// Package store is Quill's PostgreSQL data layer.
//
// Every read and write that touches articles is guarded by SQL predicates
// that mirror the access package's policy. Those predicates are evaluated
// against role and plan rows in the database, not against anything the
// caller claims, and are the authoritative enforcement point.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/quill/pkg/observability"
)

var (
	// ErrNotFound is returned when the row does not exist
	ErrNotFound = errors.New("not found")
	// ErrDenied is returned when the row exists but the caller's predicate excludes it
	ErrDenied = errors.New("access denied")
	// ErrConflict is returned on unique constraint violations
	ErrConflict = errors.New("already exists")
)

var tracer = observability.Tracer("store")

// DB is the subset of *sql.DB and *sql.Tx the store issues statements on
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store wraps the database handle with tracing and query metrics
type Store struct {
	db      *sql.DB
	metrics *observability.Metrics
}

// New creates a store. metrics may be nil.
func New(db *sql.DB, metrics *observability.Metrics) *Store {
	return &Store{db: db, metrics: metrics}
}

// DB returns the underlying handle
func (s *Store) DB() *sql.DB {
	return s.db
}

// op starts a span for a named query and returns a func recording its outcome
func (s *Store) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "store."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("db.system", "postgresql"))...),
	)
	return ctx, func(err error) {
		// Not-found and denied are expected outcomes, not query failures.
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDenied) {
			err = nil
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		s.metrics.ObserveDBQuery(name, start, err)
		span.End()
	}
}

// WithTx runs fn inside a transaction, rolling back on error
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a PostgreSQL unique_violation (23505)
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

// nullableID maps the anonymous viewer onto SQL NULL
func nullableID(id string) interface{} {
	if id == "" {
		return nil
	}
	return id
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
