package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session is the server-side record of an issued session token
type Session struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the session can still be used at now
func (s *Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// InsertSession records a newly issued token
func (s *Store) InsertSession(ctx context.Context, sess *Session) (err error) {
	ctx, done := s.op(ctx, "insert_session")
	defer func() { done(err) }()

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)",
		sess.ID, sess.UserID, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by token id
func (s *Store) GetSession(ctx context.Context, id string) (_ *Session, err error) {
	ctx, done := s.op(ctx, "get_session")
	defer func() { done(err) }()

	var sess Session
	var revoked sql.NullTime
	err = s.db.QueryRowContext(ctx,
		"SELECT id, user_id, created_at, expires_at, revoked_at FROM sessions WHERE id = $1", id,
	).Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	sess.RevokedAt = timePtr(revoked)
	return &sess, nil
}

// RevokeSession marks a session revoked. Revoking twice is a no-op.
func (s *Store) RevokeSession(ctx context.Context, id string, at time.Time) (err error) {
	ctx, done := s.op(ctx, "revoke_session")
	defer func() { done(err) }()

	_, err = s.db.ExecContext(ctx,
		"UPDATE sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL", id, at)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes sessions that expired before cutoff
func (s *Store) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (_ int64, err error) {
	ctx, done := s.op(ctx, "delete_expired_sessions")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return res.RowsAffected()
}
