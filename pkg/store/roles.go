package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// IsAdmin reports the user's admin flag. A missing role row means false.
func (s *Store) IsAdmin(ctx context.Context, userID string) (_ bool, err error) {
	ctx, done := s.op(ctx, "is_admin")
	defer func() { done(err) }()

	var isAdmin bool
	err = s.db.QueryRowContext(ctx,
		"SELECT is_admin FROM user_roles WHERE user_id = $1", userID,
	).Scan(&isAdmin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get role: %w", err)
	}
	return isAdmin, nil
}

// SetAdmin creates or updates the user's role row on behalf of actorID.
// The write only happens when actorID is an administrator; otherwise
// ErrDenied is returned.
func (s *Store) SetAdmin(ctx context.Context, actorID, userID string, isAdmin bool) (err error) {
	ctx, done := s.op(ctx, "set_admin")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO user_roles (user_id, is_admin)
		SELECT $2::uuid, $3::boolean WHERE %s
		ON CONFLICT (user_id) DO UPDATE SET is_admin = EXCLUDED.is_admin, updated_at = NOW()`,
		isAdminPredicate(1)),
		actorID, userID, isAdmin,
	)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	if n == 0 {
		return ErrDenied
	}
	return nil
}

// GrantAdmin sets the admin flag without an acting administrator. It is
// meant for provisioning the first administrator from quill-setup.
func (s *Store) GrantAdmin(ctx context.Context, userID string) (err error) {
	ctx, done := s.op(ctx, "grant_admin")
	defer func() { done(err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_roles (user_id, is_admin) VALUES ($1, TRUE)
		ON CONFLICT (user_id) DO UPDATE SET is_admin = TRUE, updated_at = NOW()`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to grant admin: %w", err)
	}
	return nil
}
