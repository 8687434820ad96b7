package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/quill/pkg/access"
)

// User is an account row
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// DefaultNickname derives the initial nickname from an email's local part
func DefaultNickname(email string) string {
	local, _, _ := strings.Cut(email, "@")
	runes := []rune(local)
	if len(runes) > 50 {
		runes = runes[:50]
	}
	return string(runes)
}

// ProvisionUser creates the account together with its profile, FREE plan
// assignment and non-admin role in a single transaction. A duplicate
// email yields ErrConflict.
func (s *Store) ProvisionUser(ctx context.Context, email, passwordHash string) (_ *User, err error) {
	ctx, done := s.op(ctx, "provision_user")
	defer func() { done(err) }()

	u := &User{Email: email, PasswordHash: passwordHash}
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx,
			"INSERT INTO users (email, password_hash) VALUES ($1, $2) RETURNING id, created_at",
			email, passwordHash,
		).Scan(&u.ID, &u.CreatedAt); err != nil {
			if IsUniqueViolation(err) {
				return ErrConflict
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_profiles (user_id, nickname) VALUES ($1, $2)",
			u.ID, DefaultNickname(email),
		); err != nil {
			return fmt.Errorf("failed to create profile: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO user_plans (user_id, plan_id, start_date)
			SELECT $1::uuid, p.id, $2::timestamptz FROM plans p WHERE p.name = $3`,
			u.ID, u.CreatedAt, string(access.PlanFree),
		)
		if err != nil {
			return fmt.Errorf("failed to assign plan: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("failed to assign plan: %s plan is not seeded", access.PlanFree)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO user_roles (user_id, is_admin) VALUES ($1, FALSE)", u.ID,
		); err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUserByEmail looks an account up by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (_ *User, err error) {
	ctx, done := s.op(ctx, "get_user_by_email")
	defer func() { done(err) }()

	var u User
	err = s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE email = $1", email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetUserByID looks an account up by id
func (s *Store) GetUserByID(ctx context.Context, id string) (_ *User, err error) {
	ctx, done := s.op(ctx, "get_user_by_id")
	defer func() { done(err) }()

	var u User
	err = s.db.QueryRowContext(ctx,
		"SELECT id, email, password_hash, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// AdminUserRow is one line of the admin user table
type AdminUserRow struct {
	UserID        string      `json:"user_id"`
	Email         string      `json:"email"`
	Nickname      string      `json:"nickname"`
	AvatarURL     string      `json:"avatar_url,omitempty"`
	IsAdmin       bool        `json:"is_admin"`
	Plan          access.Plan `json:"plan"`
	PlanStartDate *time.Time  `json:"plan_start_date,omitempty"`
	PlanEndDate   *time.Time  `json:"plan_end_date,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// ListAdminUsers merges account, profile, role and plan, newest first
func (s *Store) ListAdminUsers(ctx context.Context) (_ []AdminUserRow, err error) {
	ctx, done := s.op(ctx, "list_admin_users")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.email, COALESCE(pr.nickname, ''), COALESCE(pr.avatar_url, ''),
			COALESCE(ur.is_admin, FALSE), COALESCE(p.name, 'FREE'), up.start_date, up.end_date, u.created_at
		FROM users u
		LEFT JOIN user_profiles pr ON pr.user_id = u.id
		LEFT JOIN user_roles ur ON ur.user_id = u.id
		LEFT JOIN user_plans up ON up.user_id = u.id
		LEFT JOIN plans p ON p.id = up.plan_id
		ORDER BY u.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := make([]AdminUserRow, 0)
	for rows.Next() {
		var r AdminUserRow
		var plan string
		var start, end sql.NullTime
		if err := rows.Scan(&r.UserID, &r.Email, &r.Nickname, &r.AvatarURL, &r.IsAdmin, &plan, &start, &end, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		r.Plan = access.Plan(plan)
		r.PlanStartDate = timePtr(start)
		r.PlanEndDate = timePtr(end)
		users = append(users, r)
	}
	return users, rows.Err()
}
