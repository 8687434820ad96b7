package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Profile is a user's display attributes
type Profile struct {
	UserID    string    `json:"user_id"`
	Nickname  string    `json:"nickname"`
	Bio       string    `json:"bio"`
	AvatarURL string    `json:"avatar_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetProfile returns the user's profile or ErrNotFound
func (s *Store) GetProfile(ctx context.Context, userID string) (_ *Profile, err error) {
	ctx, done := s.op(ctx, "get_profile")
	defer func() { done(err) }()

	var p Profile
	err = s.db.QueryRowContext(ctx, `
		SELECT user_id, nickname, bio, avatar_url, created_at, updated_at
		FROM user_profiles WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.Nickname, &p.Bio, &p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

// UpsertProfile saves nickname and bio, creating the row if needed. The
// avatar is left untouched.
func (s *Store) UpsertProfile(ctx context.Context, p *Profile) (err error) {
	ctx, done := s.op(ctx, "upsert_profile")
	defer func() { done(err) }()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO user_profiles (user_id, nickname, bio) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			nickname = EXCLUDED.nickname,
			bio = EXCLUDED.bio,
			updated_at = NOW()
		RETURNING avatar_url, created_at, updated_at`,
		p.UserID, p.Nickname, p.Bio,
	).Scan(&p.AvatarURL, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

// SetAvatarURL stores the avatar reference, creating the row if needed.
// An empty url clears it.
func (s *Store) SetAvatarURL(ctx context.Context, userID, url string) (err error) {
	ctx, done := s.op(ctx, "set_avatar_url")
	defer func() { done(err) }()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, avatar_url) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET avatar_url = EXCLUDED.avatar_url, updated_at = NOW()`,
		userID, url,
	)
	if err != nil {
		return fmt.Errorf("failed to set avatar: %w", err)
	}
	return nil
}
