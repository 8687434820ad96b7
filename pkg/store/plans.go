package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/quill/pkg/access"
)

// PlanRow is a row of the plans reference table
type PlanRow struct {
	ID          string      `json:"id"`
	Name        access.Plan `json:"name"`
	Description string      `json:"description"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Assignment is a user's current plan
type Assignment struct {
	UserID      string      `json:"user_id"`
	Plan        access.Plan `json:"plan"`
	Description string      `json:"description,omitempty"`
	StartDate   time.Time   `json:"start_date"`
	EndDate     *time.Time  `json:"end_date,omitempty"`
}

// PlanSeed is reference data applied by quill-setup
type PlanSeed struct {
	Name        access.Plan `yaml:"name" json:"name"`
	Description string      `yaml:"description" json:"description"`
}

// DefaultPlanSeeds are the four tiers every installation starts with
var DefaultPlanSeeds = []PlanSeed{
	{Name: access.PlanFree, Description: "Free plan - basic features only"},
	{Name: access.PlanBasic, Description: "Basic plan - additional features"},
	{Name: access.PlanPro, Description: "Professional plan - all features"},
	{Name: access.PlanVIP, Description: "VIP plan - priority support"},
}

// ListPlans returns all plans in no particular order
func (s *Store) ListPlans(ctx context.Context) (_ []PlanRow, err error) {
	ctx, done := s.op(ctx, "list_plans")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, COALESCE(description, ''), created_at, updated_at FROM plans")
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := make([]PlanRow, 0, 4)
	for rows.Next() {
		var p PlanRow
		var name string
		if err := rows.Scan(&p.ID, &name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		p.Name = access.Plan(name)
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// SeedPlans inserts or refreshes plan reference data
func (s *Store) SeedPlans(ctx context.Context, seeds []PlanSeed) (err error) {
	ctx, done := s.op(ctx, "seed_plans")
	defer func() { done(err) }()

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, seed := range seeds {
			if !seed.Name.Valid() {
				return fmt.Errorf("invalid plan in seed: %q", seed.Name)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO plans (name, description) VALUES ($1, $2)
				ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, updated_at = NOW()`,
				string(seed.Name), seed.Description,
			); err != nil {
				return fmt.Errorf("failed to seed plan %s: %w", seed.Name, err)
			}
		}
		return nil
	})
}

// GetUserPlan returns the user's current assignment or ErrNotFound. An
// assignment whose end date has passed is not current even before
// ExpirePlans rewrites it.
func (s *Store) GetUserPlan(ctx context.Context, userID string) (_ *Assignment, err error) {
	ctx, done := s.op(ctx, "get_user_plan")
	defer func() { done(err) }()

	var a Assignment
	var name string
	var end sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT up.user_id, p.name, COALESCE(p.description, ''), up.start_date, up.end_date
		FROM user_plans up
		JOIN plans p ON p.id = up.plan_id
		WHERE up.user_id = $1 AND (up.end_date IS NULL OR up.end_date > NOW())`, userID,
	).Scan(&a.UserID, &name, &a.Description, &a.StartDate, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user plan: %w", err)
	}
	a.Plan = access.Plan(name)
	a.EndDate = timePtr(end)
	return &a, nil
}

// SetUserPlan assigns plan to the user starting at start on behalf of
// actorID. The write only happens when actorID is an administrator
// (ErrDenied otherwise); an unknown plan name yields ErrNotFound.
func (s *Store) SetUserPlan(ctx context.Context, actorID, userID string, plan access.Plan, start time.Time, endDate *time.Time) (err error) {
	ctx, done := s.op(ctx, "set_user_plan")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO user_plans (user_id, plan_id, start_date, end_date)
		SELECT $2::uuid, p.id, $4::timestamptz, $5::timestamptz FROM plans p
		WHERE p.name = $3 AND %s
		ON CONFLICT (user_id) DO UPDATE SET
			plan_id = EXCLUDED.plan_id,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			updated_at = NOW()`,
		isAdminPredicate(1)),
		actorID, userID, string(plan), start, nullTime(endDate),
	)
	if err != nil {
		return fmt.Errorf("failed to set user plan: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to set user plan: %w", err)
	}
	if n > 0 {
		return nil
	}

	var seeded bool
	if err = s.db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM plans WHERE name = $1)", string(plan),
	).Scan(&seeded); err != nil {
		return fmt.Errorf("failed to set user plan: %w", err)
	}
	if !seeded {
		return ErrNotFound
	}
	return ErrDenied
}

// ExpirePlans moves every assignment whose end date has passed back to
// FREE and returns the affected user ids
func (s *Store) ExpirePlans(ctx context.Context, now time.Time) (_ []string, err error) {
	ctx, done := s.op(ctx, "expire_plans")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		UPDATE user_plans
		SET plan_id = (SELECT id FROM plans WHERE name = 'FREE'),
			start_date = $1,
			end_date = NULL,
			updated_at = $1
		WHERE end_date IS NOT NULL AND end_date <= $1
		RETURNING user_id`, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expire plans: %w", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired plan: %w", err)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, rows.Err()
}
