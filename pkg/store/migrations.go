package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Logger is satisfied by both observability.Logger and logrus
type Logger interface {
	Infof(format string, args ...interface{})
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and sessions tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					email VARCHAR(320) NOT NULL UNIQUE,
					password_hash TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS sessions (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ NOT NULL,
					revoked_at TIMESTAMPTZ
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
				CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
			`,
		},
		{
			Version:     2,
			Description: "Create roles, plans and plan assignments",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_roles (
					user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS plans (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					name VARCHAR(16) NOT NULL UNIQUE CHECK (name IN ('FREE', 'BASIC', 'PRO', 'VIP')),
					description TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS user_plans (
					id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
					user_id UUID NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
					plan_id UUID NOT NULL REFERENCES plans(id),
					start_date TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					end_date TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_user_plans_end_date ON user_plans(end_date) WHERE end_date IS NOT NULL;
			`,
		},
		{
			Version:     3,
			Description: "Create profiles and articles",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_profiles (
					user_id UUID PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
					nickname VARCHAR(50) NOT NULL DEFAULT '',
					bio TEXT NOT NULL DEFAULT '' CHECK (char_length(bio) <= 200),
					avatar_url TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS articles (
					id UUID PRIMARY KEY,
					user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					title TEXT NOT NULL CHECK (char_length(title) > 0),
					content TEXT NOT NULL CHECK (char_length(content) > 0),
					access_level VARCHAR(16) NOT NULL DEFAULT 'FREE'
						CHECK (access_level IN ('OPEN', 'FREE', 'BASIC', 'PRO', 'VIP')),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_articles_user_id ON articles(user_id);
				CREATE INDEX IF NOT EXISTS idx_articles_created_at ON articles(created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_articles_access_level ON articles(access_level);
			`,
		},
		{
			Version:     4,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					event_type VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					actor_id UUID,
					target_id UUID,
					resource_type VARCHAR(32),
					resource_id VARCHAR(255),
					request_id VARCHAR(100),
					message TEXT,
					metadata JSONB NOT NULL DEFAULT '{}'
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_actor_id ON audit_logs(actor_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, m := range GetMigrations() {
		if applied[m.Version] {
			continue
		}

		logger.Infof("Running migration %d: %s", m.Version, m.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
