package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger writes audit events to the audit_logs table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger. The table is
// created by store migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	metadata := []byte("{}")
	if len(event.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (
			timestamp, event_type, status,
			actor_id, target_id,
			resource_type, resource_id, request_id,
			message, metadata
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	err := l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status),
		nullString(event.ActorID), nullString(event.TargetID),
		nullString(string(event.ResourceType)), nullString(event.ResourceID), nullString(event.RequestID),
		event.Message, metadata,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Recent returns the latest events, newest first
func (l *DBLogger) Recent(ctx context.Context, limit int) ([]*AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, timestamp, event_type, status,
			COALESCE(actor_id::text, ''), COALESCE(target_id::text, ''),
			COALESCE(resource_type, ''), COALESCE(resource_id, ''), COALESCE(request_id, ''),
			COALESCE(message, ''), metadata
		FROM audit_logs
		ORDER BY timestamp DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		var e AuditEvent
		var eventType, status, resourceType string
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.Timestamp, &eventType, &status,
			&e.ActorID, &e.TargetID, &resourceType, &e.ResourceID, &e.RequestID,
			&e.Message, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Status = EventStatus(status)
		e.ResourceType = ResourceType(resourceType)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
