package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/quill/pkg/contextkeys"
)

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *AuditEvent) error
}

// NewEvent builds an event stamped with the current time and the
// request id carried by ctx
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *AuditEvent {
	return &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
		Metadata:  make(map[string]interface{}),
	}
}

// NopLogger discards events
type NopLogger struct{}

// Log implements Logger
func (NopLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }
