package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthRegister    EventType = "auth.register"
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"
	EventTypeAuthLogout      EventType = "auth.logout"

	// Admin events
	EventTypeAdminRoleChange EventType = "admin.role_change"
	EventTypeAdminPlanChange EventType = "admin.plan_change"

	// System events
	EventTypePlanExpired EventType = "system.plan_expired"

	// Data mutation events
	EventTypeArticleCreate EventType = "data.article_create"
	EventTypeArticleUpdate EventType = "data.article_update"
	EventTypeArticleDelete EventType = "data.article_delete"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeUser    ResourceType = "user"
	ResourceTypeArticle ResourceType = "article"
	ResourceTypePlan    ResourceType = "plan"
	ResourceTypeRole    ResourceType = "role"
	ResourceTypeSession ResourceType = "session"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	ActorID  string `json:"actor_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`

	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	RequestID    string       `json:"request_id,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
