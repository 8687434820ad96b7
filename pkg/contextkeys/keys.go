// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here so that
// producers and consumers agree on names and value types.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/quill/pkg/contextkeys"
//	ctx = contextkeys.WithSession(ctx, state)
//	state, _ := ctx.Value(contextkeys.SessionKey).(*session.State)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// SessionKey contains *session.State
	// Set by: middleware.SessionMiddleware (pkg/middleware/session.go)
	// Required by: page view-models, article/profile handlers, admin handlers
	// Type: *session.State
	SessionKey Key = "session_state"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit trail
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user's ID
	// Set by: middleware.SessionMiddleware after the token is verified
	// Used by: Logger, audit trail
	// Type: string
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: observability.WithLogger
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// OriginalPathKey contains the request path before legacy alias rewriting
	// Set by: middleware.Guard
	// Used by: the article editor page
	// Type: string
	OriginalPathKey Key = "original_path"
)

// WithSession adds session state to the context
func WithSession(ctx context.Context, state interface{}) context.Context {
	return context.WithValue(ctx, SessionKey, state)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithOriginalPath records the pre-rewrite request path
func WithOriginalPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, OriginalPathKey, path)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetOriginalPath retrieves the pre-rewrite request path from context
func GetOriginalPath(ctx context.Context) string {
	if p, ok := ctx.Value(OriginalPathKey).(string); ok {
		return p
	}
	return ""
}
