// Package contextkeys provides centralized context key definitions
//
// All context keys shared between packages are defined here so a value set
// by one package can be found by another without importing it.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/isotrack/pkg/contextkeys"
//	ctx = contextkeys.WithActor(ctx, actor)
//	actor, ok := ctx.Value(contextkeys.ActorKey).(identity.Actor)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorKey contains identity.Actor
	// Set by: identity.Middleware (pkg/identity/middleware.go)
	// Used by: identity.ContextProvider, audit trail entry stamping
	ActorKey Key = "actor"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, audit metadata, response headers
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: server wiring
	// Used by: Handlers that need structured logging with request context
	LoggerKey Key = "logger"

	// RecorderKey contains audit.Recorder
	// Set by: audit.WithRecorder
	// Used by: callers that record mutations without holding a trail handle
	RecorderKey Key = "audit_recorder"
)

// WithActor adds the acting identity to the context
func WithActor(ctx context.Context, actor interface{}) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRecorder adds an audit recorder to the context
func WithRecorder(ctx context.Context, recorder interface{}) context.Context {
	return context.WithValue(ctx, RecorderKey, recorder)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
