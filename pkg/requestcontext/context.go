// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services and handlers read them without importing
// net/http concerns.
//
//	userID := requestcontext.UserID(ctx)
//	sessionID := requestcontext.SessionID(ctx)
//	now := requestcontext.Now(ctx)
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithSessionID(ctx, "session-1")
package requestcontext

import (
	"context"
	"time"
)

type (
	userIDKey      struct{}
	displayNameKey struct{}
	sessionIDKey   struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyUserID      = userIDKey{}
	ContextKeyDisplayName = displayNameKey{}
	ContextKeySessionID   = sessionIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// -----------------------------------------------------------------------------
// Current user (optional, supplied by the auth provider)
// -----------------------------------------------------------------------------

// UserID retrieves the authenticated user identifier, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	if userID, ok := ctx.Value(ContextKeyUserID).(string); ok {
		return userID
	}
	return ""
}

// WithUserID injects an authenticated user identifier.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ContextKeyUserID, userID)
}

// DisplayName retrieves the authenticated user's display name, if any.
func DisplayName(ctx context.Context) string {
	if name, ok := ctx.Value(ContextKeyDisplayName).(string); ok {
		return name
	}
	return ""
}

// WithDisplayName injects the authenticated user's display name.
func WithDisplayName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ContextKeyDisplayName, name)
}

// SessionID retrieves the identity session the request acts on.
func SessionID(ctx context.Context) string {
	if sessionID, ok := ctx.Value(ContextKeySessionID).(string); ok {
		return sessionID
	}
	return ""
}

// WithSessionID injects the identity session identifier.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (CLI, workers, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
