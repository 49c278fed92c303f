package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// UserKey is the context key for authenticated user IDs.
	UserKey contextKey = "user_id"

	// ConnectionKey is the context key for WebSocket connection IDs.
	ConnectionKey contextKey = "connection_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithUser adds a user identifier to the context.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

// GetUser retrieves the user identifier from the context.
func GetUser(ctx context.Context) string {
	if user, ok := ctx.Value(UserKey).(string); ok {
		return user
	}
	return ""
}

// WithConnection adds a WebSocket connection ID to the context.
func WithConnection(ctx context.Context, connID string) context.Context {
	return context.WithValue(ctx, ConnectionKey, connID)
}

// GetConnection retrieves the WebSocket connection ID from the context.
func GetConnection(ctx context.Context) string {
	if id, ok := ctx.Value(ConnectionKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns logger annotated with whatever request, user and
// connection identifiers ctx carries.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	var fields []any
	if id := GetRequestID(ctx); id != "" {
		fields = append(fields, "request_id", id)
	}
	if user := GetUser(ctx); user != "" {
		fields = append(fields, "user_id", user)
	}
	if conn := GetConnection(ctx); conn != "" {
		fields = append(fields, "connection_id", conn)
	}
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
