package logger

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

const (
	loggerKey contextKey = "archvault.logger"
	opIDKey   contextKey = "archvault.op_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext extracts the logger from context.
// Returns the default logger if none is set.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(loggerKey).(Logger); ok {
		return l
	}
	return Default()
}

// WithOpID adds an operation ID to the context.
func WithOpID(ctx context.Context, opID string) context.Context {
	return context.WithValue(ctx, opIDKey, opID)
}

// NewOp returns ctx carrying a fresh random operation ID.
func NewOp(ctx context.Context) context.Context {
	return WithOpID(ctx, uuid.NewString())
}

// OpIDFromContext extracts the operation ID from context.
func OpIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(opIDKey).(string); ok {
		return id
	}
	return ""
}

// L is a shorthand for FromContext that also attaches the operation ID.
func L(ctx context.Context) Logger {
	l := FromContext(ctx)
	if id := OpIDFromContext(ctx); id != "" {
		l = l.With("op_id", id)
	}
	return l
}
