package log

import (
	"context"

	"bizdash/internal/core"
)

// ContextKey type for context keys
type ContextKey string

const (
	// LoggerContextKey is the context key for the logger
	LoggerContextKey ContextKey = "logger"
)

// NewContext returns a copy of ctx carrying logger.
func NewContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, LoggerContextKey, logger)
}

// FromContext extracts a logger from the context, falling back to fallback
// (or a discarding logger when fallback is nil).
func FromContext(ctx context.Context, fallback *Logger) *Logger {
	if logger, ok := ctx.Value(LoggerContextKey).(*Logger); ok {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return Discard()
}

// StructuredLogger provides domain logging helpers on top of Logger
type StructuredLogger struct {
	logger *Logger
}

// NewStructuredLogger creates a new structured logger
func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{
		logger: logger,
	}
}

// LogSessionEvent logs a session-change notification
func (sl *StructuredLogger) LogSessionEvent(ctx context.Context, event string, id core.Identity) {
	fields := NewFields().WithIdentity(id)
	fields[FieldSessionEvent] = event

	sl.logger.WithComponent(ComponentSession).InfoContext(ctx, "Session change received", fields.ToSlice()...)
}

// LogDashboardRefreshed logs a completed aggregation cycle
func (sl *StructuredLogger) LogDashboardRefreshed(ctx context.Context, m core.DashboardMetrics) {
	fields := NewFields().
		WithMetrics(m).
		WithOperation(OpRefresh)

	sl.logger.WithComponent(ComponentDashboard).InfoContext(ctx, "Dashboard metrics refreshed", fields.ToSlice()...)
}

// LogError logs an error with structured context
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, component string, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	allFields := fields.
		WithError(err).
		WithOperation(operation)

	sl.logger.WithComponent(component).ErrorContext(ctx, msg, allFields.ToSlice()...)
}
