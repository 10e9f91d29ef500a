package logger

import (
	"context"
)

type contextKey struct{}

// WithLogger returns a new context with the given logger.
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// WithValues returns a context whose logger carries the given attributes.
func WithValues(ctx context.Context, tags ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(tags...))
}

// FromContext returns the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(contextKey{}).(Logger); ok {
		return l
	}
	return defaultLogger
}

// Debug logs a message with debug level.
func Debug(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Debug(msg, tags...)
}

// Info logs a message with info level.
func Info(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Info(msg, tags...)
}

// Warn logs a message with warn level.
func Warn(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Warn(msg, tags...)
}

// Error logs a message with error level.
func Error(ctx context.Context, msg string, tags ...any) {
	FromContext(ctx).Error(msg, tags...)
}

// Infof logs a formatted message with info level.
func Infof(ctx context.Context, format string, v ...any) {
	FromContext(ctx).Infof(format, v...)
}

// Warnf logs a formatted message with warn level.
func Warnf(ctx context.Context, format string, v ...any) {
	FromContext(ctx).Warnf(format, v...)
}
