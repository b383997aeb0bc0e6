package logger

import (
	"context"
)

type loggerKey struct{}

// FromContext extracts a logger from the context, falling back to Instance.
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*Logger); ok && l != nil {
			return l
		}
	}
	return Instance()
}

// ContextWithLogger returns a context carrying the logger for later retrieval via FromContext.
func ContextWithLogger(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// ContextWithFields returns a context whose logger has the fields appended.
func ContextWithFields(ctx context.Context, fields ...Field) context.Context {
	return ContextWithLogger(ctx, FromContext(ctx).With(fields...))
}
