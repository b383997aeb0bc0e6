package observability

import (
	"context"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"

	"github.com/rainbow-me/service-runtime/common/logger"
)

// StartSpan is a helper function that we should always use instead of tracer.StartSpanFromContext to ensure that our
// context logger gets updated with trace and span ID.
func StartSpan(ctx context.Context, opName string, opts ...tracer.StartSpanOption) (*tracer.Span, context.Context) {
	span, ctx := tracer.StartSpanFromContext(ctx, opName, opts...)
	ctx = logger.ContextWithFields(ctx, logger.WithTrace(span.Context())...)
	return span, ctx
}

// SetTag sets a tag on the active span, if there is one.
func SetTag(ctx context.Context, key string, value any) {
	if span, ok := tracer.SpanFromContext(ctx); ok {
		span.SetTag(key, value)
	}
}

// SetError marks the active span as failed with the given error type and message.
func SetError(ctx context.Context, errType, msg string) {
	span, ok := tracer.SpanFromContext(ctx)
	if !ok {
		return
	}
	span.SetTag(ext.Error, true)
	span.SetTag(ext.ErrorType, errType)
	span.SetTag(ext.ErrorMsg, msg)
}
