package logger

import (
	"fmt"
	"strconv"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Field = zap.Field

var (
	Any        = zap.Any
	Bool       = zap.Bool
	ByteString = zap.ByteString
	Duration   = zap.Duration
	Float64    = zap.Float64
	Int        = zap.Int
	Int64      = zap.Int64
	Object     = zap.Object
	String     = zap.String
	Strings    = zap.Strings
	Uint64     = zap.Uint64
	Error      = zap.Error
	Errors     = zap.Errors
)

type Level zapcore.Level

const (
	DebugLevel  = Level(zapcore.DebugLevel)
	InfoLevel   = Level(zapcore.InfoLevel)
	WarnLevel   = Level(zapcore.WarnLevel)
	ErrorLevel  = Level(zapcore.ErrorLevel)
	DPanicLevel = Level(zapcore.DPanicLevel)
	PanicLevel  = Level(zapcore.PanicLevel)
	FatalLevel  = Level(zapcore.FatalLevel)
)

// Log field keys shared by interceptors.
const (
	PanicValueKey = "panic_value"
	PanicTypeKey  = "panic_type"
	StackTraceKey = "stack_trace"
	TraceIDKey    = "trace_id"
	SpanIDKey     = "span_id"
)

// WithPanic returns the fields describing a recovered panic value.
func WithPanic(panicValue any) []Field {
	return []Field{
		String(PanicValueKey, fmt.Sprintf("%v", panicValue)),
		String(PanicTypeKey, fmt.Sprintf("%T", panicValue)),
		zap.Stack(StackTraceKey),
	}
}

// WithTrace returns the trace and span id fields for a span context.
func WithTrace(sc *tracer.SpanContext) []Field {
	if sc == nil {
		return nil
	}
	return []Field{
		String(TraceIDKey, sc.TraceID()),
		String(SpanIDKey, strconv.FormatUint(sc.SpanID(), 10)),
	}
}
