package interceptors

import (
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
)

const (
	DefaultInterceptorLogLevel      zapcore.Level = zapcore.InfoLevel
	DefaultInterceptorErrorLogLevel zapcore.Level = zapcore.WarnLevel

	redactedValue = "<redacted>"
)

// DefaultRedactedFields are the payload fields never written to logs.
func DefaultRedactedFields() []string {
	return []string{"image", "file", "files"}
}

type LoggingInterceptorConfig struct {
	LogEnabled         bool
	LogReceived        bool // Emits a line before the handler runs.
	LogParams          bool // Logs both request and response.
	LogRequests        bool
	LogResponses       bool
	LogParamsBlocklist []fieldmaskpb.FieldMask
	LogLevel           zapcore.Level
	ErrorLogLevel      zapcore.Level

	// Field names replaced with a placeholder in Struct and map payloads (at any depth)
	// and pruned from the top level of typed proto messages before a payload is logged.
	RedactedFields []string

	// If set, overrides ErrorLogLevel for specified gRPC codes. All other codes will be logged with ErrorLogLevel.
	// Setting code.OK here will have no effect (LogLevel will still be followed)
	GrpcCodeLogLevel map[codes.Code]zapcore.Level

	skipLoggingByMethod map[string]struct{}
	redacted            map[string]struct{}
}

type LoggingInterceptorOption func(*LoggingInterceptorConfig)

func LogParams(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogParams = v
	}
}

func LogEnabled(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogEnabled = v
	}
}

func LogReceived(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogReceived = v
	}
}

func LogRequests(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogRequests = v
	}
}

func LogResponses(v bool) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogResponses = v
	}
}

func LogLevel(level zapcore.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.LogLevel = level
	}
}

func GrpcCodeLogLevel(errorCodeLogLevel map[codes.Code]zapcore.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.GrpcCodeLogLevel = errorCodeLogLevel
	}
}

func ErrorLogLevel(level zapcore.Level) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.ErrorLogLevel = level
	}
}

// LogParamsBlocklist prunes the given field mask paths from logged proto payloads.
func LogParamsBlocklist(masks ...*fieldmaskpb.FieldMask) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		for _, m := range masks {
			if m != nil {
				o.LogParamsBlocklist = append(o.LogParamsBlocklist, fieldmaskpb.FieldMask{Paths: m.GetPaths()})
			}
		}
	}
}

// WithRedactedFields adds field names to the redaction list.
func WithRedactedFields(fields ...string) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		o.RedactedFields = append(o.RedactedFields, fields...)
	}
}

func WithSkippedLogsByMethods(methods ...string) LoggingInterceptorOption {
	return func(o *LoggingInterceptorConfig) {
		for _, method := range methods {
			o.skipLoggingByMethod[method] = struct{}{}
		}
	}
}

func interceptorConfig(opts ...LoggingInterceptorOption) *LoggingInterceptorConfig {
	cfg := &LoggingInterceptorConfig{
		LogEnabled:          true,
		LogReceived:         true,
		LogParams:           false,
		LogRequests:         true,
		LogResponses:        false,
		LogParamsBlocklist:  nil,
		LogLevel:            DefaultInterceptorLogLevel,
		ErrorLogLevel:       DefaultInterceptorErrorLogLevel,
		RedactedFields:      DefaultRedactedFields(),
		skipLoggingByMethod: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	cfg.redacted = make(map[string]struct{}, len(cfg.RedactedFields))
	for _, f := range cfg.RedactedFields {
		cfg.redacted[f] = struct{}{}
	}
	return cfg
}
