package interceptors

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/mennanov/fmutils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rainbow-me/service-runtime/common/headers"
	"github.com/rainbow-me/service-runtime/common/logger"
	commonmeta "github.com/rainbow-me/service-runtime/common/metadata"
	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
)

// Structured logging field keys
const (
	// Request timing and identification
	durationDDKey = "duration"

	// Request context information
	isNewTraceKey = "is_new_trace"
	clientIDKey   = "client_id"
	serviceKey    = "service"
	methodKey     = "method"
	fullMethodKey = "full_method"
	grpcStatusKey = "status"
	errorKindKey  = "error_kind"

	// Request/response payloads
	requestKey  = "request"
	responseKey = "response"
)

// Pre-compile regex for performance - avoid recompiling on each request
var methodRegex = regexp.MustCompile(`\/(.+)\/(.+)$`)

// logWithContext logs the received and completed lines of one call around handler.
func logWithContext(
	ctx context.Context,
	at string,
	fullMethod string,
	config *LoggingInterceptorConfig,
	log *logger.Logger,
	req any,
	handler func(ctx context.Context) (any, error),
) (any, error) {
	// Skip logging if method is in the skip list
	if _, shouldSkip := config.skipLoggingByMethod[fullMethod]; shouldSkip {
		return handler(ctx)
	}

	if log == nil {
		log = logger.FromContext(ctx)
	}

	// Disable stack traces for all levels since interceptor stacks are not useful
	zl := log.WithOptions(zap.AddStacktrace(zap.ErrorLevel + 1))

	grpcService, grpcMethod := GetServiceAndMethod(fullMethod)
	zl = zl.With(buildBaseLogFields(ctx, fullMethod, grpcService, grpcMethod)...)

	// Downstream code reaches the call-scoped logger through either context helper.
	ctx = ctxzap.ToContext(ctx, zl)
	ctx = logger.ContextWithLogger(ctx, logger.NewLogger(zl))

	if config.LogEnabled && config.LogReceived {
		var fields []zapcore.Field
		if config.LogParams || config.LogRequests {
			fields = append(fields, GrpcMessageField(requestKey, req, config))
		}
		zl.Check(config.LogLevel, at+".received").Write(fields...)
	}

	startTime := time.Now()
	resp, err := handler(ctx)

	// Skip logging if disabled and no error occurred
	if !config.LogEnabled && err == nil {
		return resp, nil
	}

	logFields := []zapcore.Field{zap.Duration(durationDDKey, time.Since(startTime))}
	if (config.LogParams || config.LogResponses) && resp != nil && !reflect.ValueOf(resp).IsZero() {
		logFields = append(logFields, GrpcMessageField(responseKey, resp, config))
	}
	logFields = append(logFields, buildStatusLogFields(err)...)
	logFields = append(logFields, buildMetadataLogFields(ctx)...)

	zl.Check(determineLogLevel(config, err), at+".completed").Write(logFields...)

	return resp, err
}

// buildBaseLogFields creates the base log fields that are common to all requests
func buildBaseLogFields(ctx context.Context, fullMethod, grpcService, grpcMethod string) []zapcore.Field {
	var fields []zapcore.Field

	if span, ok := tracer.SpanFromContext(ctx); ok {
		fields = append(fields, logger.WithTrace(span.Context())...)
	}
	if info, ok := commonmeta.GetRequestInfoFromContext(ctx); ok {
		fields = append(fields, info.ToZapFields()...)
	}

	return append(fields,
		zap.String(fullMethodKey, fullMethod),
		zap.String(methodKey, grpcMethod),
		zap.String(serviceKey, grpcService),
	)
}

// determineLogLevel determines the appropriate log level based on error status
func determineLogLevel(config *LoggingInterceptorConfig, err error) zapcore.Level {
	if err == nil {
		return config.LogLevel
	}

	if codeLevel, exists := config.GrpcCodeLogLevel[apperrors.Translate(err).Code]; exists {
		return codeLevel
	}

	return config.ErrorLogLevel
}

// buildStatusLogFields reports the status the caller will observe plus the raw error.
func buildStatusLogFields(err error) []zapcore.Field {
	if err == nil {
		return []zapcore.Field{zap.String(grpcStatusKey, "OK")}
	}

	translated := apperrors.Translate(err)
	return []zapcore.Field{
		zap.String(grpcStatusKey, translated.Code.String()),
		zap.String(errorKindKey, string(translated.Kind)),
		zap.Error(err),
	}
}

// buildMetadataLogFields extracts client and trace information from gRPC metadata
func buildMetadataLogFields(ctx context.Context) []zapcore.Field {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}

	clientID := "unknown"
	if clientIDs := md.Get(headers.HeaderClientTaggingHeader); len(clientIDs) > 0 {
		clientID = clientIDs[0]
	}

	return []zapcore.Field{
		zap.String(clientIDKey, clientID),
		zap.Bool(isNewTraceKey, len(md.Get(tracer.DefaultTraceIDHeader)) == 0),
	}
}

// GrpcMessageField creates a zap field for a payload with redaction applied.
// The payload itself is never modified.
func GrpcMessageField(key string, message any, config *LoggingInterceptorConfig) zapcore.Field {
	switch msg := message.(type) {
	case *structpb.Struct:
		return PbField(key, redactStruct(msg, config.redacted))
	case map[string]any:
		return zap.Any(key, redactMap(msg, config.redacted))
	case proto.Message:
		clonedMsg := proto.Clone(msg)
		for i := range config.LogParamsBlocklist {
			fmutils.Prune(clonedMsg, config.LogParamsBlocklist[i].GetPaths())
		}
		fmutils.Prune(clonedMsg, config.RedactedFields)
		return PbField(key, clonedMsg)
	default:
		return PbField(key, message)
	}
}

func redactStruct(s *structpb.Struct, redacted map[string]struct{}) *structpb.Struct {
	if s == nil {
		return nil
	}
	out := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(s.GetFields()))}
	for k, v := range s.GetFields() {
		if _, ok := redacted[k]; ok {
			out.Fields[k] = structpb.NewStringValue(redactedValue)
			continue
		}
		out.Fields[k] = redactValue(v, redacted)
	}
	return out
}

func redactValue(v *structpb.Value, redacted map[string]struct{}) *structpb.Value {
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StructValue:
		return structpb.NewStructValue(redactStruct(kind.StructValue, redacted))
	case *structpb.Value_ListValue:
		values := make([]*structpb.Value, 0, len(kind.ListValue.GetValues()))
		for _, item := range kind.ListValue.GetValues() {
			values = append(values, redactValue(item, redacted))
		}
		return structpb.NewListValue(&structpb.ListValue{Values: values})
	default:
		return v
	}
}

func redactMap(m map[string]any, redacted map[string]struct{}) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, ok := redacted[k]; ok {
			out[k] = redactedValue
			continue
		}
		out[k] = redactAny(v, redacted)
	}
	return out
}

func redactAny(v any, redacted map[string]struct{}) any {
	switch val := v.(type) {
	case map[string]any:
		return redactMap(val, redacted)
	case []any:
		items := make([]any, len(val))
		for i, item := range val {
			items[i] = redactAny(item, redacted)
		}
		return items
	default:
		return v
	}
}

// GetServiceAndMethod extracts the service and method names from a full gRPC method path.
// Input format: "/catalog.v1.Catalog/GetProduct"
// Output: service="catalog.v1.Catalog", method="GetProduct"
func GetServiceAndMethod(fullMethod string) (string, string) {
	methodParts := methodRegex.FindStringSubmatch(fullMethod)
	if len(methodParts) >= 3 {
		return methodParts[1], methodParts[2]
	}
	return "unknown", fullMethod
}

// PbField wraps a protobuf message in a zap Field for structured logging.
// Use this to embed protobuf messages in your structured zap logs.
func PbField(key string, pb any) zapcore.Field {
	if pbMsg, ok := pb.(proto.Message); ok {
		return zap.Object(key, &pbZapField{pbMsg})
	}

	// Fallback for non-protobuf messages
	return zap.Any(key, pb)
}

// pbZapField is a wrapper that implements zapcore.ObjectMarshaler
// for protobuf messages in structured logging
type pbZapField struct {
	pb proto.Message
}

// MarshalLogObject implements zapcore.ObjectMarshaler for structured logging
func (p *pbZapField) MarshalLogObject(e zapcore.ObjectEncoder) error {
	return e.AddReflected("payload", p)
}

// MarshalJSON implements json.Marshaler for JSON log output
func (p *pbZapField) MarshalJSON() ([]byte, error) {
	b, err := protojson.Marshal(p.pb)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal protobuf message to JSON: %w", err)
	}
	return b, nil
}
