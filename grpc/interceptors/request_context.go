package interceptors

import (
	"context"
	"strconv"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/rainbow-me/service-runtime/common/headers"
	commonmeta "github.com/rainbow-me/service-runtime/common/metadata"
	internalmetadata "github.com/rainbow-me/service-runtime/grpc/metadata"
	"github.com/rainbow-me/service-runtime/observability"
)

// RequestContextUnaryServerInterceptor extracts RequestInfo (generating a request id
// when the caller sent none), stores it in the context and echoes the request, trace and
// span ids back to the caller as response headers.
func RequestContextUnaryServerInterceptor(opts ...internalmetadata.ParserOption) grpc.UnaryServerInterceptor {
	parser := internalmetadata.NewRequestParser(opts...)

	return func(
		ctx context.Context,
		req any,
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctx, requestInfo := parser.ParseMetadata(ctx)
		observability.SetTag(ctx, "request_id", requestInfo.RequestID)

		ctx = commonmeta.ContextWithRequestInfo(ctx, requestInfo)

		// Headers must be sent before the handler writes a response.
		sendResponseHeaders(ctx, requestInfo.RequestID)

		return handler(ctx, req)
	}
}

// sendResponseHeaders adds trace and request ID headers to the response.
func sendResponseHeaders(ctx context.Context, requestID string) {
	mdHeaders := metadata.MD{}

	if span, ok := tracer.SpanFromContext(ctx); ok {
		spanContext := span.Context()
		mdHeaders.Set(headers.HeaderXTraceID, spanContext.TraceID())
		mdHeaders.Set(headers.HeaderXSpanID, strconv.FormatUint(spanContext.SpanID(), 10))
	}
	if requestID != "" {
		mdHeaders.Set(headers.HeaderXRequestID, requestID)
	}

	if len(mdHeaders) > 0 {
		// Fails outside a real transport stream (e.g. direct interceptor calls in tests).
		_ = grpc.SetHeader(ctx, mdHeaders)
	}
}

// UnaryRequestContextClientInterceptor forwards the inbound request id (and any other
// forwarded header) to the outbound call.
func UnaryRequestContextClientInterceptor(
	ctx context.Context,
	method string,
	req, reply any,
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {
	md, _ := metadata.FromIncomingContext(ctx)
	outgoing, _ := metadata.FromOutgoingContext(ctx)

	requestID := internalmetadata.GetFirst(md, headers.HeaderXRequestID)
	if info, ok := commonmeta.GetRequestInfoFromContext(ctx); ok && info.RequestID != "" {
		requestID = info.RequestID
	}
	if requestID == "" {
		requestID = "unknown"
	}

	if len(outgoing.Get(headers.HeaderXRequestID)) == 0 {
		ctx = metadata.AppendToOutgoingContext(ctx, headers.HeaderXRequestID, requestID)
	}
	for _, key := range headers.GetHeadersToForward() {
		if key == headers.HeaderXRequestID || len(outgoing.Get(key)) > 0 {
			continue
		}
		if value := internalmetadata.GetFirst(md, key); value != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, key, value)
		}
	}

	return invoker(ctx, method, req, reply, cc, opts...)
}
