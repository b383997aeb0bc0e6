package resty

import (
	"fmt"
	"net/url"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/go-resty/resty/v2"

	"github.com/rainbow-me/service-runtime/common/headers"
	"github.com/rainbow-me/service-runtime/common/logger"
	commonmeta "github.com/rainbow-me/service-runtime/common/metadata"
)

const (
	httpRequestOp      = "http.request"
	restyComponentName = "resty"
)

type interceptorCfg struct {
	TracingEnabled     bool
	RequestInfoEnabled bool
	ClientID           string
	// no timeout specified, that is handled by the underlying http client config
}

type InterceptorOpt func(*interceptorCfg)

// WithRequestInfoEnabled enables/disables request id forwarding. Default is enabled.
func WithRequestInfoEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.RequestInfoEnabled = enabled
	}
}

// WithTracingEnabled enables/disables tracing. Default is enabled.
func WithTracingEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.TracingEnabled = enabled
	}
}

// WithClientID tags every request with the calling service name.
func WithClientID(id string) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.ClientID = id
	}
}

// InjectInterceptors injects the interceptors that propagate traces and request ids on Resty requests.
// Default behaviour can be changed by passing any of the WithXXX options.
func InjectInterceptors(client *resty.Client, opts ...InterceptorOpt) {
	cfg := &interceptorCfg{
		TracingEnabled:     true,
		RequestInfoEnabled: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.TracingEnabled {
		before, after := TracingMiddleware()
		client.OnBeforeRequest(before)
		client.OnAfterResponse(after)
	}
	if cfg.RequestInfoEnabled {
		client.OnBeforeRequest(RequestInfoMiddleware(cfg.ClientID))
	}
}

// TracingMiddleware propagates traces from context to http headers.
// Also, creates a new span and tags it with the http method, url, status code etc.
func TracingMiddleware() (resty.RequestMiddleware, resty.ResponseMiddleware) {
	beforeRequest := func(_ *resty.Client, req *resty.Request) error {
		opts := []tracer.StartSpanOption{
			tracer.SpanType(ext.SpanTypeHTTP),
			tracer.Tag(ext.HTTPMethod, req.Method),
			tracer.Tag(ext.HTTPURL, req.URL),
			tracer.Tag(ext.Component, restyComponentName),
			tracer.Tag(ext.SpanKind, ext.SpanKindClient),
		}
		if parsedURL, err := url.Parse(req.URL); err == nil {
			opts = append(opts, tracer.Tag(ext.NetworkDestinationName, parsedURL.Hostname()))
			opts = append(opts, tracer.Tag("http.path", parsedURL.Path))
		}

		span, ctx := tracer.StartSpanFromContext(req.Context(), httpRequestOp, opts...)
		req.SetContext(ctx)

		sc := span.Context()
		if sc == nil {
			return nil
		}
		req.SetHeader(headers.HeaderXTraceID, sc.TraceID())
		if err := tracer.Inject(sc, tracer.HTTPHeadersCarrier(req.Header)); err != nil {
			logger.FromContext(ctx).Warn("failed to inject trace header", logger.Error(err))
		}
		return nil
	}

	afterResponse := func(_ *resty.Client, resp *resty.Response) error {
		span, ok := tracer.SpanFromContext(resp.Request.Context())
		if !ok {
			return nil
		}
		span.SetTag(ext.HTTPCode, resp.StatusCode())
		if resp.StatusCode() >= 400 {
			span.SetTag(ext.Error, true)
			span.SetTag(ext.ErrorMsg, fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), resp.Status()))
		}
		span.Finish()

		return nil
	}

	return beforeRequest, afterResponse
}

// RequestInfoMiddleware forwards the request id of the inbound call in progress, if any.
func RequestInfoMiddleware(clientID string) resty.RequestMiddleware {
	return func(_ *resty.Client, req *resty.Request) error {
		if info, ok := commonmeta.GetRequestInfoFromContext(req.Context()); ok && info.RequestID != "" {
			req.SetHeader(headers.HeaderXRequestID, info.RequestID)
		}
		if clientID != "" {
			req.SetHeader(headers.HeaderClientTaggingHeader, clientID)
		}
		return nil
	}
}
