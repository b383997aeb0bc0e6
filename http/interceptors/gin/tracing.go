package gin

import (
	"fmt"
	"net/http"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/ext"
	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/gin-gonic/gin"

	"github.com/rainbow-me/service-runtime/common/headers"
	"github.com/rainbow-me/service-runtime/observability"
)

// TracingMiddleware continues the trace found in the http headers, or starts a new one,
// and tags the handler span with route, method, url and response code. Trace and span
// ids are added to the context logger and the trace id is echoed back.
func TracingMiddleware(skipped map[string]bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if skipped[c.Request.URL.Path] {
			c.Next()
			return
		}

		spanOpts := []tracer.StartSpanOption{
			tracer.Tag(ext.Component, componentName),
			tracer.Tag(ext.SpanType, ext.SpanTypeWeb),
			tracer.Tag(ext.HTTPMethod, c.Request.Method),
			tracer.Tag(ext.HTTPURL, c.Request.URL.String()),
			tracer.Tag(ext.ResourceName, fmt.Sprintf("%s %s", c.Request.Method, c.FullPath())),
			tracer.Tag(ext.HTTPRoute, c.FullPath()),
		}
		if sCtx, err := tracer.Extract(tracer.HTTPHeadersCarrier(c.Request.Header)); err == nil && sCtx != nil {
			spanOpts = append(spanOpts, func(cfg *tracer.StartSpanConfig) {
				cfg.Parent = sCtx
			})
		}

		span, ctx := observability.StartSpan(c.Request.Context(), httpHandlerOp, spanOpts...)
		defer span.Finish()

		if sc := span.Context(); sc != nil {
			c.Header(headers.HeaderXTraceID, sc.TraceID())
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetTag(ext.HTTPCode, c.Writer.Status())
		if c.Writer.Status() >= http.StatusInternalServerError {
			span.SetTag(ext.Error, true)
		}
	}
}
