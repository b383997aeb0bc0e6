package gin

import (
	"strings"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rainbow-me/service-runtime/common/headers"
	commonmeta "github.com/rainbow-me/service-runtime/common/metadata"
)

// RequestInfoMiddleware stores the request identification in the request context and echoes
// the request id back. A request id is generated when the caller sent none.
func RequestInfoMiddleware(c *gin.Context) {
	ctx := c.Request.Context()

	info := commonmeta.RequestInfo{
		RequestTime: time.Now().Format(time.RFC3339),
		RequestID:   c.GetHeader(headers.HeaderXRequestID),
		ClientID:    c.GetHeader(headers.HeaderClientTaggingHeader),
	}
	if info.RequestID == "" {
		info.RequestID = uuid.NewString()
	}
	if auth := c.GetHeader(headers.HeaderAuthorization); auth != "" {
		info.HasAuth = true
		if scheme, _, ok := strings.Cut(auth, " "); ok {
			info.AuthType = scheme
		}
	}
	if span, ok := tracer.SpanFromContext(ctx); ok {
		info.TraceID = span.Context().TraceID()
	}

	c.Header(headers.HeaderXRequestID, info.RequestID)
	c.Request = c.Request.WithContext(commonmeta.ContextWithRequestInfo(ctx, info))
	c.Next()
}
