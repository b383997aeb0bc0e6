package metadata

import (
	"context"

	"github.com/rainbow-me/service-runtime/common/logger"
)

// RequestInfo is the per-call request identification extracted from inbound metadata.
type RequestInfo struct {
	RequestTime string `json:"requestTime"`
	RequestID   string `json:"requestId"`
	TraceID     string `json:"traceId"`
	ClientID    string `json:"clientId,omitempty"`

	HasAuth  bool   `json:"hasAuth"`
	AuthType string `json:"authType,omitempty"` // e.g. Bearer, Basic, ApiKey
}

type requestContextKey struct{}

// ContextWithRequestInfo stores the info in ctx and tags the context logger with it.
func ContextWithRequestInfo(ctx context.Context, requestInfo RequestInfo) context.Context {
	ctx = context.WithValue(ctx, requestContextKey{}, requestInfo)
	return logger.ContextWithFields(ctx, requestInfo.ToZapFields()...)
}

// GetRequestInfoFromContext extracts RequestInfo from context.
func GetRequestInfoFromContext(ctx context.Context) (RequestInfo, bool) {
	if ctx == nil {
		return RequestInfo{}, false
	}
	requestInfo, ok := ctx.Value(requestContextKey{}).(RequestInfo)
	return requestInfo, ok
}

func (r RequestInfo) ToZapFields() []logger.Field {
	fields := []logger.Field{logger.String("request_id", r.RequestID)}
	if r.ClientID != "" {
		fields = append(fields, logger.String("client_id", r.ClientID))
	}
	return fields
}
