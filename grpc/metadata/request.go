package metadata

import (
	"context"
	"strings"
	"time"

	"github.com/DataDog/dd-trace-go/v2/ddtrace/tracer"
	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"

	"github.com/rainbow-me/service-runtime/common/headers"
	commonmeta "github.com/rainbow-me/service-runtime/common/metadata"
)

// Parser extracts commonmeta.RequestInfo from gRPC metadata
type Parser struct {
	newID func() string
	now   func() time.Time
}

type ParserOption func(*Parser)

// WithIDGenerator replaces the UUID v4 request id generator.
func WithIDGenerator(f func() string) ParserOption {
	return func(p *Parser) {
		p.newID = f
	}
}

// NewRequestParser creates a new metadata parser
func NewRequestParser(opts ...ParserOption) *Parser {
	p := &Parser{
		newID: func() string { return uuid.New().String() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseMetadata extracts RequestInfo from the incoming metadata. A request id is
// generated only when the caller sent none; in that case it is also written into the
// incoming metadata of the returned context so later stages and outbound calls see it.
func (p *Parser) ParseMetadata(ctx context.Context) (context.Context, commonmeta.RequestInfo) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		md = metadata.MD{}
	}

	info := commonmeta.RequestInfo{
		RequestTime: p.now().Format(time.RFC3339),
		RequestID:   GetFirst(md, headers.HeaderXRequestID),
		ClientID:    GetFirst(md, headers.HeaderClientTaggingHeader),
	}

	if span, ok := tracer.SpanFromContext(ctx); ok {
		info.TraceID = span.Context().TraceID()
	}

	if authHeader := GetFirst(md, headers.HeaderAuthorization); authHeader != "" {
		info.HasAuth = true
		info.AuthType = extractAuthType(authHeader)
	}

	if info.RequestID == "" {
		info.RequestID = p.newID()
		updated := md.Copy()
		updated.Set(headers.HeaderXRequestID, info.RequestID)
		ctx = metadata.NewIncomingContext(ctx, updated)
	}

	return ctx, info
}

func extractAuthType(authHeader string) string {
	authHeader = strings.ToLower(authHeader)

	switch {
	case strings.HasPrefix(authHeader, "bearer "):
		return "Bearer"
	case strings.HasPrefix(authHeader, "basic "):
		return "Basic"
	case strings.HasPrefix(authHeader, "apikey "):
		return "ApiKey"
	default:
		return "Unknown"
	}
}

// GetFirst returns the first value for a metadata key, or an empty string if not present.
func GetFirst(md metadata.MD, key string) string {
	val := md.Get(key)
	if len(val) > 0 {
		return val[0]
	}
	return ""
}
