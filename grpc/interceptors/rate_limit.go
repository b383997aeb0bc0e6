package interceptors

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
)

// MethodRateLimiter keeps one token bucket per method.
type MethodRateLimiter struct {
	limit     rate.Limit
	burst     int
	overrides map[string]*rate.Limiter

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

type RateLimitOption func(*MethodRateLimiter)

// WithMethodLimit gives a method its own rate instead of the default.
func WithMethodLimit(fullMethod string, limit rate.Limit, burst int) RateLimitOption {
	return func(l *MethodRateLimiter) {
		l.overrides[fullMethod] = rate.NewLimiter(limit, burst)
	}
}

// NewMethodRateLimiter allows limit calls per second with the given burst on every method.
func NewMethodRateLimiter(limit rate.Limit, burst int, opts ...RateLimitOption) *MethodRateLimiter {
	l := &MethodRateLimiter{
		limit:     limit,
		burst:     burst,
		overrides: map[string]*rate.Limiter{},
		limiters:  map[string]*rate.Limiter{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a call to fullMethod may proceed now.
func (l *MethodRateLimiter) Allow(fullMethod string) bool {
	if limiter, ok := l.overrides[fullMethod]; ok {
		return limiter.Allow()
	}

	l.mu.Lock()
	limiter, ok := l.limiters[fullMethod]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[fullMethod] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

// UnaryRateLimitServerInterceptor rejects calls over the limit with a rate-limited error.
func UnaryRateLimitServerInterceptor(l *MethodRateLimiter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !l.Allow(info.FullMethod) {
			return nil, apperrors.New(apperrors.KindRateLimited, "too many requests",
				apperrors.WithMetadataValue("method", info.FullMethod))
		}
		return handler(ctx, req)
	}
}
