package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
)

// ServerDeadlineInterceptor caps the time any inbound call may run.
// The earliest deadline wins: a caller deadline shorter than timeout is kept.
//
// Usage:
//
//	interceptor := ServerDeadlineInterceptor(30 * time.Second)
//	server := grpc.NewServer(grpc.UnaryInterceptor(interceptor))
func ServerDeadlineInterceptor(timeout time.Duration) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context, req any,
		_ *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		return handler(ctxWithTimeout, req)
	}
}
