package interceptors

import (
	"context"

	"google.golang.org/grpc"

	"github.com/rainbow-me/service-runtime/common/logger"
)

// UnaryLoggerServerInterceptor creates a gRPC unary server interceptor that writes a
// "server.request.received" line with the sanitized request before the handler runs and
// a "server.request.completed" line with the duration and resulting status afterwards.
func UnaryLoggerServerInterceptor(log *logger.Logger, opts ...LoggingInterceptorOption) grpc.UnaryServerInterceptor {
	config := interceptorConfig(opts...)

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		return logWithContext(
			ctx,
			"server.request",
			info.FullMethod,
			config,
			log,
			req,
			func(ctx context.Context) (any, error) {
				return handler(ctx, req)
			},
		)
	}
}
