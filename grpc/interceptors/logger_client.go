package interceptors

import (
	"context"

	"google.golang.org/grpc"

	"github.com/rainbow-me/service-runtime/common/logger"
)

// UnaryLoggerClientInterceptor creates a gRPC unary client interceptor that logs
// the outcome of outgoing requests with timing and context information. Only the
// "client.request.completed" line is written unless LogReceived(true) is passed.
func UnaryLoggerClientInterceptor(log *logger.Logger, opts ...LoggingInterceptorOption) grpc.UnaryClientInterceptor {
	config := interceptorConfig(append([]LoggingInterceptorOption{LogReceived(false)}, opts...)...)

	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		_, err := logWithContext(
			ctx,
			"client.request",
			method,
			config,
			log,
			req,
			func(ctx context.Context) (any, error) {
				err := invoker(ctx, method, req, reply, cc, opts...)
				return reply, err
			},
		)
		return err
	}
}
