package interceptors

import (
	"context"

	"google.golang.org/grpc"

	"github.com/rainbow-me/service-runtime/grpc/validation"
)

// UnaryValidationServerInterceptor validates the request of every method that has a
// schema. The normalized request replaces the original for the rest of the chain and
// the handler; an invalid request never reaches the handler.
func UnaryValidationServerInterceptor(schemas validation.Schemas) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		schema, ok := schemas[info.FullMethod]
		if !ok {
			return handler(ctx, req)
		}

		normalized, err := schema.Validate(req)
		if err != nil {
			return nil, err
		}

		ctx, c := callFromContext(ctx, normalized, info)
		c.Request = normalized

		return handler(ctx, normalized)
	}
}
