package interceptors

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	grpcrecovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	"google.golang.org/grpc"

	"github.com/rainbow-me/service-runtime/common/env"
	"github.com/rainbow-me/service-runtime/common/logger"
	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
	"github.com/rainbow-me/service-runtime/observability"
)

// UnaryPanicRecoveryServerInterceptor recovers from panics in later stages and handlers,
// logs them with the stack, marks the span as failed and returns a sanitized internal
// error. The panic value never reaches the caller.
func UnaryPanicRecoveryServerInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return grpcrecovery.UnaryServerInterceptor(
		grpcrecovery.WithRecoveryHandlerContext(func(ctx context.Context, panicValue any) error {
			logPanic(ctx, panicValue, log)
			observability.SetError(ctx, "panic", apperrors.InternalMessage)

			return apperrors.New(apperrors.KindInternal, apperrors.InternalMessage)
		}),
	)
}

// logPanic prefers the call-scoped logger so the entry carries request fields.
func logPanic(ctx context.Context, panicValue any, log *logger.Logger) {
	if log == nil {
		log = logger.FromContext(ctx)
	}
	log.Error("Recovered from panic in gRPC handler", logger.WithPanic(panicValue)...)

	if env.IsLocalApplicationEnv() {
		// pretty print the stack trace to the local console to make it human-readable
		_, _ = fmt.Fprintf(os.Stderr, "%s\n", debug.Stack())
	}
}
