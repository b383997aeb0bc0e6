package interceptors

import (
	"context"

	"google.golang.org/grpc"

	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
	"github.com/rainbow-me/service-runtime/observability"
)

// UnaryErrorServerInterceptor tags the active span with the status and kind the caller
// will observe for a failed call. The error itself is returned unchanged.
func UnaryErrorServerInterceptor(
	ctx context.Context,
	req any,
	_ *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler,
) (any, error) {
	resp, err := handler(ctx, req)
	if err != nil {
		setErrorSpan(ctx, err)
	}
	return resp, err
}

func setErrorSpan(ctx context.Context, err error) {
	translated := apperrors.Translate(err)

	observability.SetError(ctx, string(translated.Kind), translated.Message)
	observability.SetTag(ctx, "rpc.grpc.status_code", int(translated.Code))
	observability.SetTag(ctx, "rpc.grpc.status_message", translated.Message)
	for k, v := range translated.Metadata {
		observability.SetTag(ctx, "error.metadata."+k, v)
	}
}
