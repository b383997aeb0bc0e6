package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/rainbow-me/service-runtime/common/headers"
)

const UpstreamServiceHeaderKey = headers.HeaderClientTaggingHeader

// UnaryUpstreamInfoClientInterceptor tags every outbound call with the calling service name.
func UnaryUpstreamInfoClientInterceptor(serverName string) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		serviceName := serverName
		if serviceName == "" {
			serviceName = serviceFromMethod(method)
		}

		ctx = metadata.AppendToOutgoingContext(ctx, UpstreamServiceHeaderKey, serviceName)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// serviceFromMethod returns "Service" for "/pkg.Service/Method".
func serviceFromMethod(method string) string {
	service, _ := GetServiceAndMethod(method)
	if i := strings.LastIndex(service, "."); i >= 0 {
		return service[i+1:]
	}
	return service
}
