package interceptors_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"

	"github.com/rainbow-me/service-runtime/common/logger"
	commonmeta "github.com/rainbow-me/service-runtime/common/metadata"
	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
	"github.com/rainbow-me/service-runtime/grpc/interceptors"
)

func okHandler(context.Context, any) (any, error) { return "ok", nil }

func TestMetricsInterceptor(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := interceptors.NewMetrics("test", reg)
	require.NoError(t, err)

	// registering again against the same registry reuses the collectors
	again, err := interceptors.NewMetrics("test", reg)
	require.NoError(t, err)

	info := &grpc.UnaryServerInfo{FullMethod: "/catalog.Catalog/Get"}
	_, err = m.UnaryServerInterceptor()(context.Background(), nil, info, okHandler)
	require.NoError(t, err)
	_, err = again.UnaryServerInterceptor()(context.Background(), nil, info, func(context.Context, any) (any, error) {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "bad")
	})
	require.Error(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)

	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "test_grpc_server_handled_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "code" {
					counts[label.GetValue()] = metric.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"OK": 1, "InvalidArgument": 1}, counts)
}

func TestRateLimitInterceptor(t *testing.T) {
	limiter := interceptors.NewMethodRateLimiter(rate.Every(time.Hour), 1,
		interceptors.WithMethodLimit("/catalog.Catalog/Hot", rate.Inf, 1))
	inter := interceptors.UnaryRateLimitServerInterceptor(limiter)
	info := &grpc.UnaryServerInfo{FullMethod: "/catalog.Catalog/Get"}

	_, err := inter(context.Background(), nil, info, okHandler)
	require.NoError(t, err)

	_, err = inter(context.Background(), nil, info, okHandler)
	require.Error(t, err)
	assert.Equal(t, codes.ResourceExhausted, apperrors.Translate(err).Code)

	// limits are per method
	_, err = inter(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/catalog.Catalog/List"}, okHandler)
	require.NoError(t, err)

	for range 5 {
		_, err = inter(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/catalog.Catalog/Hot"}, okHandler)
		require.NoError(t, err)
	}
}

func TestPanicRecoveryInterceptor(t *testing.T) {
	inter := interceptors.UnaryPanicRecoveryServerInterceptor(logger.NoOp())

	_, err := inter(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/a.B/C"},
		func(context.Context, any) (any, error) {
			panic("nil map write in pricing")
		})

	require.Error(t, err)
	translated := apperrors.Translate(err)
	assert.Equal(t, codes.Internal, translated.Code)
	assert.Equal(t, apperrors.InternalMessage, translated.Message)
}

func TestServerDeadlineInterceptor(t *testing.T) {
	inter := interceptors.ServerDeadlineInterceptor(50 * time.Millisecond)

	_, err := inter(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
		return nil, nil
	})
	require.NoError(t, err)

	// a shorter caller deadline wins
	parent, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	parentDeadline, _ := parent.Deadline()
	_, err = inter(parent, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
		deadline, _ := ctx.Deadline()
		assert.Equal(t, parentDeadline, deadline)
		return nil, nil
	})
	require.NoError(t, err)
}

func TestRequestContextServerInterceptor(t *testing.T) {
	inter := interceptors.RequestContextUnaryServerInterceptor()

	t.Run("generates request id", func(t *testing.T) {
		_, err := inter(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
			info, ok := commonmeta.GetRequestInfoFromContext(ctx)
			require.True(t, ok)
			assert.NotEmpty(t, info.RequestID)

			md, ok := metadata.FromIncomingContext(ctx)
			require.True(t, ok)
			assert.Equal(t, []string{info.RequestID}, md.Get("x-request-id"))
			return nil, nil
		})
		require.NoError(t, err)
	})

	t.Run("keeps caller request id", func(t *testing.T) {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-request-id", "r-42"))
		_, err := inter(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
			info, _ := commonmeta.GetRequestInfoFromContext(ctx)
			assert.Equal(t, "r-42", info.RequestID)
			return nil, nil
		})
		require.NoError(t, err)
	})
}

func TestClientMetadataInterceptors(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		"x-request-id", "r-7",
		"authorization", "Bearer abc",
	))

	chain := interceptors.NewUnaryClientInterceptorChain()
	chain.Push("request-context", interceptors.UnaryRequestContextClientInterceptor)
	chain.Push("upstream-info", interceptors.UnaryUpstreamInfoClientInterceptor(""))

	var outgoing metadata.MD
	err := chain.Commit()(ctx, "/widgets.v1.Widgets/Get", nil, nil, nil,
		func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			outgoing, _ = metadata.FromOutgoingContext(ctx)
			return nil
		})
	require.NoError(t, err)

	assert.Equal(t, []string{"r-7"}, outgoing.Get("x-request-id"))
	assert.Equal(t, []string{"Bearer abc"}, outgoing.Get("authorization"))
	assert.Equal(t, []string{"Widgets"}, outgoing.Get(interceptors.UpstreamServiceHeaderKey))
}
