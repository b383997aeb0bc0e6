package service_test

import (
	"context"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/rainbow-me/service-runtime/common/logger"
	"github.com/rainbow-me/service-runtime/grpc/auth"
	"github.com/rainbow-me/service-runtime/grpc/call"
	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
	"github.com/rainbow-me/service-runtime/grpc/interceptors"
	"github.com/rainbow-me/service-runtime/grpc/service"
	"github.com/rainbow-me/service-runtime/grpc/validation"
)

const serviceName = "catalog.v1.Catalog"

// serve registers r on an in-memory server and returns a connected client.
func serve(t *testing.T, r *service.Registrar, opts ...grpc.ServerOption) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(opts...)
	r.Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func TestRegistrarRoundTrip(t *testing.T) {
	r := service.NewRegistrar(serviceName, nil)
	want := mustStruct(t, map[string]any{"id": "p-1", "name": "lamp", "price": 12.5})
	r.Handle("Get", func(context.Context, any) (any, error) {
		return want, nil
	})

	conn := serve(t, r)
	got := &structpb.Struct{}
	err := conn.Invoke(context.Background(), r.FullMethod("Get"), &structpb.Struct{}, got)
	require.NoError(t, err)
	assert.True(t, proto.Equal(want, got), "got %v", got)
}

func TestRegistrarTranslatesErrors(t *testing.T) {
	r := service.NewRegistrar(serviceName, nil, service.WithLogger(logger.NoOp()))
	r.HandleAll(map[string]grpc.UnaryHandler{
		"Leak": func(context.Context, any) (any, error) {
			return nil, fmt.Errorf("pq: relation %q does not exist", "products")
		},
		"Typed": func(context.Context, any) (any, error) {
			return nil, apperrors.NewWithCode(codes.AlreadyExists, "product-exists", "product already exists",
				apperrors.WithMetadataValue("id", "p-1"))
		},
		"Nothing": func(context.Context, any) (any, error) {
			return nil, nil
		},
		"Panic": func(context.Context, any) (any, error) {
			panic("secret db password=hunter2")
		},
	})
	conn := serve(t, r)

	tests := []struct {
		method   string
		code     codes.Code
		message  string
		kind     apperrors.Kind
		metadata map[string]string
	}{
		{"Leak", codes.Internal, apperrors.InternalMessage, apperrors.KindInternal, nil},
		{"Typed", codes.AlreadyExists, "product already exists", "product-exists", map[string]string{"id": "p-1"}},
		{"Nothing", codes.Internal, "call completed without a result", apperrors.KindNoResult, nil},
		{"Panic", codes.Internal, apperrors.InternalMessage, apperrors.KindInternal, nil},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			err := conn.Invoke(context.Background(), r.FullMethod(tt.method), &structpb.Struct{}, &structpb.Struct{})
			require.Error(t, err)

			st := status.Convert(err)
			assert.Equal(t, tt.code, st.Code())
			assert.Equal(t, tt.message, st.Message())

			parsed, ok := apperrors.FromStatusError(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, parsed.Kind)
			assert.Equal(t, tt.metadata, parsed.Metadata)
		})
	}
}

func TestRegistrarRecoversHandlerPanic(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := service.NewRegistrar(serviceName, nil, service.WithLogger(logger.NewLogger(zap.New(core))))
	r.Handle("Explode", func(context.Context, any) (any, error) {
		panic("secret db password=hunter2")
	})
	r.Handle("Ok", func(context.Context, any) (any, error) { return wrapperspb.String("fine"), nil })

	// a bare server has no recovery interceptor of its own
	conn := serve(t, r)
	err := conn.Invoke(context.Background(), r.FullMethod("Explode"), &structpb.Struct{}, &structpb.Struct{})
	require.Error(t, err)

	st := status.Convert(err)
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, apperrors.InternalMessage, st.Message())
	assert.NotContains(t, st.Message(), "hunter2")

	entries := logs.FilterMessage("recovered from panic in call").All()
	require.Len(t, entries, 1)
	assert.Equal(t, r.FullMethod("Explode"), entries[0].ContextMap()["full_method"])
	assert.Equal(t, "secret db password=hunter2", entries[0].ContextMap()[logger.PanicValueKey])

	// the server keeps serving after a panic
	got := &wrapperspb.StringValue{}
	require.NoError(t, conn.Invoke(context.Background(), r.FullMethod("Ok"), &structpb.Struct{}, got))
	assert.Equal(t, "fine", got.GetValue())
}

func TestRegistrarOverwrite(t *testing.T) {
	r := service.NewRegistrar(serviceName, nil)
	r.Handle("Version", func(context.Context, any) (any, error) { return wrapperspb.String("v1"), nil })
	r.Handle("Version", func(context.Context, any) (any, error) { return wrapperspb.String("v2"), nil })
	assert.Len(t, r.ServiceDesc().Methods, 1)

	conn := serve(t, r)
	got := &wrapperspb.StringValue{}
	require.NoError(t, conn.Invoke(context.Background(), r.FullMethod("Version"), &structpb.Struct{}, got))
	assert.Equal(t, "v2", got.GetValue())

	// later registrations still replace the live handler
	r.Handle("Version", func(context.Context, any) (any, error) { return wrapperspb.String("v3"), nil })
	require.NoError(t, conn.Invoke(context.Background(), r.FullMethod("Version"), &structpb.Struct{}, got))
	assert.Equal(t, "v3", got.GetValue())
}

func TestRegistrarTypedRequest(t *testing.T) {
	r := service.NewRegistrar(serviceName, nil)
	r.Handle("Upper", service.Typed(func(_ context.Context, req *wrapperspb.StringValue) (*wrapperspb.StringValue, error) {
		return wrapperspb.String(req.GetValue() + "!"), nil
	}), service.WithRequestType(func() proto.Message { return &wrapperspb.StringValue{} }))

	conn := serve(t, r)
	got := &wrapperspb.StringValue{}
	require.NoError(t, conn.Invoke(context.Background(), r.FullMethod("Upper"), wrapperspb.String("hi"), got))
	assert.Equal(t, "hi!", got.GetValue())
}

type createProduct struct {
	Name  string  `json:"name" validate:"required"`
	Price float64 `json:"price" validate:"required,gt=0"`
}

func TestRegistrarServicePipeline(t *testing.T) {
	calls := 0
	var trace []string
	pipeline := interceptors.NewServicePipeline(interceptors.PipelineConfig{
		Logger: logger.NoOp(),
		Schemas: validation.Schemas{
			"/" + serviceName + "/Create": validation.Struct[createProduct](),
		},
	})
	require.True(t, pipeline.InsertBefore("logger", "trace", func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		c, ok := call.FromContext(ctx)
		require.True(t, ok)
		trace = append(trace, "in:"+c.Method)
		resp, err := next(ctx, req)
		trace = append(trace, "out")
		return resp, err
	}))

	r := service.NewRegistrar(serviceName, pipeline)
	r.Handle("Create", service.Typed(func(_ context.Context, req *createProduct) (*structpb.Struct, error) {
		calls++
		return structpb.NewStruct(map[string]any{"name": req.Name, "price": req.Price})
	}))
	conn := serve(t, r)

	t.Run("invalid request never reaches the handler", func(t *testing.T) {
		err := conn.Invoke(context.Background(), r.FullMethod("Create"),
			mustStruct(t, map[string]any{"name": "lamp", "price": ""}), &structpb.Struct{})
		require.Error(t, err)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		assert.Contains(t, status.Convert(err).Message(), "price")
		assert.Equal(t, 0, calls)
	})

	t.Run("valid request is normalized", func(t *testing.T) {
		got := &structpb.Struct{}
		err := conn.Invoke(context.Background(), r.FullMethod("Create"),
			mustStruct(t, map[string]any{"name": "lamp", "price": 3, "image": "aGVsbG8="}), got)
		require.NoError(t, err)
		assert.Equal(t, 1, calls)
		assert.Equal(t, "lamp", got.GetFields()["name"].GetStringValue())
	})

	assert.Equal(t, []string{
		"in:/" + serviceName + "/Create", "out",
		"in:/" + serviceName + "/Create", "out",
	}, trace)
}

func TestRegistrarAuthOverTheWire(t *testing.T) {
	authCfg, err := auth.NewConfig()
	require.NoError(t, err)
	verifier, err := auth.NewJWTVerifier("secret")
	require.NoError(t, err)

	pipeline := interceptors.NewUnaryServerInterceptorChain()
	pipeline.Push("auth", interceptors.UnaryAuthServerInterceptor(authCfg, verifier,
		auth.IdentityStoreFunc(func(context.Context, string) (bool, error) { return true, nil })))

	calls := 0
	r := service.NewRegistrar(serviceName, pipeline)
	r.Handle("Create", func(context.Context, any) (any, error) {
		calls++
		return &structpb.Struct{}, nil
	})
	conn := serve(t, r)

	err = conn.Invoke(context.Background(), r.FullMethod("Create"), &structpb.Struct{}, &structpb.Struct{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer not.a.jwt")
	err = conn.Invoke(ctx, r.FullMethod("Create"), &structpb.Struct{}, &structpb.Struct{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	parsed, ok := apperrors.FromStatusError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.KindCredentialInvalid, parsed.Kind)

	assert.Equal(t, 0, calls)
}

func TestRegistrarRunsServerInterceptorOutside(t *testing.T) {
	var order []string
	outer := func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		order = append(order, "server:"+info.FullMethod)
		resp, err := handler(ctx, req)
		// the server-level chain sees the already translated error
		if err != nil {
			order = append(order, string(apperrors.KindOf(err)))
		}
		return resp, err
	}

	r := service.NewRegistrar(serviceName, nil)
	r.Handle("Fail", func(context.Context, any) (any, error) { return nil, fmt.Errorf("boom") })
	conn := serve(t, r, grpc.UnaryInterceptor(outer))

	err := conn.Invoke(context.Background(), r.FullMethod("Fail"), &structpb.Struct{}, &structpb.Struct{})
	require.Error(t, err)
	assert.Equal(t, []string{"server:/" + serviceName + "/Fail", string(apperrors.KindInternal)}, order)
}
