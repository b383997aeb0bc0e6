package interceptors_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rainbow-me/service-runtime/grpc/call"
	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
	"github.com/rainbow-me/service-runtime/grpc/interceptors"
	"github.com/rainbow-me/service-runtime/grpc/validation"
)

type createWidget struct {
	Name  string  `json:"name" validate:"required"`
	Price float64 `json:"price" validate:"required,gt=0"`
}

func TestValidationGate(t *testing.T) {
	const method = "/widgets.Widgets/Create"
	gate := interceptors.UnaryValidationServerInterceptor(validation.Schemas{
		method: validation.Struct[createWidget](),
	})
	info := &grpc.UnaryServerInfo{FullMethod: method}

	t.Run("stripped price never reaches the handler", func(t *testing.T) {
		req, err := structpb.NewStruct(map[string]any{"name": "bolt", "price": ""})
		require.NoError(t, err)

		calls := 0
		_, err = gate(context.Background(), req, info, func(context.Context, any) (any, error) {
			calls++
			return nil, nil
		})

		require.Error(t, err)
		translated := apperrors.Translate(err)
		assert.Equal(t, codes.InvalidArgument, translated.Code)
		assert.Contains(t, translated.Message, "price")
		assert.Equal(t, 0, calls)
	})

	t.Run("normalized request replaces the payload", func(t *testing.T) {
		req, err := structpb.NewStruct(map[string]any{"name": "bolt", "price": 2.5, "note": ""})
		require.NoError(t, err)

		ctx := call.NewContext(context.Background(), call.New(context.Background(), method, req))

		var seen any
		_, err = gate(ctx, req, info, func(ctx context.Context, req any) (any, error) {
			seen = req
			c, ok := call.FromContext(ctx)
			require.True(t, ok)
			assert.Same(t, req, c.Request)
			return "ok", nil
		})

		require.NoError(t, err)
		assert.Equal(t, &createWidget{Name: "bolt", Price: 2.5}, seen)
	})

	t.Run("methods without schema pass through", func(t *testing.T) {
		resp, err := gate(context.Background(), "raw", &grpc.UnaryServerInfo{FullMethod: "/widgets.Widgets/List"},
			func(_ context.Context, req any) (any, error) { return req, nil })
		require.NoError(t, err)
		assert.Equal(t, "raw", resp)
	})
}
