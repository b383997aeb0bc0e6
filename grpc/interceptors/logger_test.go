package interceptors_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rainbow-me/service-runtime/common/logger"
	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
	"github.com/rainbow-me/service-runtime/grpc/interceptors"
)

func fieldJSON(t *testing.T, entry observer.LoggedEntry, key string) string {
	t.Helper()
	for _, f := range entry.Context {
		if f.Key == key {
			b, err := json.Marshal(f.Interface)
			require.NoError(t, err)
			return string(b)
		}
	}
	t.Fatalf("field %q not logged", key)
	return ""
}

func TestLoggerRedactsAndTimesCalls(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	inter := interceptors.UnaryLoggerServerInterceptor(logger.NewLogger(zap.New(core)))

	req, err := structpb.NewStruct(map[string]any{
		"name":  "lamp",
		"image": "aGVsbG8=",
		"files": []any{"a", "b"},
		"meta":  map[string]any{"file": "secret-bytes"},
	})
	require.NoError(t, err)

	resp, err := inter(context.Background(), req, &grpc.UnaryServerInfo{FullMethod: "/catalog.Catalog/Create"},
		func(ctx context.Context, _ any) (any, error) {
			logger.FromContext(ctx).Info("inside handler")
			return "done", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "done", resp)

	received := logs.FilterMessage("server.request.received").All()
	require.Len(t, received, 1)
	logged := fieldJSON(t, received[0], "request")
	assert.Contains(t, logged, "lamp")
	assert.Contains(t, logged, "<redacted>")
	assert.NotContains(t, logged, "aGVsbG8=")
	assert.NotContains(t, logged, "secret-bytes")
	assert.Equal(t, "Create", received[0].ContextMap()["method"])

	// the payload passed to the handler is untouched
	assert.Equal(t, "aGVsbG8=", req.GetFields()["image"].GetStringValue())

	inside := logs.FilterMessage("inside handler").All()
	require.Len(t, inside, 1)
	assert.Equal(t, "catalog.Catalog", inside[0].ContextMap()["service"])

	completed := logs.FilterMessage("server.request.completed").All()
	require.Len(t, completed, 1)
	assert.Contains(t, completed[0].ContextMap(), "duration")
	assert.Equal(t, "OK", completed[0].ContextMap()["status"])
}

func TestLoggerRedactsMapPayloadLists(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	inter := interceptors.UnaryLoggerServerInterceptor(logger.NewLogger(zap.New(core)))

	req := map[string]any{
		"title": "gallery",
		"attachments": []any{
			map[string]any{"name": "cover", "image": "aGVsbG8="},
			[]any{map[string]any{"files": "bmVzdGVk"}},
		},
	}

	_, err := inter(context.Background(), req, &grpc.UnaryServerInfo{FullMethod: "/catalog.Catalog/Upload"},
		func(context.Context, any) (any, error) { return "ok", nil })
	require.NoError(t, err)

	received := logs.FilterMessage("server.request.received").All()
	require.Len(t, received, 1)
	logged := fieldJSON(t, received[0], "request")
	assert.Contains(t, logged, "cover")
	assert.NotContains(t, logged, "aGVsbG8=")
	assert.NotContains(t, logged, "bmVzdGVk")

	attachments := req["attachments"].([]any)
	assert.Equal(t, "aGVsbG8=", attachments[0].(map[string]any)["image"])
}

func TestLoggerReportsTranslatedStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	inter := interceptors.UnaryLoggerServerInterceptor(logger.NewLogger(zap.New(core)),
		interceptors.LogRequests(false))

	_, err := inter(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/catalog.Catalog/Get"},
		func(context.Context, any) (any, error) {
			return nil, errors.New("db exploded")
		})
	require.Error(t, err)

	completed := logs.FilterMessage("server.request.completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, zapcore.WarnLevel, completed[0].Level)
	assert.Equal(t, "Internal", completed[0].ContextMap()["status"])
	assert.Equal(t, string(apperrors.KindInternal), completed[0].ContextMap()["error_kind"])
	assert.Equal(t, "db exploded", completed[0].ContextMap()["error"])

	received := logs.FilterMessage("server.request.received").All()
	require.Len(t, received, 1)
	assert.NotContains(t, received[0].ContextMap(), "request")
}

func TestLoggerSkipsMethods(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	inter := interceptors.UnaryLoggerServerInterceptor(logger.NewLogger(zap.New(core)),
		interceptors.WithSkippedLogsByMethods("/grpc.health.v1.Health/Check"))

	_, err := inter(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"},
		func(context.Context, any) (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, 0, logs.Len())
}

func TestGetServiceAndMethod(t *testing.T) {
	service, method := interceptors.GetServiceAndMethod("/catalog.v1.Catalog/GetProduct")
	assert.Equal(t, "catalog.v1.Catalog", service)
	assert.Equal(t, "GetProduct", method)

	service, method = interceptors.GetServiceAndMethod("broken")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "broken", method)
}
