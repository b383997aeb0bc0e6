package interceptors

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"

	apperrors "github.com/rainbow-me/service-runtime/grpc/errors"
)

// Metrics records per-method call counts and latencies for inbound calls.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg. Registering twice
// against the same registry reuses the collectors already there.
func NewMetrics(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "grpc_server",
			Name:      "handled_total",
			Help:      "Total number of unary calls completed, by method and status code.",
		}, []string{"service", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "grpc_server",
			Name:      "handling_seconds",
			Help:      "Latency of unary calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service", "method"}),
	}

	var err error
	if m.calls, err = register(reg, m.calls); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, errors.Wrap(err, "register collector")
	}
	return c, nil
}

// UnaryServerInterceptor observes every call with the status code the caller receives.
func (m *Metrics) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		service, method := GetServiceAndMethod(info.FullMethod)
		start := time.Now()

		resp, err := handler(ctx, req)

		code := "OK"
		if err != nil {
			code = apperrors.Translate(err).Code.String()
		}
		m.calls.WithLabelValues(service, method, code).Inc()
		m.duration.WithLabelValues(service, method).Observe(time.Since(start).Seconds())

		return resp, err
	}
}
