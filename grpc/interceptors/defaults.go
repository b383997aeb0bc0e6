package interceptors

import (
	"time"

	grpctrace "github.com/DataDog/dd-trace-go/contrib/google.golang.org/grpc/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"

	"github.com/rainbow-me/service-runtime/common/logger"
	"github.com/rainbow-me/service-runtime/grpc/auth"
	"github.com/rainbow-me/service-runtime/grpc/validation"
)

const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
)

// Config holds essential configuration options for the server interceptor chain.
// Uses sensible defaults and can be customized with functional options.
type Config struct {
	// Core settings
	RequestTimeout time.Duration
	Environment    string
	ServiceName    string

	// Feature flags
	PanicRecoveryEnabled bool

	// Optional infrastructure; nil disables the stage.
	Metrics     *Metrics
	RateLimiter *MethodRateLimiter
}

// ConfigOption is a functional option for configuring the interceptor chain
type ConfigOption func(*Config)

// WithRequestTimeout sets the server-side request timeout duration
func WithRequestTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = timeout
	}
}

// WithPanicRecovery enables or disables panic recovery interceptor
func WithPanicRecovery(enabled bool) ConfigOption {
	return func(c *Config) {
		c.PanicRecoveryEnabled = enabled
	}
}

// WithMetrics records call metrics through m.
func WithMetrics(m *Metrics) ConfigOption {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithPrometheusRegistry registers server metrics on reg. Registration failures are
// logged and leave metrics disabled.
func WithPrometheusRegistry(reg prometheus.Registerer, log *logger.Logger) ConfigOption {
	return func(c *Config) {
		m, err := NewMetrics("", reg)
		if err != nil {
			log.Warn("server metrics disabled", logger.Error(err))
			return
		}
		c.Metrics = m
	}
}

// WithRateLimiter rejects calls over the limiter's per-method rate.
func WithRateLimiter(l *MethodRateLimiter) ConfigOption {
	return func(c *Config) {
		c.RateLimiter = l
	}
}

// NewConfig creates a new configuration with sensible defaults
func NewConfig(serviceName, environment string, opts ...ConfigOption) *Config {
	config := &Config{
		RequestTimeout:       30 * time.Second,
		ServiceName:          serviceName,
		Environment:          environment,
		PanicRecoveryEnabled: true,
	}

	for _, opt := range opts {
		opt(config)
	}

	return config
}

// NewDefaultServerUnaryChain creates the infrastructure chain installed on the grpc.Server
// itself: deadline, tracing, request context, metrics, error span tagging, optional rate
// limiting and panic recovery. It carries no business policy; that lives in the per-service
// pipeline built by NewServicePipeline.
//
// Example usage:
//
//	chain := NewDefaultServerUnaryChain("catalog", "production", log,
//	    WithRequestTimeout(60*time.Second),
//	    WithPrometheusRegistry(prometheus.DefaultRegisterer, log),
//	)
func NewDefaultServerUnaryChain(
	serviceName,
	environment string,
	log *logger.Logger,
	opts ...ConfigOption,
) *UnaryServerInterceptorChain {
	cfg := NewConfig(serviceName, environment, opts...)

	chain := NewUnaryServerInterceptorChain()

	if cfg.RequestTimeout > 0 {
		chain.Push("server-deadline", ServerDeadlineInterceptor(cfg.RequestTimeout))
	}

	chain.Push("trace", grpctrace.UnaryServerInterceptor(
		grpctrace.WithService(cfg.ServiceName),
		grpctrace.WithAnalytics(true),
		grpctrace.WithMetadataTags(),
		grpctrace.WithUntracedMethods(healthCheckMethod),
	))

	chain.Push("request-context", RequestContextUnaryServerInterceptor())

	if cfg.Metrics != nil {
		chain.Push("metrics", cfg.Metrics.UnaryServerInterceptor())
	}

	chain.Push("errors", UnaryErrorServerInterceptor)

	if cfg.RateLimiter != nil {
		chain.Push("rate-limit", UnaryRateLimitServerInterceptor(cfg.RateLimiter))
	}

	if cfg.PanicRecoveryEnabled {
		chain.Push("panic-recovery", UnaryPanicRecoveryServerInterceptor(log))
	}

	return chain
}

// PipelineConfig describes the per-service gates.
type PipelineConfig struct {
	Logger         *logger.Logger
	LoggingOptions []LoggingInterceptorOption

	Auth     *auth.Config
	Verifier auth.Verifier
	Store    auth.IdentityStore

	Schemas validation.Schemas
}

// NewServicePipeline builds the chain every registered handler runs behind:
// logger -> auth -> roles -> validation. Gates whose dependencies are not configured
// are left out; ids are "logger", "auth", "roles" and "validation" so callers can
// insert their own middleware around them.
func NewServicePipeline(cfg PipelineConfig) *UnaryServerInterceptorChain {
	chain := NewUnaryServerInterceptorChain()

	loggingOptions := append([]LoggingInterceptorOption{
		WithSkippedLogsByMethods(healthCheckMethod),
		GrpcCodeLogLevel(map[codes.Code]zapcore.Level{ //nolint:exhaustive
			codes.Canceled:         zapcore.WarnLevel,
			codes.InvalidArgument:  zapcore.InfoLevel,
			codes.NotFound:         zapcore.InfoLevel,
			codes.Unauthenticated:  zapcore.InfoLevel,
			codes.PermissionDenied: zapcore.InfoLevel,
		}),
	}, cfg.LoggingOptions...)
	chain.Push("logger", UnaryLoggerServerInterceptor(cfg.Logger, loggingOptions...))

	if cfg.Auth != nil && cfg.Verifier != nil && cfg.Store != nil {
		chain.Push("auth", UnaryAuthServerInterceptor(cfg.Auth, cfg.Verifier, cfg.Store))
		chain.Push("roles", UnaryRoleServerInterceptor(cfg.Auth))
	}

	if len(cfg.Schemas) > 0 {
		chain.Push("validation", UnaryValidationServerInterceptor(cfg.Schemas))
	}

	return chain
}

// NewDefaultClientUnaryChain creates the interceptor chain installed on every outbound connection.
func NewDefaultClientUnaryChain(
	serviceName string,
	log *logger.Logger,
	loggerOpts ...LoggingInterceptorOption,
) *UnaryClientInterceptorChain {
	chain := NewUnaryClientInterceptorChain()
	chain.Push("tracer", grpctrace.UnaryClientInterceptor(
		grpctrace.WithService(serviceName),
		grpctrace.WithAnalytics(true),
	))

	// Added after trace so that a current span is active.
	chain.Push("request-context", UnaryRequestContextClientInterceptor)
	chain.Push("upstream-info", UnaryUpstreamInfoClientInterceptor(serviceName))
	chain.Push("logger", UnaryLoggerClientInterceptor(log, loggerOpts...))

	return chain
}
