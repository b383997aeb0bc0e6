package gin

import (
	"time"

	"github.com/gin-gonic/gin"
)

const (
	httpHandlerOp = "http.handler"
	componentName = "gin"
)

type interceptorCfg struct {
	TracingEnabled     bool
	RequestInfoEnabled bool
	HTTPDebug          bool
	HTTPTrace          bool
	Timeout            time.Duration
	SkippedPaths       map[string]bool
}

type InterceptorOpt func(cfg *interceptorCfg)

// WithRequestInfoEnabled enables/disables request id handling. Default is enabled.
func WithRequestInfoEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.RequestInfoEnabled = enabled
	}
}

// WithTimeout sets the http handler timeout. Default is 1 minute.
func WithTimeout(timeout time.Duration) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.Timeout = timeout
	}
}

// WithTracingEnabled enables/disables tracing. Default is enabled.
func WithTracingEnabled(enabled bool) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.TracingEnabled = enabled
	}
}

// WithHTTPDebug enables printing log line with request info and duration for every request
func WithHTTPDebug() InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.HTTPDebug = true
	}
}

// WithHTTPTrace enables deeper http debugging by also printing the whole request and response body
func WithHTTPTrace() InterceptorOpt {
	return func(cfg *interceptorCfg) {
		cfg.HTTPDebug = true
		cfg.HTTPTrace = true
	}
}

// WithSkippedPaths disables request logging and tracing for the given routes,
// typically probes and metric scrapes.
func WithSkippedPaths(paths ...string) InterceptorOpt {
	return func(cfg *interceptorCfg) {
		for _, p := range paths {
			cfg.SkippedPaths[p] = true
		}
	}
}

// DefaultInterceptors returns all our default interceptors for Gin servers.
// Defaults can be changed by passing any of the WithXXX options.
func DefaultInterceptors(opts ...InterceptorOpt) []gin.HandlerFunc {
	cfg := &interceptorCfg{
		TracingEnabled:     true,
		RequestInfoEnabled: true,
		Timeout:            time.Minute,
		SkippedPaths:       map[string]bool{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	middlewares := []gin.HandlerFunc{
		RequestLogging(loggingCfg{
			debug:   cfg.HTTPDebug,
			trace:   cfg.HTTPTrace,
			skipped: cfg.SkippedPaths,
		}),
		PanicRecoveryMiddleware,
		ErrorHandlingMiddleware,
	}
	if cfg.TracingEnabled {
		middlewares = append(middlewares, TracingMiddleware(cfg.SkippedPaths))
	}
	if cfg.RequestInfoEnabled {
		middlewares = append(middlewares, RequestInfoMiddleware)
	}
	if cfg.Timeout > 0 {
		middlewares = append(middlewares, TimeoutMiddleware(cfg.Timeout))
	}

	return middlewares
}
