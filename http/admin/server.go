// Package admin serves the operational HTTP endpoints next to a gRPC service:
// /healthz for probes and /metrics for Prometheus scrapes.
package admin

import (
	"context"
	"maps"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rainbow-me/service-runtime/common/logger"
	ginint "github.com/rainbow-me/service-runtime/http/interceptors/gin"
)

const (
	HealthPath  = "/healthz"
	MetricsPath = "/metrics"

	defaultShutdownTimeout = 10 * time.Second
)

// Check reports whether one dependency is healthy.
type Check func(ctx context.Context) error

type Server struct {
	engine   *gin.Engine
	handler  http.Handler
	gatherer prometheus.Gatherer

	mu     sync.RWMutex
	checks map[string]Check

	interceptorOpts []ginint.InterceptorOpt
	shutdownTimeout time.Duration
}

type Option func(*Server)

// WithGatherer selects the registry exposed on /metrics. Defaults to prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithCheck adds a named health check.
func WithCheck(name string, check Check) Option {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithInterceptorOptions customizes the gin middleware stack.
func WithInterceptorOptions(opts ...ginint.InterceptorOpt) Option {
	return func(s *Server) {
		s.interceptorOpts = append(s.interceptorOpts, opts...)
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		gatherer:        prometheus.DefaultGatherer,
		checks:          map[string]Check{},
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	middlewares := ginint.DefaultInterceptors(append(
		[]ginint.InterceptorOpt{ginint.WithSkippedPaths(HealthPath, MetricsPath)},
		s.interceptorOpts...,
	)...)
	s.engine.Use(middlewares...)

	s.engine.GET(HealthPath, s.health)
	s.engine.GET(MetricsPath, gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	s.handler = handlers.CompressHandler(s.engine)
	return s
}

// AddCheck registers a health check after construction, e.g. once a dependency is dialed.
func (s *Server) AddCheck(name string, check Check) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Engine exposes the router so services can mount extra admin routes.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) health(c *gin.Context) {
	s.mu.RLock()
	checks := maps.Clone(s.checks)
	s.mu.RUnlock()

	failures := gin.H{}
	for _, name := range slices.Sorted(maps.Keys(checks)) {
		if err := checks[name](c.Request.Context()); err != nil {
			failures[name] = err.Error()
		}
	}

	if len(failures) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": failures})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListenAndRun serves on addr until ctx is cancelled.
func (s *Server) ListenAndRun(ctx context.Context, addr string, log *logger.Logger) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Run(ctx, lis, log)
}

// Run serves on lis until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, lis net.Listener, log *logger.Logger) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(lis)
	}()
	log.Info("admin server started", logger.String("address", lis.Addr().String()))

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "admin server stopped")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "admin server shutdown")
	}
	return nil
}
