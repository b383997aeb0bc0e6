package grpcserver

import (
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	grpcmiddleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/rainbow-me/service-runtime/common/logger"
	"github.com/rainbow-me/service-runtime/grpc/interceptors"
)

const (
	// DefaultGRPCMaxMsgSize defines the default gRPC max message size in
	// bytes the server can receive or send.
	DefaultGRPCMaxMsgSize = 1024 * 1024 * 10 // 10MB

	// DefaultShutdownTimeout bounds GracefulStop before in-flight calls are cut.
	DefaultShutdownTimeout = 15 * time.Second
)

// Server is a grpc.Server with the standard health service attached.
type Server struct {
	*grpc.Server
	health          *health.Server
	shutdownTimeout time.Duration
}

// NewServerWithCustomInterceptorChain creates a gRPC server whose unary calls all pass
// through unaryChain, with message limits, keepalive, reflection and the health service
// configured. serverOptions are applied last and may override any of the defaults.
//
// Example usage:
//
//	chain := interceptors.NewDefaultServerUnaryChain("catalog", "production", log)
//	srv := grpcserver.NewServerWithCustomInterceptorChain(chain)
//	registrar.Register(srv)
//	err := srv.ListenAndRun(ctx, ":50051", log)
func NewServerWithCustomInterceptorChain(
	unaryChain *interceptors.UnaryServerInterceptorChain,
	serverOptions ...grpc.ServerOption,
) *Server {
	var chainedUnaryInterceptor grpc.UnaryServerInterceptor
	if unaryChain != nil {
		chainedUnaryInterceptor = grpcmiddleware.ChainUnaryServer(unaryChain.Commit())
	} else {
		chainedUnaryInterceptor = func(
			ctx context.Context,
			req any,
			_ *grpc.UnaryServerInfo,
			handler grpc.UnaryHandler,
		) (any, error) {
			return handler(ctx, req)
		}
	}

	unknownHandler := func(_ any, _ grpc.ServerStream) error {
		return status.Error(codes.Unimplemented, "Unknown route")
	}

	baseServerOptions := []grpc.ServerOption{
		grpc.UnaryInterceptor(chainedUnaryInterceptor),
		grpc.UnknownServiceHandler(unknownHandler),
		grpc.MaxRecvMsgSize(DefaultGRPCMaxMsgSize),
		grpc.MaxSendMsgSize(DefaultGRPCMaxMsgSize),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second, // Ping every 30s if no activity.
			Timeout: 10 * time.Second, // Wait 10s for ping ack.
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	baseServerOptions = append(baseServerOptions, serverOptions...)

	s := &Server{
		Server:          grpc.NewServer(baseServerOptions...),
		health:          health.NewServer(),
		shutdownTimeout: DefaultShutdownTimeout,
	}
	healthpb.RegisterHealthServer(s.Server, s.health)
	reflection.Register(s.Server)

	return s
}

// SetServing reports service ("" for the whole server) through the health service.
func (s *Server) SetServing(service string, serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(service, st)
}

// ListenAndRun listens on addr and runs the server until ctx is cancelled.
func (s *Server) ListenAndRun(ctx context.Context, addr string, log *logger.Logger) error {
	var lc net.ListenConfig
	lis, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Run(ctx, lis, log)
}

// Run serves on lis until ctx is cancelled, then drains in-flight calls.
// Every registered service is marked serving once the server starts.
func (s *Server) Run(ctx context.Context, lis net.Listener, log *logger.Logger) error {
	for name := range s.GetServiceInfo() {
		s.SetServing(name, true)
	}
	s.SetServing("", true)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.Serve(lis)
	}()
	log.Info("grpc server started", logger.String("address", lis.Addr().String()))

	select {
	case err := <-serveErr:
		s.health.Shutdown()
		return errors.Wrap(err, "grpc server stopped")
	case <-ctx.Done():
	}

	log.Info("grpc server shutting down")
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(s.shutdownTimeout):
		log.Warn("graceful stop timed out, forcing shutdown", logger.Duration("timeout", s.shutdownTimeout))
		s.Stop()
	}
	return nil
}
