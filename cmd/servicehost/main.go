// Command servicehost runs a gRPC service behind the standard call pipeline together
// with its admin HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/rainbow-me/service-runtime/common/config"
	"github.com/rainbow-me/service-runtime/common/env"
	"github.com/rainbow-me/service-runtime/common/logger"
	"github.com/rainbow-me/service-runtime/grpc/auth"
	"github.com/rainbow-me/service-runtime/grpc/client"
	"github.com/rainbow-me/service-runtime/grpc/grpcserver"
	"github.com/rainbow-me/service-runtime/grpc/interceptors"
	"github.com/rainbow-me/service-runtime/grpc/service"
	"github.com/rainbow-me/service-runtime/http/admin"
	"github.com/rainbow-me/service-runtime/observability"
)

const (
	defaultGRPCAddress  = ":50051"
	defaultAdminAddress = ":8081"
)

func main() {
	probe := flag.Bool("probe", false, "check the admin health endpoint and exit")
	flag.Parse()

	log := logger.MustInitLogger()
	logger.SetInstance(log)
	defer func() { _ = log.Sync() }()

	v := viper.New()
	var cfg config.ServiceConfig
	if err := config.LoadConfig(&cfg, log, config.WithViper(v)); err != nil {
		log.Fatal("failed to load config", logger.Error(err))
	}
	applyDefaults(&cfg)

	if *probe {
		if err := admin.Probe(context.Background(), probeURL(cfg.AdminAddress), 2*time.Second, log); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, v, log); err != nil {
		log.Fatal("service host stopped", logger.Error(err))
	}
}

func applyDefaults(cfg *config.ServiceConfig) {
	if cfg.Name == "" {
		cfg.Name = "servicehost"
	}
	if cfg.GRPCAddress == "" {
		cfg.GRPCAddress = defaultGRPCAddress
	}
	if cfg.AdminAddress == "" {
		cfg.AdminAddress = defaultAdminAddress
	}
}

func probeURL(addr string) string {
	if addr != "" && addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}
	return "http://" + addr
}

func run(ctx context.Context, cfg config.ServiceConfig, v *viper.Viper, log *logger.Logger) error {
	environment := env.GetApplicationEnvSafe().String()

	stopTracer := observability.InitObservability(cfg.Name, environment, log)
	defer stopTracer()

	destinations, err := client.DestinationsFromEnv(v, cfg.Destinations...)
	if err != nil {
		return err
	}

	registry := client.NewRegistry(log,
		client.WithClientChain(interceptors.NewDefaultClientUnaryChain(cfg.Name, log)),
	)
	defer func() {
		if err := registry.Close(); err != nil {
			log.Warn("failed to close downstream clients", logger.Error(err))
		}
	}()

	verifier, err := auth.NewJWTVerifier(cfg.Auth.Secret, auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return errors.Wrap(err, "credential verifier")
	}

	relay := newRelay(cfg.Name, registry, destinations)

	authCfg, err := auth.NewConfig(
		auth.WithPublicMethods(fullMethod("Ping")),
		auth.WithMethodRoles(fullMethod("CheckDestination"), "admin"),
	)
	if err != nil {
		return err
	}

	pipeline := interceptors.NewServicePipeline(interceptors.PipelineConfig{
		Logger:   log,
		Auth:     authCfg,
		Verifier: verifier,
		Store:    userStore(cfg.Auth.Users),
		Schemas:  relay.schemas(),
	})
	registrar := service.NewRegistrar(relayServiceName, pipeline, service.WithLogger(log))
	relay.register(registrar)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	serverChain := interceptors.NewDefaultServerUnaryChain(cfg.Name, environment, log,
		interceptors.WithRequestTimeout(cfg.RequestTimeout),
		interceptors.WithPrometheusRegistry(reg, log),
		interceptors.WithRateLimiter(interceptors.NewMethodRateLimiter(rate.Inf, 0,
			interceptors.WithMethodLimit(fullMethod("CheckDestination"), rate.Limit(5), 10),
		)),
	)
	grpcSrv := grpcserver.NewServerWithCustomInterceptorChain(serverChain)
	registrar.Register(grpcSrv)

	adminSrv := admin.NewServer(admin.WithGatherer(reg))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, 2)
	go func() { errs <- grpcSrv.ListenAndRun(ctx, cfg.GRPCAddress, log) }()
	go func() { errs <- adminSrv.ListenAndRun(ctx, cfg.AdminAddress, log) }()

	// Either server failing stops the other.
	var firstErr error
	for range 2 {
		if err := <-errs; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

func userStore(users []string) auth.IdentityStore {
	return auth.IdentityStoreFunc(func(_ context.Context, userID string) (bool, error) {
		return len(users) == 0 || slices.Contains(users, userID), nil
	})
}
