package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"plantgate.org/internal/config"
	"plantgate.org/internal/httpapi"
	"plantgate.org/internal/obs"
)

func main() {
	if err := run(); err != nil {
		obs.Error("plantgated exited", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	var (
		envFiles    = pflag.StringSlice("env-file", []string{".env"}, "dotenv files to load before reading PLANTGATE_* variables")
		showVersion = pflag.Bool("version", false, "print the version and exit")
		backend     = pflag.String("backend", "", "memory, postgres or redis (overrides PLANTGATE_BACKEND)")
		httpAddr    = pflag.String("http-addr", "", "ops HTTP listen address (overrides PLANTGATE_HTTP_ADDR)")
		grpcAddr    = pflag.String("grpc-addr", "", "gRPC health listen address (overrides PLANTGATE_GRPC_ADDR)")
		seedDemo    = pflag.Bool("seed-demo", false, "provision the demo plant directory on start")
	)
	pflag.Parse()

	cfg, err := config.Load(*envFiles...)
	if err != nil {
		return err
	}
	flags := pflag.CommandLine
	if flags.Changed("backend") {
		cfg.Backend = *backend
	}
	if flags.Changed("http-addr") {
		cfg.HTTPAddr = *httpAddr
	}
	if flags.Changed("grpc-addr") {
		cfg.GRPCAddr = *grpcAddr
	}
	if flags.Changed("seed-demo") {
		cfg.SeedDemo = *seedDemo
	}
	if *showVersion {
		fmt.Printf("plantgated %s (%s)\n", cfg.Version, cfg.Commit)
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	obs.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := buildEngine(ctx, cfg)
	if err != nil {
		return err
	}
	obs.InitBuildInfo(cfg.Version, cfg.Commit, eng.catalog.Version())

	probe := httpapi.ReadyProbe{Checks: eng.checks}
	api := httpapi.New(probe, eng.catalog, cfg.Version,
		httpapi.WithRoleProfiles(eng.roles),
		httpapi.WithRateLimit(cfg.OpsRateLimit, cfg.OpsRateBurst),
	)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		eng.shutdown(context.Background())
		return fmt.Errorf("grpc listen: %w", err)
	}

	obs.Info("plantgated starting", map[string]any{
		"version":         cfg.Version,
		"backend":         cfg.Backend,
		"http_addr":       cfg.HTTPAddr,
		"grpc_addr":       cfg.GRPCAddr,
		"catalog_version": eng.catalog.Version(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return eng.sessions.RunSweeper(gctx, cfg.SweepInterval)
	})
	g.Go(func() error {
		watchReadiness(gctx, probe, healthSrv, 10*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		obs.Info("shutting down", nil)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		healthSrv.Shutdown()
		_ = srv.Shutdown(shutdownCtx)
		grpcSrv.GracefulStop()
		eng.shutdown(shutdownCtx)
		return nil
	})

	err = g.Wait()
	obs.Info("stopped", nil)
	return err
}

// watchReadiness mirrors the store probe into the gRPC health service and
// the readiness gauge.
func watchReadiness(ctx context.Context, probe httpapi.ReadyProbe, hs *health.Server, every time.Duration) {
	update := func() {
		failed := probe.Check(ctx)
		obs.SetReady(len(failed) == 0)
		status := healthpb.HealthCheckResponse_SERVING
		if len(failed) > 0 {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			obs.Warn("backing store not ready", map[string]any{"failed": failed})
		}
		hs.SetServingStatus("", status)
		hs.SetServingStatus("plantgate.v1.Engine", status)
	}
	update()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
