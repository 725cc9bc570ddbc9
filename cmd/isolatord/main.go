// Command isolatord runs the isolate pool service: a gRPC server exposing
// the AcquireIsolate bidi stream plus the GetStatus/KillIsolates/Drain
// operational RPCs, backed by a Pool Scheduler and CPU Supervisor, with a
// Prometheus metrics listener alongside it. Wiring follows the
// cuemby-warren cmd/ convention of one cobra root command configuring and
// running a single long-lived server process until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/merlinfuchs/isolator/internal/config"
	"github.com/merlinfuchs/isolator/internal/frontend"
	"github.com/merlinfuchs/isolator/internal/logging"
	"github.com/merlinfuchs/isolator/internal/metrics"
	"github.com/merlinfuchs/isolator/internal/registry"
	"github.com/merlinfuchs/isolator/internal/rpcapi"
	"github.com/merlinfuchs/isolator/internal/scheduler"
	"github.com/merlinfuchs/isolator/internal/supervisor"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "isolatord: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "isolatord",
		Short: "isolatord runs the isolate pool service",
	}
	cfg := config.BindFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), *cfg)
	}
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.NewStdout(logging.ParseLevel(cfg.LogLevel))

	reg := registry.New()
	sched := scheduler.New(cfg.MaxThreadCount)
	sup := supervisor.New(reg, logger, cfg.CPUSampleInterval)
	front := frontend.New(logger, sched, reg)
	mtr := metrics.New(reg, sched, sup)

	lis, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("isolatord: listen %s: %w", cfg.ListenAddr, err)
	}

	grpcServer := grpc.NewServer()
	rpcapi.RegisterServer(grpcServer, front)

	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mtr.Handler(),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sup.Run(runCtx)

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Log("gRPC listener started")
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Log("metrics listener started")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Log("shutdown signal received")
	case err := <-errCh:
		logger.Err().Err(err).Log("server error, shutting down")
	case <-ctx.Done():
	}

	cancel()
	grpcServer.GracefulStop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info().Log("shutdown complete")
	return nil
}
