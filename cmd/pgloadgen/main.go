package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/guileen/pgloadgen/client"
	"github.com/guileen/pgloadgen/config"
	"github.com/guileen/pgloadgen/logger"
	"github.com/guileen/pgloadgen/metrics"
	"github.com/guileen/pgloadgen/network"
	"github.com/guileen/pgloadgen/protocol/api"
	"github.com/guileen/pgloadgen/protocol/sql"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("pgloadgen exited", logger.ErrorField(err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pgloadgen",
		Short:         "Rate-controlled PostgreSQL probe traffic for benchmarking connection poolers",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.NewViper(cmd.Flags())
			if err != nil {
				return err
			}
			settings, err := config.LoadSettings(v)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, settings)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, settings config.Settings) error {
	logger.SetLogLevel(settings.LogLevel)

	probe, err := sql.ParseProbe(settings.ProbeQuery)
	if err != nil {
		return err
	}

	source, err := client.NewSource(settings, network.NewPgxPoolFactory())
	if err != nil {
		return err
	}
	sink := metrics.NewPrometheus(settings.ClientName)
	c := client.New(settings, source, sink)

	logger.Info("Starting pgloadgen",
		logger.Client(settings.ClientName),
		"mode", settings.Mode,
		"database", settings.DB.Address(),
		"db_name", settings.DB.Name,
		"tps", settings.Initial.TargetRate,
		"pool_min_size", settings.Initial.PoolMinSize,
		"pool_max_size", settings.Initial.PoolMaxSize,
		"probe", probe.Normalized,
		"probe_fingerprint", probe.Fingerprint,
		"api_port", settings.APIPort,
		"metrics_port", settings.MetricsPort)

	startCtx, cancel := context.WithTimeout(ctx, settings.AcquireTimeout+settings.QueryTimeout)
	err = c.Start(startCtx)
	cancel()
	if err != nil {
		var initErr *network.PoolInitError
		if errors.As(err, &initErr) {
			logger.Error("Failed to initialize connection pool", "address", initErr.Address, logger.ErrorField(initErr.Err))
		}
		return err
	}

	logger.Info("Endpoints",
		"control", []string{"GET /health", "GET /config", "PUT /config/tps", "PUT /config/pool", "GET /stats"},
		"control_addr", fmt.Sprintf(":%d", settings.APIPort),
		"metrics", []string{"GET /metrics", "GET /debug/pprof/", "GET /debug/vars"},
		"metrics_addr", fmt.Sprintf(":%d", settings.MetricsPort))

	servers := []*http.Server{
		newServer(settings.MetricsPort, metricsRouter(sink)),
		newServer(settings.APIPort, api.NewRouter(c.Service())),
	}
	serveErr := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			logger.Info("HTTP server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case runErr = <-serveErr:
		logger.Error("HTTP server failed", logger.ErrorField(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown", "addr", srv.Addr, logger.ErrorField(err))
		}
	}
	if err := c.Stop(shutdownCtx); err != nil {
		logger.Warn("Client shutdown", logger.ErrorField(err))
	}

	logger.Info("pgloadgen stopped", logger.Client(settings.ClientName))
	return runErr
}

func newServer(port int, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// metricsRouter serves Prometheus metrics and the pprof and expvar endpoints.
func metricsRouter(sink *metrics.Prometheus) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", sink.Handler())
	r.Mount("/debug", middleware.Profiler())
	return r
}
