package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fibermap/core-go/internal/config"
	"fibermap/core-go/internal/httpapi"
	"fibermap/core-go/internal/logging"
	"fibermap/core-go/internal/metrics"
	"fibermap/core-go/internal/network"
	"fibermap/core-go/internal/probe"
	"fibermap/core-go/internal/status"
	"fibermap/core-go/internal/statusworker"
	"fibermap/core-go/internal/store"
	"fibermap/core-go/internal/topology"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "core-go: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:           "core-go",
		Short:         "Serve the FTTH power budget and topology API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(v.GetString("config"))
		},
	}
	cmd.Flags().StringP("config", "c", "", "path to a YAML config file (env FTTH_CONFIG)")
	_ = v.BindPFlag("config", cmd.Flags().Lookup("config"))
	_ = v.BindEnv("config", "FTTH_CONFIG")
	return cmd
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL, cfg.Store.SQLitePath)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}
	defer backend.Close()

	m := metrics.New()

	var probes status.ProbeSource = backend
	if cfg.Status.ProbeSource == config.ProbeSourceSNMP {
		probes = probe.New(logger, cfg.ProbeConfig())
	}
	resolver := status.NewResolver(logger, backend, probes, m, cfg.ResolverOptions())

	svc := network.New(logger, backend, backend, network.Options{
		Model:    cfg.PowerModel(),
		Cache:    topology.NewTTLCache(),
		CacheTTL: cfg.Cache.TTL,
		Resolver: resolver,
		Metrics:  m,
	})

	loaded, err := svc.Bootstrap(ctx)
	if err != nil {
		return fmt.Errorf("load network: %w", err)
	}
	logger.Info().Int("items", loaded).Str("driver", cfg.Store.Driver).Msg("network loaded")

	if cfg.Status.Enabled {
		worker := statusworker.New(logger, svc, statusworker.Options{Interval: cfg.Status.Interval}, m)
		go worker.Run(ctx)
	}

	h := httpapi.NewHandler(logger, svc, backend, m)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("core-go listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
	return nil
}
