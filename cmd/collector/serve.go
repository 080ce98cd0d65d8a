package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/zgpcy/azure-billing-collector/internal/collector"
	"github.com/zgpcy/azure-billing-collector/internal/pipeline"
	"github.com/zgpcy/azure-billing-collector/internal/retry"
	"github.com/zgpcy/azure-billing-collector/internal/server"
	"github.com/zgpcy/azure-billing-collector/internal/version"
)

// DefaultShutdownTimeout is the maximum time to wait for graceful shutdown
const DefaultShutdownTimeout = 30 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Collect the configured task on an interval and expose the result as Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, log, err := opts.load()
	if err != nil {
		return err
	}

	log.Info("Azure billing collector starting",
		"version", version.Version,
		"config_path", opts.configPath)

	log.Info("Configuration loaded successfully",
		"cost_metric", cfg.Options.CostMetric,
		"collect_mode", cfg.Options.CollectMode,
		"collect_scope", cfg.TaskOptions.CollectScope,
		"start", cfg.TaskOptions.Start,
		"refresh_interval_seconds", cfg.RefreshInterval,
		"http_port", cfg.HTTPPort,
		"max_retries", cfg.MaxRetries(),
		"api_timeout_seconds", cfg.APITimeout)

	ctrl := retry.New(cfg.MaxRetries(), cfg.MinBackoff(), log)
	sess, err := session(ctx, cfg, ctrl, log)
	if err != nil {
		return err
	}

	p := pipeline.New(sess, cfg, ctrl, log)

	log.Info("Creating Prometheus collector")
	costCollector := collector.NewCostCollector(p.Task(cfg.TaskOptions), cfg, log)
	ctrl.OnRetry = costCollector.ObserveRetry

	reg := prometheus.NewRegistry()
	if err := reg.Register(costCollector); err != nil {
		return err
	}
	// Go runtime metrics (memory, goroutines, GC stats)
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		log.Warn("Failed to register Go collector", "error", err)
	}
	// Process metrics (CPU, memory, file descriptors)
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		log.Warn("Failed to register process collector", "error", err)
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := server.NewServer(cfg, costCollector, reg, log)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	// The first collection runs before the refresh loop starts, so serve meanwhile
	go costCollector.StartBackgroundRefresh(refreshCtx)

	select {
	case err := <-serverErrors:
		return err

	case <-ctx.Done():
		log.Info("Received shutdown signal, starting graceful shutdown")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		log.Info("Server stopped gracefully")
		return nil
	}
}
