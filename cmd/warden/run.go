package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"veridian-hq/warden/pkg/compliance"
	"veridian-hq/warden/pkg/compliance/scheduler"
	"veridian-hq/warden/pkg/policy/risk"
	"veridian-hq/warden/pkg/policy/source"
	"veridian-hq/warden/pkg/telemetry/metrics"
)

var runFlags struct {
	dryRun bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the evaluation daemon",
	Long: `Start the warden daemon: scheduled batch evaluation of unprocessed events,
live policy reload, and the Prometheus metrics endpoint.

Examples:
  # Start with default config
  warden run

  # Start with custom config
  warden run --config /etc/warden/warden.yaml

  # Validate config without starting
  warden run --dry-run`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}

	if runFlags.dryRun {
		fmt.Println("configuration valid")
		return nil
	}

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	chain, err := buildChain(st.events, cfg, logger)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(metrics.Config{}, nil)
	}

	if chain != nil {
		logger.Info("signing enabled",
			"provider", chain.ProviderName(),
			"required", cfg.Signing.Required)
	}

	engine := compliance.NewEngine(st.events, st.violations, st.evidence, compliance.EngineConfig{
		Scorer:  risk.NewScorer(st.events, st.violations),
		Metrics: collector,
		Logger:  logger,
	})

	policySource := source.NewFileSource(cfg.Policies.Dir, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(engine, policySource, scheduler.Config{
		Schedule:   cfg.Evaluation.Schedule,
		BatchLimit: cfg.Evaluation.BatchLimit,
	}, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	if cfg.Policies.Watch {
		watcher, err := source.NewWatcher(cfg.Policies.Dir, source.DefaultDebounceInterval, logger)
		if err != nil {
			return fmt.Errorf("start policy watcher: %w", err)
		}
		go func() {
			if err := watcher.Watch(ctx, func() error {
				_, err := policySource.LoadActive()
				return err
			}); err != nil {
				logger.Error("policy watcher exited", "error", err)
			}
		}()
	}

	var metricsSrv *http.Server
	if collector != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening",
				"address", cfg.Metrics.ListenAddress,
				"path", cfg.Metrics.Path)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	logger.Info("warden started",
		"storage", cfg.Storage.Path,
		"policies", cfg.Policies.Dir,
		"schedule", cfg.Evaluation.Schedule,
		"signing_provider", cfg.Signing.Provider,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
	cancel()

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", "error", err)
		}
	}

	return nil
}
