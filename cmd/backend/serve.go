package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/medguard-ai/medguard/analysis"
	"github.com/medguard-ai/medguard/logger"
	"github.com/medguard-ai/medguard/metrics"
	"github.com/medguard-ai/medguard/scan"
	"github.com/medguard-ai/medguard/scorer"
	"github.com/medguard-ai/medguard/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

var configFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE:  runServer,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.AddCommand(serveCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.NewLogrusLogger(cfg.Log.Level)
	log.Info(ctx, "starting server", map[string]interface{}{
		"version": Version,
		"commit":  Commit,
		"date":    BuildDate,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewCollector(registry)

	store, closeStore, err := newJobStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := storage.NewBlobStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize blob storage: %w", err)
	}
	log.Info(ctx, "blob storage initialized", map[string]interface{}{
		"type": cfg.Storage.Type,
	})

	index, err := newIndex(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to load reference catalog: %w", err)
	}
	m.SetCatalogSize(index.Stats().DrugsCount)

	runner := scorer.ExecRunner{Dir: cfg.Scorer.WorkDir, Logger: log}
	embedder := newEmbedder(cfg, runner)
	sc := newScorer(cfg, runner, embedder, index)

	analysisCfg, err := cfg.AnalysisConfig()
	if err != nil {
		return err
	}
	svc, err := analysis.NewService(analysisCfg, store, blobs, sc, newEngine(cfg.Aggregation.Seed), m, log)
	if err != nil {
		return fmt.Errorf("failed to initialize scan service: %w", err)
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	svc.StartWorkers(workerCtx)

	sweeper := scan.NewSweeper(store, blobs, cfg.Store.TTL, cfg.Store.EvictionSchedule, m.RecordEvicted, log)
	if err := sweeper.Start(workerCtx); err != nil {
		return fmt.Errorf("failed to start sweeper: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      newRouter(svc, index, embedder, cfg, m, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info(ctx, "server listening", map[string]interface{}{
			"address": addr,
			"store":   cfg.Store.Type,
			"scorer":  cfg.Scorer.Type,
		})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "shutting down server", nil)

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	sweeper.Stop()
	svc.Shutdown()

	log.Info(ctx, "server stopped", nil)
	return nil
}
