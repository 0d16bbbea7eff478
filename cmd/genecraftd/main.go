package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"

	"github.com/genecraft/genecraft/internal/api"
	"github.com/genecraft/genecraft/internal/artifact"
	"github.com/genecraft/genecraft/internal/cleanup"
	"github.com/genecraft/genecraft/internal/config"
	"github.com/genecraft/genecraft/internal/engine"
	"github.com/genecraft/genecraft/internal/logging"
	"github.com/genecraft/genecraft/internal/metrics"
	"github.com/genecraft/genecraft/internal/shutdown"
	"github.com/genecraft/genecraft/internal/stage"
	"github.com/genecraft/genecraft/internal/store"
	"github.com/genecraft/genecraft/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	logger.Info("Starting genecraftd", map[string]interface{}{
		"listen": cfg.ListenAddr, "store": cfg.Store.Type,
	})

	shutdownMgr := shutdown.New(30*time.Second, logger)

	jobStore, err := store.New(store.Config{Type: cfg.Store.Type, Path: cfg.Store.Path})
	if err != nil {
		logger.Fatal("Failed to open job store", map[string]interface{}{"error": err.Error()})
	}
	shutdownMgr.Register(func(ctx context.Context) error {
		return jobStore.Close()
	})

	stager, err := stage.New(cfg.UploadDir(), cfg.Uploads.MaxBytes, cfg.Uploads.TTL, logger)
	if err != nil {
		logger.Fatal("Failed to create upload stager", map[string]interface{}{"error": err.Error()})
	}

	artifacts, err := artifact.NewStore(cfg.ArtifactDir(), cfg.Artifacts.TTL, logger)
	if err != nil {
		logger.Fatal("Failed to create artifact store", map[string]interface{}{"error": err.Error()})
	}

	rscript, err := engine.ResolveRscript(cfg.Engine.RscriptPath)
	if err != nil {
		logger.Fatal("Failed to resolve analysis interpreter", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Resolved analysis interpreter", map[string]interface{}{"rscript": rscript})
	runner := engine.NewRunner(rscript, logger)

	registry := metrics.NewRegistry(jobStore, stager.Count, artifacts.Count)

	pool := worker.New(worker.Config{
		Workers:      cfg.Worker.Slots,
		JobTimeout:   cfg.Worker.JobTimeout,
		PollInterval: cfg.Worker.PollInterval,
		ScriptDir:    cfg.Engine.ScriptDir,
		WorkRoot:     cfg.WorkDir(),
	}, jobStore, stager, artifacts, runner, logger, registry)
	if err := pool.Start(context.Background()); err != nil {
		logger.Fatal("Failed to start worker pool", map[string]interface{}{"error": err.Error()})
	}
	shutdownMgr.Register(pool.Stop)

	cleaner := cleanup.NewManager(cleanup.Config{
		Enabled:       cfg.Retention.Enabled,
		JobRetention:  cfg.Retention.JobTTL,
		SweepInterval: cfg.Retention.SweepInterval,
	}, jobStore, stager, artifacts, logger)
	cleaner.Start()
	shutdownMgr.Register(func(ctx context.Context) error {
		cleaner.Stop()
		return nil
	})

	router := mux.NewRouter()
	handler := api.NewHandler(jobStore, stager, artifacts, cfg.Uploads.MaxBytes, logger, registry)
	handler.RegisterRoutes(router)
	router.Handle("/metrics", registry.Handler()).Methods("GET")

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Minute,
	}
	go func() {
		logger.Info("HTTP server listening", map[string]interface{}{"addr": cfg.ListenAddr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	shutdownMgr.Register(server.Shutdown)

	shutdownMgr.Wait()
	shutdownMgr.Shutdown()
}
