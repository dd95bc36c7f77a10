package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"learnask/config"
	"learnask/db"
	"learnask/events"
	lhttp "learnask/http"
	"learnask/logger"
	"learnask/ml"
	"learnask/store"
)

const heartbeatInterval = 30 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zlog, err := logger.New(logger.Options{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Initialize database
	var history lhttp.History
	if cfg.Database.Path != "" {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			zlog.Fatal("failed to open database", zap.String("path", cfg.Database.Path), zap.Error(err))
		}
		defer database.Close()
		history = database
		zlog.Info("database initialized", zap.String("path", cfg.Database.Path))
	}

	// 3. Restore the last model and follow the file
	models := store.New(cfg.Model.Path, zlog.Named("store"))
	if err := models.Open(); err != nil {
		zlog.Warn("ignoring unreadable model file", zap.String("path", cfg.Model.Path), zap.Error(err))
	}
	if cfg.Model.Watch {
		go func() {
			if err := models.Watch(ctx); err != nil {
				zlog.Warn("model watcher stopped", zap.Error(err))
			}
		}()
	}

	hub := events.NewHub(zlog.Named("events"), heartbeatInterval)
	go hub.Run(ctx)

	// 4. Start HTTP server
	api, err := lhttp.NewAPI(lhttp.APIConfig{
		MaxUploadBytes: cfg.Http.MaxUploadMB << 20,
		TempDir:        cfg.Dataset.TempDir,
		Parse: ml.ParseOptions{
			Comma:    cfg.Delimiter(),
			Encoding: cfg.Dataset.Encoding,
		},
		Train: ml.TrainConfig{
			Trees:            cfg.Forest.Trees,
			MaxDepth:         cfg.Forest.MaxDepth,
			MinSamplesSplit:  cfg.Forest.MinSamplesSplit,
			MaxFeatures:      cfg.Forest.MaxFeatures,
			DisableBootstrap: cfg.Forest.DisableBootstrap,
			Seed:             cfg.Forest.Seed,
			TestRatio:        cfg.Forest.TestRatio,
		},
		CacheSize: cfg.Cache.Size,
	}, models, history, hub, zlog.Named("api"))
	if err != nil {
		zlog.Fatal("failed to build api", zap.Error(err))
	}

	server := lhttp.NewServer(lhttp.ServerConfig{
		Port:           cfg.Http.Port,
		Timeout:        cfg.Http.Timeout,
		AllowedOrigins: cfg.Http.AllowedOrigins,
	}, api, zlog.Named("http"))

	errs := make(chan error, 1)
	go func() {
		errs <- server.Start()
	}()

	// 5. Handle graceful shutdown
	select {
	case <-ctx.Done():
		zlog.Info("shutting down")
	case err := <-errs:
		if err != nil {
			zlog.Error("HTTP server failed", zap.Error(err))
		}
		stop()
	}

	if err := server.Stop(); err != nil {
		zlog.Warn("server forced to shutdown", zap.Error(err))
	}
	<-hub.Done()

	zlog.Info("exiting")
}
