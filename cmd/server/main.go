package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/marketing-analyst/internal/api"
	"github.com/ignite/marketing-analyst/internal/campaign"
	"github.com/ignite/marketing-analyst/internal/config"
	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/ignite/marketing-analyst/internal/history"
	"github.com/ignite/marketing-analyst/internal/jobs"
	"github.com/ignite/marketing-analyst/internal/pkg/distlock"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
	"github.com/ignite/marketing-analyst/internal/reasoning"
	"github.com/ignite/marketing-analyst/internal/session"
	"github.com/ignite/marketing-analyst/internal/storage"
)

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		logger.Error("Failed to load config", "path", configPath, "error", err)
		os.Exit(1)
	}
	logger.Configure(logger.Options{Level: cfg.Logging.Level, File: cfg.Logging.File, RedactPII: cfg.Logging.Redact()})
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("Server failed", "error", err)
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := dataset.Open(cfg.Dataset)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Dataset store configured", "driver", cfg.Dataset.Driver)

	redisClient, err := distlock.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		logger.Info("Connected to Redis")
	}

	registry, err := reasoning.NewRegistryFromConfig(ctx, cfg.Reasoning)
	if err != nil {
		return err
	}
	artifacts, err := storage.New(ctx, cfg.Catalog)
	if err != nil {
		return err
	}
	hist, err := history.New(ctx, cfg.History, redisClient)
	if err != nil {
		return err
	}

	manager := session.NewManager(session.Options{
		Loader:       dataset.NewSQLLoader(db, cfg.Dataset.LoadLeads),
		NewLock: func() distlock.DistLock {
			return distlock.NewLock(redisClient, db, cfg.Dataset.Driver, "dataset:reload", time.Minute)
		},
		Provider:     registry,
		Models:       registry,
		Artifacts:    artifacts,
		History:      hist,
		DefaultModel: cfg.Reasoning.DefaultModel,
		IdleTimeout:  cfg.Session.IdleTimeout(),
	})

	opts := api.Options{
		Sessions:       manager,
		Models:         registry,
		Health:         api.NewHealthChecker(db, redisClient),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}
	if cfg.Campaign.Enabled {
		awsCfg, err := campaign.LoadAWSConfig(ctx, cfg.Campaign)
		if err != nil {
			return err
		}
		opts.Publisher = campaign.NewPublisher(awsCfg)
		logger.Info("Campaign draft publishing enabled", "region", cfg.Campaign.Region)
	}
	if cfg.Segmentation.QueueURL != "" {
		awsCfg, err := storage.LoadAWSConfig(ctx, cfg.Segmentation.AWSRegion, "")
		if err != nil {
			return err
		}
		opts.Queue = jobs.NewPublisher(awsCfg, cfg.Segmentation.QueueURL)
	}
	server := api.NewServer(opts)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		logger.Info("Starting server", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-done:
	case err := <-errCh:
		return err
	}
	logger.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown error", "error", err)
	}
	logger.Info("Server stopped")
	return nil
}
