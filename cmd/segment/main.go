// Command segment maintains customer segments in leads_scored: it runs the
// k-means job directly, enqueues it on SQS, or serves the queue as a worker.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ignite/marketing-analyst/internal/config"
	"github.com/ignite/marketing-analyst/internal/dataset"
	"github.com/ignite/marketing-analyst/internal/jobs"
	"github.com/ignite/marketing-analyst/internal/pkg/distlock"
	"github.com/ignite/marketing-analyst/internal/pkg/logger"
	"github.com/ignite/marketing-analyst/internal/segmentation"
	"github.com/ignite/marketing-analyst/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	configPath string
	clusters   int
)

var rootCmd = &cobra.Command{
	Use:           "segment",
	Short:         "Customer segmentation maintenance job",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnv(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if clusters > 0 {
			cfg.Segmentation.Clusters = clusters
		}
		logger.Configure(logger.Options{Level: cfg.Logging.Level, File: cfg.Logging.File, RedactPII: cfg.Logging.Redact()})
		appCfg = cfg
		return nil
	},
}

var appCfg *config.Config

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Cluster every customer now and rewrite leads_scored",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine, closeFn, err := newEngine(ctx, appCfg)
		if err != nil {
			return err
		}
		defer closeFn()

		res, err := engine.Run(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a segmentation job on SQS",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if appCfg.Segmentation.QueueURL == "" {
			return jobs.ErrNoQueue
		}
		awsCfg, err := storage.LoadAWSConfig(ctx, appCfg.Segmentation.AWSRegion, "")
		if err != nil {
			return err
		}
		job, err := jobs.NewPublisher(awsCfg, appCfg.Segmentation.QueueURL).Enqueue(ctx, jobs.JobSegmentation, "cli")
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "queued segmentation job %s\n", job.ID)
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume segmentation jobs from SQS until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if appCfg.Segmentation.QueueURL == "" {
			return jobs.ErrNoQueue
		}

		engine, closeFn, err := newEngine(ctx, appCfg)
		if err != nil {
			return err
		}
		defer closeFn()

		awsCfg, err := storage.LoadAWSConfig(ctx, appCfg.Segmentation.AWSRegion, "")
		if err != nil {
			return err
		}
		jobs.NewConsumer(awsCfg, appCfg.Segmentation.QueueURL, engine).Run(ctx)
		logger.Info("Segmentation worker stopped")
		return nil
	},
}

// newEngine opens the dataset store and the optional Redis lock.
func newEngine(ctx context.Context, cfg *config.Config) (*segmentation.Engine, func(), error) {
	db, err := dataset.Open(cfg.Dataset)
	if err != nil {
		return nil, nil, err
	}
	redisClient, err := distlock.OpenRedis(ctx, cfg.Redis.URL)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	closeFn := func() {
		if redisClient != nil {
			redisClient.Close()
		}
		db.Close()
	}
	lock := newLock(redisClient, db, cfg)
	return segmentation.NewEngine(
		segmentation.NewStore(db, cfg.Dataset.Driver),
		lock,
		segmentation.ParamsFromConfig(cfg.Segmentation),
	), closeFn, nil
}

func newLock(client *redis.Client, db *sql.DB, cfg *config.Config) distlock.DistLock {
	return distlock.NewLock(client, db, cfg.Dataset.Driver, "segmentation", cfg.Segmentation.LockTTL())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to the YAML config")
	rootCmd.PersistentFlags().IntVar(&clusters, "clusters", 0, "override segmentation.clusters")
	rootCmd.AddCommand(runCmd, enqueueCmd, workerCmd)
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		logger.Error("segment failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		logger.Sync()
		os.Exit(1)
	}
}
