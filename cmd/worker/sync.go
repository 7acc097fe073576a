package worker

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aureeaubert/hull-closeio/internal/app"
	"github.com/aureeaubert/hull-closeio/internal/config"
	"github.com/aureeaubert/hull-closeio/internal/kafka"
	"github.com/aureeaubert/hull-closeio/internal/logger"
	"github.com/aureeaubert/hull-closeio/internal/metrics"
	"github.com/aureeaubert/hull-closeio/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Consume platform notifications from Kafka and sync them to Close.io",
	RunE:  runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	// fail fast on a bad API key or lead identifier instead of on the first batch
	if err := a.Agent.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize agent: %w", err)
	}

	consumer, err := kafka.NewConsumer(cfg.Kafka)
	if err != nil {
		return err
	}
	defer consumer.Close()

	w := worker.NewSyncWorker(consumer, a.Agent, log)
	if cfg.Worker.BatchSize > 0 {
		w.BatchSize = cfg.Worker.BatchSize
	}
	if cfg.Worker.BatchWait > 0 {
		w.BatchWait = cfg.Worker.BatchWait
	}

	log.Info("sync worker started",
		zap.String("topic", cfg.Kafka.Topic),
		zap.String("group", cfg.Kafka.GroupID),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait),
	)

	if err := w.Run(ctx); err != nil {
		return err
	}
	log.Info("sync worker stopped", zap.Int64("lag", consumer.Lag()))
	return nil
}
