package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"scontrino/internal/amqp"
	"scontrino/internal/cli"
	"scontrino/internal/oracle"
	"scontrino/internal/services"
	"scontrino/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	logger.Info("Starting scontrino-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	repo := cli.InitStorage(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	table := cli.LoadRules(logger, cfg)

	classifier, err := oracle.NewFromConfig(cfg)
	if err != nil {
		logger.Error("Failed to initialize classifier oracle", "error", err)
		os.Exit(1)
	}
	if classifier != nil {
		defer classifier.Close()
		logger.Info("Classifier oracle initialized", "provider", cfg.OracleProvider)
	} else {
		logger.Info("Classifier oracle disabled")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	resolver := services.NewResolver(repo)
	ingestor := services.NewIngestor(repo, resolver)
	categorizer := services.NewCategorizer(repo, table, classifier, cfg.OracleTimeout)
	ingestWorker := worker.NewIngestWorker(ingestor, logger)

	jobProcessor := services.NewJobProcessor(repo, categorizer, services.JobProcessorConfig{
		PollInterval: cfg.JobInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := jobProcessor.Start(ctx); err != nil {
		logger.Error("Failed to start job processor", "error", err)
		os.Exit(1)
	}
	defer jobProcessor.Stop(context.Background())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.ConsumeReceiptScanned(gctx, func(msg *amqp.ReceiptScannedMessage) error {
			return ingestWorker.HandleReceiptScanned(gctx, msg)
		})
	})
	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if cleaned := resolver.CleanExpiredNames(); cleaned > 0 {
					logger.Info("Cleaned expired name cache entries", "cleaned", cleaned)
				}
			}
		}
	})

	logger.Info("scontrino-worker running",
		"queue", cfg.AMQPQueue,
		"job_interval", cfg.JobInterval.String())

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("scontrino-worker stopped gracefully")
}
