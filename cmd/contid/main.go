package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"conti/internal/backup"
	"conti/internal/config"
	"conti/internal/log"
	"conti/internal/remote"
	"conti/internal/remote/amqpremote"
	"conti/internal/remote/memory"
	"conti/internal/remote/sheets"
	"conti/internal/storage"
	"conti/internal/syncqueue"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	// Setup structured logging
	logger := log.New(log.Config{
		Level:     slog.LevelInfo,
		Component: log.ComponentApp,
	})
	log.SetDefault(logger)

	logger.Info("Starting contid")

	// Load configuration
	cfg := config.Load()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	// Initialize the SQLite store (runs migrations)
	store, err := storage.Open(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite store", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer store.Close()

	// Initialize the remote deliverer
	deliverer, cleanup, err := newDeliverer(cfg)
	if err != nil {
		logger.Error("Failed to initialize remote backend", "error", err, "backend", cfg.RemoteBackend)
		os.Exit(1)
	}
	defer cleanup()
	logger.Info("Remote backend initialized", "backend", cfg.RemoteBackend)

	// Build sync queue processor from configuration
	queueCfg := syncqueue.DefaultConfig()
	queueCfg.DrainInterval = cfg.SyncInterval
	queueCfg.BatchSize = cfg.SyncBatchSize
	queueCfg.BaseDelay = cfg.SyncBaseDelay
	processor := syncqueue.New(store, deliverer, queueCfg)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start sync processor", "error", err)
		os.Exit(1)
	}

	scheduler := backup.NewScheduler(backup.NewBuilder(store, cfg.AppVersion))

	g, gctx := errgroup.WithContext(ctx)

	// Log sync queue events for observability
	syncLog := logger.WithComponent(log.ComponentSync)
	g.Go(func() error {
		events, unsubscribe := processor.Subscribe()
		defer unsubscribe()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				logEvent(syncLog, ev)
			}
		}
	})

	// Periodic automatic backups
	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if taken, err := scheduler.RunIfDue(gctx); err != nil {
					logger.Error("Automatic backup failed", "error", err)
				} else if taken {
					logger.Info("Automatic backup completed")
				}
			}
		}
	})

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := processor.Stop(shutdownCtx); err != nil {
		logger.Error("Sync processor shutdown failed", "error", err)
	}

	if err := g.Wait(); err != nil {
		logger.Error("Background task failed", "error", err)
	}
	logger.Info("contid stopped")
}

func newDeliverer(cfg *config.Config) (remote.Deliverer, func(), error) {
	switch cfg.RemoteBackend {
	case "memory":
		return memory.New(), func() {}, nil
	case "sheets":
		client, err := sheets.NewFromEnv(context.Background())
		if err != nil {
			return nil, nil, fmt.Errorf("create sheets client: %w", err)
		}
		return client, func() {}, nil
	case "amqp":
		client, err := amqpremote.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return nil, nil, fmt.Errorf("create amqp client: %w", err)
		}
		return client, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote backend %q", cfg.RemoteBackend)
	}
}

func logEvent(logger *log.Logger, ev syncqueue.Event) {
	switch ev.Kind {
	case syncqueue.EventDelivered:
		logger.Info("Mutation delivered",
			"operation", ev.Operation, "entity_type", ev.EntityType, "entity_id", ev.EntityID)
	case syncqueue.EventRetryScheduled:
		logger.Warn("Mutation delivery retry scheduled",
			"operation", ev.Operation, "entity_type", ev.EntityType, "entity_id", ev.EntityID,
			"retry_count", ev.RetryCount, "error", ev.Err)
	case syncqueue.EventAbandoned:
		logger.Error("Mutation abandoned after max retries",
			"operation", ev.Operation, "entity_type", ev.EntityType, "entity_id", ev.EntityID,
			"error", ev.Err)
	case syncqueue.EventOnline:
		logger.Info("Sync went online")
	case syncqueue.EventOffline:
		logger.Info("Sync went offline")
	}
}
