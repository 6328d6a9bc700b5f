package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"tranche/internal/cache"
	"tranche/internal/codes"
	"tranche/internal/config"
	"tranche/internal/db"
	"tranche/internal/engine"
	"tranche/internal/propagation"
	"tranche/internal/repository"
	"tranche/internal/server"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("failed to run: %v", err)
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Setup logger
	var logger *zap.Logger
	if cfg.IsDevelopment() {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("starting tranche",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
	)

	// Connect to PostgreSQL
	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()
	logger.Info("connected to PostgreSQL")

	// Connect to Redis; the broker degrades to in-process fan-out without it
	cacheClient, err := cache.NewClient(ctx, cfg.Redis.URL)
	if err != nil {
		logger.Warn("redis unavailable, events stay in-process", zap.Error(err))
		cacheClient = nil
	} else {
		defer cacheClient.Close()
		logger.Info("connected to Redis")
	}

	// Wire the staged release pipeline
	store := repository.NewTransferRepository(database)
	ledger := codes.NewLedger(store)
	broker := propagation.New(cacheClient, store, logger, propagation.Config{
		PublishRetries: cfg.Progress.PublishRetries,
		RetryBackoff:   cfg.Progress.PublishBackoff,
		SnapshotTTL:    cfg.Progress.SnapshotTTL,
	})
	broker.Start(ctx)

	eng := engine.New(store, ledger, broker, logger, engine.Config{
		RetryAttempts: cfg.Progress.EngineRetryAttempts,
		RetryBackoff:  cfg.Progress.EngineRetryBackoff,
	})

	srv := server.New(server.Config{
		Port:        cfg.Server.Port,
		Database:    database,
		CacheClient: cacheClient,
		Engine:      eng,
		Broker:      broker,
		Logger:      logger,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
