// Package main provides the API server entry point for the airdrop tool.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/solargatsby/airdroptool/internal/api"
	"github.com/solargatsby/airdroptool/internal/chain"
	"github.com/solargatsby/airdroptool/internal/config"
	"github.com/solargatsby/airdroptool/internal/engine"
	"github.com/solargatsby/airdroptool/internal/logging"
	"github.com/solargatsby/airdroptool/internal/queue"
	"github.com/solargatsby/airdroptool/internal/service"
	"github.com/solargatsby/airdroptool/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":   cfg.Logging.Level,
		"format":  cfg.Logging.Format,
		"targets": len(cfg.Airdrops),
	}).Info("Airdrop tool starting")

	// Storage connections.
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	var events engine.EventSink
	if cfg.Database.ClickHouse.Enabled() {
		clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to ClickHouse")
		}
		defer clickhouse.Close()
		events = storage.NewEventRepository(clickhouse)
		logger.Info("ClickHouse audit sink enabled")
	}

	requestRepo := storage.NewRequestRepository(postgres)
	resultRepo := storage.NewResultRepository(postgres)
	requestCache := storage.NewRequestCache(redis, requestRepo, cfg.Engine.CacheTTL)

	// Work queue and dispatcher.
	workQueue := queue.NewQueue(cfg.Queue.Capacity)
	dispatcher, err := queue.NewDispatcher(&queue.DispatcherConfig{
		Queue:    workQueue,
		Requests: requestRepo,
		Results:  resultRepo,
		Cache:    requestCache,
		Interval: cfg.Queue.DispatchInterval,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create queue dispatcher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dispatcher.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start queue dispatcher")
	}

	// One submission handler per configured target.
	var handlers []*engine.Handler
	for _, target := range cfg.Airdrops {
		ledger, err := chain.NewEVMClient(target, logger)
		if err != nil {
			logger.WithError(err).WithField("target", target.Name).Fatal("Failed to create ledger client")
		}
		defer ledger.Close()

		handler, err := engine.NewHandler(&engine.HandlerConfig{
			Target:       target,
			Requests:     requestRepo,
			Results:      resultRepo,
			Ledger:       ledger,
			Events:       events,
			Cache:        requestCache,
			PollInterval: cfg.Engine.PollInterval,
			BatchSize:    cfg.Engine.BatchSize,
		}, logger)
		if err != nil {
			logger.WithError(err).WithField("target", target.Name).Fatal("Failed to create airdrop handler")
		}

		if err := handler.Start(ctx); err != nil {
			logger.WithError(err).WithField("target", target.Name).Fatal("Failed to start airdrop handler")
		}
		handlers = append(handlers, handler)
	}
	if len(handlers) == 0 {
		logger.Warn("No airdrop targets configured, running in API-only mode")
	}

	airdropService := service.NewAirdropService(
		cfg, requestRepo, requestCache, resultRepo, workQueue, requestCache, logger)

	server := api.NewServer(&api.ServerConfig{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, airdropService, postgres, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	// Wait for shutdown signal or server failure.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Shutdown signal received")
	case err := <-serverErr:
		logger.WithError(err).Error("API server exited")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("API server shutdown failed")
	}
	for _, handler := range handlers {
		if err := handler.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Error("Airdrop handler shutdown failed")
		}
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Queue dispatcher shutdown failed")
	}
	cancel()

	logger.Info("Airdrop tool stopped")
}
