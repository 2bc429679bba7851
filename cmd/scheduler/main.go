package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adaptauthoring/backend/internal/bootstrap"
	"github.com/adaptauthoring/backend/internal/tasks"
	"github.com/adaptauthoring/backend/libs/config"
	"github.com/adaptauthoring/backend/libs/logger"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v\n", err)
	}

	// Initialize logger
	if err := logger.Init(cfg.Logging.Level); err != nil {
		log.Fatalf("Failed to initialize logger: %v\n", err)
	}
	defer logger.Sync()

	logger.Logger.Info("Starting Adapt Maintenance Scheduler")

	// Create Asynq client
	asynqClient := asynq.NewClient(bootstrap.RedisClientOpt(cfg.Redis))
	defer asynqClient.Close()

	dispatcher := tasks.NewDispatcher(asynqClient, cfg.Framework.LockTTL)

	// Create scheduler instance
	scheduler, err := NewScheduler(cfg.Maintenance.SweepSchedule, dispatcher, cfg.Maintenance.ScratchMaxAge, 30*time.Second, logger.Logger)
	if err != nil {
		logger.Logger.Fatal("Failed to create scheduler", zap.Error(err))
	}

	// Start scheduler
	scheduler.Start()
	defer func() {
		logger.Logger.Info("Shutting down scheduler...")
		scheduler.Stop()
		logger.Logger.Info("Scheduler exited")
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}
