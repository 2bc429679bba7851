package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/adaptauthoring/backend/internal/bootstrap"
	"github.com/adaptauthoring/backend/internal/notify"
	"github.com/adaptauthoring/backend/internal/plugins"
	"github.com/adaptauthoring/backend/internal/services"
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

	logger.Logger.Info("Starting Adapt Publish Worker")

	ctx := context.Background()

	// Connect to the document store
	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		logger.Logger.Fatal("Failed to connect to document store", zap.Error(err))
	}
	defer stores.Close()

	// Connect to Redis
	rdb := bootstrap.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}

	// Asset binaries
	assetStore, closeAssets, err := bootstrap.NewAssetStore(ctx, cfg.Assets)
	if err != nil {
		logger.Logger.Fatal("Failed to open asset store", zap.Error(err))
	}
	defer closeAssets()

	includeService := services.NewPluginIncludeService(plugins.NewFileManifestReader(cfg.Framework.Dir), stores.Content, logger.Logger)
	publisher := bootstrap.NewPublisher(cfg, stores, assetStore, includeService, rdb, logger.Logger)

	// Completion e-mails are sent only when SMTP is configured
	var notifier tasks.Notifier
	if cfg.SMTP.Host != "" {
		notifier = notify.NewMailer(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.Username, cfg.SMTP.Password, cfg.SMTP.From, logger.Logger)
	}
	processor := tasks.NewProcessor(publisher, notifier, cfg.Server.BaseURL, logger.Logger)

	// Create Asynq server
	srv := asynq.NewServer(
		bootstrap.RedisClientOpt(cfg.Redis),
		asynq.Config{
			Queues: tasks.Queues,
		},
	)

	// Register task handlers
	mux := asynq.NewServeMux()
	processor.Register(mux)

	// Start worker
	go func() {
		if err := srv.Run(mux); err != nil {
			logger.Logger.Fatal("Failed to start worker", zap.Error(err))
		}
	}()

	logger.Logger.Info("Worker started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("Shutting down worker...")
	srv.Shutdown()
	logger.Logger.Info("Worker exited")
}
