package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/adaptauthoring/backend/docs"
	"github.com/adaptauthoring/backend/internal/bootstrap"
	"github.com/adaptauthoring/backend/internal/handlers"
	"github.com/adaptauthoring/backend/internal/plugins"
	"github.com/adaptauthoring/backend/internal/services"
	"github.com/adaptauthoring/backend/internal/tasks"
	"github.com/adaptauthoring/backend/libs/auth/middleware"
	"github.com/adaptauthoring/backend/libs/auth/service"
	"github.com/adaptauthoring/backend/libs/config"
	"github.com/adaptauthoring/backend/libs/logger"
	loggerMiddleware "github.com/adaptauthoring/backend/libs/logger/middleware"
	sharedMiddleware "github.com/adaptauthoring/backend/libs/middlewares"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/hibiken/asynq"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// @title Adapt Authoring Course API
// @version 1.0
// @description API for course duplication and publishing
// @termsOfService http://swagger.io/terms/

// @contact.name API Support

// @license.name GPL 3.0
// @license.url https://www.gnu.org/licenses/gpl-3.0.html

// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key
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

	logger.Logger.Info("Starting Adapt Course API", zap.String("store", cfg.Store.Driver))

	ctx := context.Background()

	// Connect to the document store
	stores, err := bootstrap.OpenStores(ctx, cfg)
	if err != nil {
		logger.Logger.Fatal("Failed to connect to document store", zap.Error(err))
	}
	defer stores.Close()

	if stores.DB != nil {
		if err := runMigrations(stores.DB); err != nil {
			logger.Logger.Fatal("Failed to run migrations", zap.Error(err))
		}
		logger.Logger.Info("Migrations completed successfully")
	}

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

	// Create Asynq client
	asynqClient := asynq.NewClient(bootstrap.RedisClientOpt(cfg.Redis))
	defer asynqClient.Close()

	// Initialize services
	includeService := services.NewPluginIncludeService(plugins.NewFileManifestReader(cfg.Framework.Dir), stores.Content, logger.Logger)
	duplicationService := services.NewCourseDuplicationService(stores.Content, stores.CourseAssets, logger.Logger)
	publisher := bootstrap.NewPublisher(cfg, stores, assetStore, includeService, rdb, logger.Logger)
	dispatcher := tasks.NewDispatcher(asynqClient, cfg.Framework.LockTTL)

	// Initialize handlers
	courseHandler := handlers.NewCourseHandler(duplicationService, publisher, includeService, dispatcher, logger.Logger)

	// Initialize auth middleware
	tokenGenerator := service.NewTokenGenerator(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	authMiddleware := middleware.AuthMiddleware(tokenGenerator)
	authorMiddleware := middleware.RoleMiddleware(tokenGenerator, service.RoleAuthor)
	apiKeyMiddleware := middleware.APIKeyMiddleware(cfg.APIKey)

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(sharedMiddleware.RequestIDMiddleware)
	r.Use(loggerMiddleware.LoggerMiddleware(logger.Logger))
	r.Use(sharedMiddleware.RecoveryMiddleware(logger.Logger))
	r.Use(sharedMiddleware.CORSMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(httprate.LimitByIP(100, time.Minute))
	r.Use(sharedMiddleware.RequestSizeLimitMiddleware(1 * 1024 * 1024)) // 1MB

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL(fmt.Sprintf("http://localhost:%d/swagger/doc.json", cfg.Server.Port)),
	))

	// Register routes
	r.Route("/api/v1", func(r chi.Router) {
		courseHandler.RegisterRoutes(r, authMiddleware, authorMiddleware, apiKeyMiddleware)
	})

	// Setup server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Logger.Info("Server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Logger.Info("Server exited")
}

// runMigrations runs database migrations
func runMigrations(db *sql.DB) error {
	driver, err := mysql.WithInstance(db, &mysql.Config{
		MigrationsTable: "course_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	// Get the working directory or use migrations folder relative to the binary
	migrationPath := "file://migrations"
	if _, err := os.Stat("migrations"); os.IsNotExist(err) {
		if _, err := os.Stat("../../migrations"); err == nil {
			migrationPath = "file://../../migrations"
		}
	}

	m, err := migrate.NewWithDatabaseInstance(
		migrationPath,
		"mysql",
		driver,
	)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
