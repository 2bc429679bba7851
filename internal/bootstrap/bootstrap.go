// Package bootstrap connects the stores and builds the components shared by the api and worker binaries
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/adaptauthoring/backend/internal/locks"
	"github.com/adaptauthoring/backend/internal/publish"
	"github.com/adaptauthoring/backend/internal/repositories"
	"github.com/adaptauthoring/backend/internal/services"
	"github.com/adaptauthoring/backend/internal/storage"
	"github.com/adaptauthoring/backend/libs/config"
	"github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/hibiken/asynq"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// Repository names used by asset records
const (
	RepositoryLocal = "localfs"
	RepositoryGCS   = "gcs"
)

// Stores holds the document store repositories
type Stores struct {
	Content      services.ContentRepository
	CourseAssets services.CourseAssetRepository
	Assets       publish.AssetRepository
	// DB is set when the MySQL driver is used
	DB     *sql.DB
	closer func() error
}

// Close releases the store connection
func (s *Stores) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// OpenStores connects to the configured document store
func OpenStores(ctx context.Context, cfg *config.Config) (*Stores, error) {
	switch cfg.Store.Driver {
	case config.StoreMongo:
		client, err := ConnectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.Mongo.Database)
		return &Stores{
			Content:      repositories.NewMongoContentRepository(db),
			CourseAssets: repositories.NewMongoCourseAssetRepository(db),
			Assets:       repositories.NewMongoAssetRepository(db),
			closer: func() error {
				return client.Disconnect(context.Background())
			},
		}, nil
	default:
		db, err := ConnectDB(cfg.DSN())
		if err != nil {
			return nil, err
		}
		return &Stores{
			Content:      repositories.NewContentRepository(db),
			CourseAssets: repositories.NewCourseAssetRepository(db),
			Assets:       repositories.NewAssetRepository(db),
			DB:           db,
			closer:       db.Close,
		}, nil
	}
}

// ConnectDB connects to the database
func ConnectDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// ConnectMongo connects to MongoDB and checks the connection
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}
	return client, nil
}

// NewRedisClient creates the redis client used for publish locks
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// RedisClientOpt returns the asynq connection options
func RedisClientOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewAssetStore creates the asset store with every configured backend.
// The returned close function releases cloud clients.
func NewAssetStore(ctx context.Context, cfg config.AssetsConfig) (*storage.AssetStore, func(), error) {
	backends := make(map[string]storage.Backend)
	closeFn := func() {}

	if cfg.LocalPath != "" {
		backends[RepositoryLocal] = storage.NewLocalStorage(cfg.LocalPath)
	}
	if cfg.GCSBucket != "" {
		gcs, err := storage.NewGCSStorage(ctx, cfg.GCSBucket, cfg.GCSPrefix, cfg.GCSCredentials)
		if err != nil {
			return nil, nil, err
		}
		backends[RepositoryGCS] = gcs
		closeFn = func() { _ = gcs.Close() }
	}

	return storage.NewAssetStore(cfg.Repository, backends), closeFn, nil
}

// NewPublisher builds the publish pipeline. A nil redis client falls back to an in-process lock.
func NewPublisher(cfg *config.Config, stores *Stores, store publish.AssetStore, includes publish.IncludeResolver, rdb *redis.Client, logger *zap.Logger) *publish.Publisher {
	var locker publish.Locker = locks.NewLocalLocker()
	if rdb != nil {
		locker = locks.NewRedisLocker(rdb, "adapt:publish:", logger)
	}

	build := publish.NewCommandBuildTool(cfg.Framework.BuildCommand, cfg.Framework.Dir, logger)

	return publish.NewPublisher(publish.Config{
		FrameworkDir: cfg.Framework.Dir,
		BuildRoot:    cfg.Framework.BuildRoot,
		Language:     cfg.Framework.Language,
		LockTTL:      cfg.Framework.LockTTL,
	}, stores.Content, stores.Assets, store, includes, build, locker, logger)
}
