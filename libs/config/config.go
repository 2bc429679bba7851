// Package config provides configuration for the application
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers selectable with STORE_DRIVER
const (
	StoreMySQL = "mysql"
	StoreMongo = "mongo"
)

// Config holds all configuration for the application
type Config struct {
	Database    DatabaseConfig
	Store       StoreConfig
	Mongo       MongoConfig
	Redis       RedisConfig
	Server      ServerConfig
	Logging     LoggingConfig
	CORS        CORSConfig
	JWT         JWTConfig
	SMTP        SMTPConfig
	Framework   FrameworkConfig
	Assets      AssetsConfig
	Maintenance MaintenanceConfig
	APIKey      string
}

// DatabaseConfig holds MySQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// StoreConfig selects the content document store
type StoreConfig struct {
	Driver string
}

// MongoConfig holds MongoDB connection settings
type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the Redis address in host:port form
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port int
	// BaseURL is the public address used in links sent to users
	BaseURL string
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level string
}

// CORSConfig holds CORS settings
type CORSConfig struct {
	AllowedOrigins []string
}

// JWTConfig holds JWT token configuration
type JWTConfig struct {
	Secret            string
	AccessTokenExpiry time.Duration
}

// SMTPConfig holds SMTP server configuration
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// FrameworkConfig describes the framework checkout used for builds
type FrameworkConfig struct {
	Dir          string
	BuildRoot    string
	BuildCommand string
	Language     string
	LockTTL      time.Duration
}

// AssetsConfig holds asset store settings
type AssetsConfig struct {
	// Repository is the default repository for asset records that name none
	Repository     string
	LocalPath      string
	GCSBucket      string
	GCSPrefix      string
	GCSCredentials string
}

// MaintenanceConfig holds the schedule of maintenance jobs
type MaintenanceConfig struct {
	SweepSchedule string
	ScratchMaxAge time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (optional)
	godotenv.Load()

	cfg := &Config{}

	// Store configuration
	cfg.Store.Driver = getEnv("STORE_DRIVER", StoreMySQL)
	switch cfg.Store.Driver {
	case StoreMySQL:
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	case StoreMongo:
		cfg.Mongo.URI = os.Getenv("MONGO_URI")
		if cfg.Mongo.URI == "" {
			return nil, fmt.Errorf("MONGO_URI is required")
		}
		cfg.Mongo.Database = getEnv("MONGO_DATABASE", "adapt-tenant-master")
	default:
		return nil, fmt.Errorf("invalid STORE_DRIVER: %q", cfg.Store.Driver)
	}

	// Server configuration
	serverPort, err := getInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.Server.Port = serverPort
	cfg.Server.BaseURL = strings.TrimRight(getEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", serverPort)), "/")

	cfg.Logging.Level = getEnv("LOG_LEVEL", "info")

	// CORS configuration, all origins allowed when unset
	cfg.CORS.AllowedOrigins = splitList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}

	// JWT configuration
	cfg.JWT.Secret = os.Getenv("JWT_SECRET")
	if cfg.JWT.Secret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.JWT.AccessTokenExpiry, err = getDuration("JWT_ACCESS_TOKEN_EXPIRY", time.Hour); err != nil {
		return nil, err
	}

	// API key for the worker callbacks (optional)
	cfg.APIKey = os.Getenv("API_KEY")

	// Redis configuration
	cfg.Redis.Host = getEnv("REDIS_HOST", "localhost")
	if cfg.Redis.Port, err = getInt("REDIS_PORT", 6379); err != nil {
		return nil, err
	}
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if cfg.Redis.DB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}

	// SMTP configuration (optional, for publish notifications)
	cfg.SMTP.Host = getEnv("SMTP_HOST", "localhost")
	if cfg.SMTP.Port, err = getInt("SMTP_PORT", 587); err != nil {
		return nil, err
	}
	cfg.SMTP.Username = os.Getenv("SMTP_USERNAME")
	cfg.SMTP.Password = os.Getenv("SMTP_PASSWORD")
	cfg.SMTP.From = getEnv("SMTP_FROM", "noreply@adapt.local")

	// Framework configuration
	cfg.Framework.Dir = os.Getenv("FRAMEWORK_DIR")
	if cfg.Framework.Dir == "" {
		return nil, fmt.Errorf("FRAMEWORK_DIR is required")
	}
	cfg.Framework.BuildRoot = os.Getenv("BUILD_ROOT")
	if cfg.Framework.BuildRoot == "" {
		return nil, fmt.Errorf("BUILD_ROOT is required")
	}
	cfg.Framework.BuildCommand = getEnv("BUILD_COMMAND", "grunt")
	cfg.Framework.Language = getEnv("COURSE_LANGUAGE", "en")
	if cfg.Framework.LockTTL, err = getDuration("PUBLISH_LOCK_TTL", 30*time.Minute); err != nil {
		return nil, err
	}

	// Asset store configuration
	cfg.Assets.Repository = getEnv("ASSET_REPOSITORY", "localfs")
	cfg.Assets.LocalPath = os.Getenv("ASSET_LOCAL_PATH")
	cfg.Assets.GCSBucket = os.Getenv("ASSET_GCS_BUCKET")
	cfg.Assets.GCSPrefix = os.Getenv("ASSET_GCS_PREFIX")
	cfg.Assets.GCSCredentials = os.Getenv("ASSET_GCS_CREDENTIALS")
	if cfg.Assets.LocalPath == "" && cfg.Assets.GCSBucket == "" {
		return nil, fmt.Errorf("ASSET_LOCAL_PATH or ASSET_GCS_BUCKET is required")
	}

	// Maintenance configuration
	cfg.Maintenance.SweepSchedule = getEnv("SCRATCH_SWEEP_SCHEDULE", "0 3 * * *")
	if cfg.Maintenance.ScratchMaxAge, err = getDuration("SCRATCH_MAX_AGE", 24*time.Hour); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadDatabase(cfg *Config) error {
	required := []struct {
		name string
		dst  *string
	}{
		{"DB_HOST", &cfg.Database.Host},
		{"DB_USER", &cfg.Database.User},
		{"DB_PASSWORD", &cfg.Database.Password},
		{"DB_NAME", &cfg.Database.DBName},
	}
	for _, r := range required {
		*r.dst = os.Getenv(r.name)
		if *r.dst == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	port, err := getInt("DB_PORT", 3306)
	if err != nil {
		return err
	}
	cfg.Database.Port = port
	return nil
}

// DSN returns the database connection string
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
	)
}

func getEnv(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func getInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return n, nil
}

func getDuration(name string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

// splitList parses a comma-separated list, dropping empty items
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
