package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// LoadTestConfig loads the configuration from the .env file or environment variables for integration tests
// If the test database is not configured, returns a Config with empty values
// which allows tests to skip themselves
func LoadTestConfig() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist - it's optional)
	_ = godotenv.Load("../../.env")
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.Store.Driver = StoreMySQL
	cfg.Mongo.URI = os.Getenv("TEST_MONGO_URI")
	cfg.Mongo.Database = getEnv("TEST_MONGO_DATABASE", "adapt-test")

	cfg.Database.Host = os.Getenv("TEST_DB_HOST")
	cfg.Database.User = os.Getenv("TEST_DB_USER")
	cfg.Database.Password = os.Getenv("TEST_DB_PASSWORD")
	cfg.Database.DBName = os.Getenv("TEST_DB_NAME")
	if cfg.Database.Host == "" || cfg.Database.User == "" || cfg.Database.DBName == "" {
		// Return empty database config so that tests can skip
		cfg.Database = DatabaseConfig{}
		return cfg, nil
	}

	portStr := getEnv("TEST_DB_PORT", "3306")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid TEST_DB_PORT: %w", err)
	}
	cfg.Database.Port = port

	return cfg, nil
}
