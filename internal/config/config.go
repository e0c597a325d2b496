package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Config holds the application configuration.
type Config struct {
	// Server settings
	ServerPort      string
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration

	// Storage settings
	StorageDriver string
	MongoURI      string
	MongoDatabase string

	// List cache, disabled when RedisAddr is empty
	RedisAddr string
	CacheTTL  time.Duration

	// OpenTelemetry settings
	OTLPEndpoint string
	ServiceName  string
	Environment  string
}

// Load reads a .env file if one exists, then returns configuration from
// environment variables with sensible defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", slog.Any("error", err))
	}

	return &Config{
		ServerPort:      getEnv("PORT", "3000"),
		StartupTimeout:  getEnvDuration("STARTUP_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		StorageDriver:   getEnv("STORAGE_DRIVER", DriverMongo),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DATABASE", "todo"),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		CacheTTL:        getEnvDuration("CACHE_TTL", 30*time.Second),
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		ServiceName:     getEnv("OTEL_SERVICE_NAME", "todo-backend"),
		Environment:     getEnv("ENVIRONMENT", "development"),
	}
}

// Validate reports configuration that cannot start the server.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverMongo:
		if c.MongoURI == "" {
			return errors.New("MONGO_URI is required when STORAGE_DRIVER is mongo")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.ServerPort == "" {
		return errors.New("PORT must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("invalid duration, using default",
			slog.String("key", key),
			slog.String("value", value),
			slog.Duration("default", defaultValue),
		)
	}
	return defaultValue
}
