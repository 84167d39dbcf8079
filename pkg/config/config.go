package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the serving engine.
// Every environment variable is read here and nowhere else.
type Config struct {
	// Server
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Model registry
	Registry RegistryConfig

	// Feature computation and caching
	Features FeatureConfig

	// Serving behavior
	Serving ServingConfig

	// Logging
	LogLevel  string
	LogFormat string
}

// DatabaseConfig holds PostgreSQL configuration for the candle store.
type DatabaseConfig struct {
	URL string

	// Connection pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds the optional shared feature-cache tier.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// RegistryConfig holds the model registry endpoint configuration.
type RegistryConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second against the registry
	RateBurst int
}

// FeatureConfig holds feature cache and computation settings.
type FeatureConfig struct {
	TTL            time.Duration
	SchemaVersion  string
	Lookback       int // candles pulled per entity for feature computation
	ComputeTimeout time.Duration
}

// ServingConfig holds request handling and reload settings.
type ServingConfig struct {
	CatalogPath      string
	RequestDeadline  time.Duration
	BatchParallelism int
	ReloadSchedule   string // cron expression with seconds
}

// Load reads configuration from environment variables.
// Only this function calls os.Getenv().
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8090"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 25),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		Registry: RegistryConfig{
			BaseURL:   getEnv("REGISTRY_BASE_URL", "http://localhost:5000"),
			Timeout:   getEnvAsDuration("REGISTRY_TIMEOUT", "10s"),
			RateLimit: getEnvAsFloat("REGISTRY_RATE_LIMIT", 10),
			RateBurst: getEnvAsInt("REGISTRY_RATE_BURST", 5),
		},

		Features: FeatureConfig{
			TTL:            getEnvAsDuration("FEATURE_TTL", "60s"),
			SchemaVersion:  getEnv("FEATURE_SCHEMA_VERSION", "v1"),
			Lookback:       getEnvAsInt("FEATURE_LOOKBACK", 120),
			ComputeTimeout: getEnvAsDuration("FEATURE_COMPUTE_TIMEOUT", "5s"),
		},

		Serving: ServingConfig{
			CatalogPath:      getEnv("CATALOG_PATH", "config/catalog.yaml"),
			RequestDeadline:  getEnvAsDuration("REQUEST_DEADLINE", "10s"),
			BatchParallelism: getEnvAsInt("BATCH_PARALLELISM", 8),
			ReloadSchedule:   getEnv("RELOAD_SCHEDULE", "0 */5 * * * *"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "debug"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// validate checks if required configuration values are set.
func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Registry.BaseURL == "" {
		return fmt.Errorf("REGISTRY_BASE_URL is required")
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("ENV must be one of: development, staging, production")
	}

	if c.Features.TTL <= 0 {
		return fmt.Errorf("FEATURE_TTL must be positive")
	}

	if c.Serving.BatchParallelism <= 0 {
		return fmt.Errorf("BATCH_PARALLELISM must be positive")
	}

	return nil
}

// loadEnvFile tries to load .env from multiple locations.
func loadEnvFile() {
	paths := []string{
		".env",
	}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}
