package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/insight/pkg/analytics"
	"github.com/platinummonkey/insight/pkg/migrate"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Migration configuration
	Migration MigrationConfig `yaml:"migration"`

	// Counter flush configuration
	Flush FlushConfig `yaml:"flush"`

	// Health/metrics server configuration
	Server ServerConfig `yaml:"server"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// MigrationConfig holds migration engine settings
type MigrationConfig struct {
	BatchSize       int `yaml:"batch_size"`
	InsertBatchSize int `yaml:"insert_batch_size"`
}

// FlushConfig holds counter flush settings
type FlushConfig struct {
	// Schedule is a standard five-field cron expression or descriptor.
	Schedule string `yaml:"schedule"`
	Workers  int    `yaml:"workers"`
}

// ServerConfig holds the health/metrics server settings
type ServerConfig struct {
	HealthPort      string        `yaml:"health_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTel observability.OTelConfig `yaml:"otel"`
}

// Level returns the parsed log level.
func (c ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(c.LogLevel)
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Storage: storage.DefaultConfig(),
		Migration: MigrationConfig{
			BatchSize:       migrate.DefaultBatchSize,
			InsertBatchSize: migrate.DefaultInsertBatchSize,
		},
		Flush: FlushConfig{
			Schedule: "*/5 * * * *",
			Workers:  analytics.DefaultFlushWorkers,
		},
		Server: ServerConfig{
			HealthPort:      "9090",
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      observability.FormatJSON,
			MetricsEnabled: true,
			OTel: observability.OTelConfig{
				Endpoint:       "localhost:4317",
				ServiceName:    "insight",
				ServiceVersion: "1.0.0",
				Insecure:       true,
			},
		},
	}
}

// LoadConfig loads configuration: defaults, then the YAML file at path (or
// INSIGHT_CONFIG_FILE when path is empty), then INSIGHT_* environment
// variables. The result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = getEnv("INSIGHT_CONFIG_FILE", "")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyStorageEnv(&cfg.Storage)
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// decodeYAML decodes data over cfg, rejecting unknown keys.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyStorageEnv overrides storage settings from the environment
func applyStorageEnv(cfg *storage.Config) {
	// PostgreSQL config
	cfg.PostgresURL = getEnv("INSIGHT_POSTGRES_URL", cfg.PostgresURL)
	cfg.PostgresReplicaURLs = getEnv("INSIGHT_POSTGRES_REPLICA_URLS", cfg.PostgresReplicaURLs)
	if maxConns := getEnvInt("INSIGHT_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("INSIGHT_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("INSIGHT_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	cfg.RedisURL = getEnv("INSIGHT_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("INSIGHT_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("INSIGHT_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if maxRetries := getEnvInt("INSIGHT_REDIS_MAX_RETRIES", 0); maxRetries > 0 {
		cfg.RedisMaxRetries = maxRetries
	}
	if poolSize := getEnvInt("INSIGHT_REDIS_POOL_SIZE", 0); poolSize > 0 {
		cfg.RedisPoolSize = poolSize
	}
	cfg.RedisDialTimeout = getEnvDuration("INSIGHT_REDIS_DIAL_TIMEOUT", cfg.RedisDialTimeout)
	cfg.RedisReadTimeout = getEnvDuration("INSIGHT_REDIS_READ_TIMEOUT", cfg.RedisReadTimeout)
	cfg.RedisWriteTimeout = getEnvDuration("INSIGHT_REDIS_WRITE_TIMEOUT", cfg.RedisWriteTimeout)

	// Counter keys
	cfg.KeyPrefix = getEnv("INSIGHT_KEY_PREFIX", cfg.KeyPrefix)
	cfg.Expiration = getEnvDuration("INSIGHT_EXPIRATION", cfg.Expiration)
	cfg.SessionTTL = getEnvDuration("INSIGHT_SESSION_TTL", cfg.SessionTTL)

	// Content type cache
	if size := getEnvInt("INSIGHT_CONTENT_TYPE_CACHE_SIZE", 0); size > 0 {
		cfg.ContentTypeCacheSize = size
	}
	cfg.ContentTypeCacheTTL = getEnvDuration("INSIGHT_CONTENT_TYPE_CACHE_TTL", cfg.ContentTypeCacheTTL)
}

// applyEnv overrides the remaining settings from the environment
func applyEnv(cfg *Config) {
	cfg.Migration.BatchSize = getEnvInt("INSIGHT_MIGRATION_BATCH_SIZE", cfg.Migration.BatchSize)
	cfg.Migration.InsertBatchSize = getEnvInt("INSIGHT_MIGRATION_INSERT_BATCH_SIZE", cfg.Migration.InsertBatchSize)

	cfg.Flush.Schedule = getEnv("INSIGHT_FLUSH_SCHEDULE", cfg.Flush.Schedule)
	cfg.Flush.Workers = getEnvInt("INSIGHT_FLUSH_WORKERS", cfg.Flush.Workers)

	cfg.Server.HealthPort = getEnv("INSIGHT_HEALTH_PORT", cfg.Server.HealthPort)
	cfg.Server.ShutdownTimeout = getEnvDuration("INSIGHT_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	obs := &cfg.Observability
	obs.LogLevel = getEnv("INSIGHT_LOG_LEVEL", obs.LogLevel)
	obs.LogFormat = getEnv("INSIGHT_LOG_FORMAT", obs.LogFormat)
	obs.MetricsEnabled = getEnvBool("INSIGHT_METRICS_ENABLED", obs.MetricsEnabled)
	obs.OTel.Enabled = getEnvBool("INSIGHT_OTEL_ENABLED", obs.OTel.Enabled)
	obs.OTel.Endpoint = getEnv("INSIGHT_OTEL_ENDPOINT", obs.OTel.Endpoint)
	obs.OTel.ServiceName = getEnv("INSIGHT_OTEL_SERVICE_NAME", obs.OTel.ServiceName)
	obs.OTel.ServiceVersion = getEnv("INSIGHT_OTEL_SERVICE_VERSION", obs.OTel.ServiceVersion)
	obs.OTel.Insecure = getEnvBool("INSIGHT_OTEL_INSECURE", obs.OTel.Insecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate storage config
	if c.Storage.RedisURL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if c.Storage.Expiration <= 0 {
		return fmt.Errorf("expiration must be positive, got %s", c.Storage.Expiration)
	}
	if c.Storage.SessionTTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %s", c.Storage.SessionTTL)
	}
	if c.Storage.PostgresMinConns > c.Storage.PostgresMaxConns {
		return fmt.Errorf("postgres min conns (%d) exceeds max conns (%d)", c.Storage.PostgresMinConns, c.Storage.PostgresMaxConns)
	}

	// Validate migration config
	if c.Migration.BatchSize <= 0 {
		return fmt.Errorf("migration batch size must be positive, got %d", c.Migration.BatchSize)
	}
	if c.Migration.InsertBatchSize <= 0 {
		return fmt.Errorf("migration insert batch size must be positive, got %d", c.Migration.InsertBatchSize)
	}
	if c.Migration.InsertBatchSize > migrate.MaxInsertBatchSize {
		return fmt.Errorf("migration insert batch size must be at most %d, got %d", migrate.MaxInsertBatchSize, c.Migration.InsertBatchSize)
	}

	// Validate flush config
	if c.Flush.Workers <= 0 {
		return fmt.Errorf("flush workers must be positive, got %d", c.Flush.Workers)
	}
	if _, err := cron.ParseStandard(c.Flush.Schedule); err != nil {
		return fmt.Errorf("invalid flush schedule %q: %w", c.Flush.Schedule, err)
	}

	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}

	// Validate observability config
	switch c.Observability.LogFormat {
	case observability.FormatJSON, observability.FormatText:
	default:
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat)
	}
	if c.Observability.OTel.Enabled {
		if c.Observability.OTel.Endpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTel.ServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
