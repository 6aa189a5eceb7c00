package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/insight/pkg/observability"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvBool tests the getEnvBool helper function
func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{name: "returns true for 'true'", envValue: "true", want: true},
		{name: "returns true for 'TRUE'", envValue: "TRUE", want: true},
		{name: "returns true for '1'", envValue: "1", want: true},
		{name: "returns false for 'false'", defaultValue: true, envValue: "false", want: false},
		{name: "returns false for anything else", defaultValue: true, envValue: "yes", want: false},
		{name: "returns default when not set", defaultValue: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}

			got := getEnvBool("TEST_BOOL", tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvInt tests the getEnvInt helper function
func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     int
	}{
		{name: "parses integer", envValue: "42", want: 42},
		{name: "parses negative integer", envValue: "-1", want: -1},
		{name: "returns default for invalid value", envValue: "forty-two", want: 7},
		{name: "returns default when not set", want: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_INT", tt.envValue)
			}

			got := getEnvInt("TEST_INT", 7)
			if got != tt.want {
				t.Errorf("getEnvInt() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestGetEnvDuration tests the getEnvDuration helper function
func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{name: "parses duration", envValue: "90s", want: 90 * time.Second},
		{name: "parses hours", envValue: "24h", want: 24 * time.Hour},
		{name: "returns default for invalid value", envValue: "soon", want: time.Minute},
		{name: "returns default when not set", want: time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_DURATION", tt.envValue)
			}

			got := getEnvDuration("TEST_DURATION", time.Minute)
			if got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "redis://localhost:6379/0", cfg.Storage.RedisURL)
	assert.Equal(t, "insight:", cfg.Storage.KeyPrefix)
	assert.Equal(t, 24*time.Hour, cfg.Storage.Expiration)
	assert.Equal(t, 1000, cfg.Migration.BatchSize)
	assert.Equal(t, 500, cfg.Migration.InsertBatchSize)
	assert.Equal(t, 8, cfg.Flush.Workers)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.Level())
	assert.Equal(t, observability.FormatJSON, cfg.Observability.LogFormat)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTel.Enabled)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "insight.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  redis_url: redis://cache:6379/2
  postgres_url: postgres://db/site?sslmode=disable
  key_prefix: "site:"
  expiration: 12h
  session_ttl: 30m
migration:
  batch_size: 250
flush:
  schedule: "@every 1m"
  workers: 4
observability:
  log_level: debug
  log_format: text
  otel:
    enabled: true
    endpoint: collector:4317
    service_name: insight-flush
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "redis://cache:6379/2", cfg.Storage.RedisURL)
	assert.Equal(t, "postgres://db/site?sslmode=disable", cfg.Storage.PostgresURL)
	assert.Equal(t, "site:", cfg.Storage.KeyPrefix)
	assert.Equal(t, 12*time.Hour, cfg.Storage.Expiration)
	assert.Equal(t, 30*time.Minute, cfg.Storage.SessionTTL)
	assert.Equal(t, 250, cfg.Migration.BatchSize)
	assert.Equal(t, 500, cfg.Migration.InsertBatchSize, "unset keys keep their default")
	assert.Equal(t, "@every 1m", cfg.Flush.Schedule)
	assert.Equal(t, 4, cfg.Flush.Workers)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.Level())
	assert.Equal(t, observability.FormatText, cfg.Observability.LogFormat)
	assert.True(t, cfg.Observability.OTel.Enabled)
	assert.Equal(t, "collector:4317", cfg.Observability.OTel.Endpoint)
	assert.Equal(t, "insight-flush", cfg.Observability.OTel.ServiceName)
	assert.Equal(t, "1.0.0", cfg.Observability.OTel.ServiceVersion)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
storage:
  redis_url: redis://from-file:6379/0
migration:
  batch_size: 250
`)
	t.Setenv("INSIGHT_REDIS_URL", "redis://from-env:6379/0")
	t.Setenv("INSIGHT_MIGRATION_BATCH_SIZE", "50")
	t.Setenv("INSIGHT_SESSION_TTL", "1h")
	t.Setenv("INSIGHT_REDIS_DB", "3")
	t.Setenv("INSIGHT_METRICS_ENABLED", "false")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "redis://from-env:6379/0", cfg.Storage.RedisURL)
	assert.Equal(t, 50, cfg.Migration.BatchSize)
	assert.Equal(t, time.Hour, cfg.Storage.SessionTTL)
	assert.Equal(t, 3, cfg.Storage.RedisDB)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfig_FileFromEnv(t *testing.T) {
	path := writeConfigFile(t, "flush:\n  workers: 2\n")
	t.Setenv("INSIGHT_CONFIG_FILE", path)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Flush.Workers)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("unknown key", func(t *testing.T) {
		_, err := LoadConfig(writeConfigFile(t, "storage:\n  redis_uri: redis://x\n"))
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("INSIGHT_MIGRATION_BATCH_SIZE", "0")
		_, err := LoadConfig("")
		assert.ErrorContains(t, err, "migration batch size must be positive")
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfigFile(t, ""))
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "missing redis url", mutate: func(c *Config) { c.Storage.RedisURL = "" }, wantErr: "redis URL is required"},
		{name: "zero expiration", mutate: func(c *Config) { c.Storage.Expiration = 0 }, wantErr: "expiration must be positive"},
		{name: "zero session ttl", mutate: func(c *Config) { c.Storage.SessionTTL = 0 }, wantErr: "session TTL must be positive"},
		{name: "min conns above max", mutate: func(c *Config) { c.Storage.PostgresMinConns = 50 }, wantErr: "exceeds max conns"},
		{name: "zero insert batch", mutate: func(c *Config) { c.Migration.InsertBatchSize = 0 }, wantErr: "insert batch size"},
		{name: "largest insert batch", mutate: func(c *Config) { c.Migration.InsertBatchSize = 6553 }},
		{name: "insert batch over bind limit", mutate: func(c *Config) { c.Migration.InsertBatchSize = 6554 }, wantErr: "insert batch size must be at most 6553"},
		{name: "zero workers", mutate: func(c *Config) { c.Flush.Workers = 0 }, wantErr: "flush workers"},
		{name: "bad schedule", mutate: func(c *Config) { c.Flush.Schedule = "every minute" }, wantErr: "invalid flush schedule"},
		{name: "missing health port", mutate: func(c *Config) { c.Server.HealthPort = "" }, wantErr: "health port is required"},
		{name: "bad log format", mutate: func(c *Config) { c.Observability.LogFormat = "xml" }, wantErr: "invalid log format"},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTel.Enabled = true
				c.Observability.OTel.Endpoint = ""
			},
			wantErr: "endpoint is required",
		},
		{
			name: "otel without service name",
			mutate: func(c *Config) {
				c.Observability.OTel.Enabled = true
				c.Observability.OTel.ServiceName = ""
			},
			wantErr: "service name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
