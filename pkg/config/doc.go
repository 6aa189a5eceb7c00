// Package config loads insight configuration.
//
// # Overview
//
// Settings start from defaults, are overlaid by an optional YAML file and
// finally by INSIGHT_* environment variables. The result is validated.
//
// # Configuration Structure
//
// Counter store settings:
//
//	INSIGHT_REDIS_URL="redis://localhost:6379/0"
//	INSIGHT_REDIS_POOL_SIZE="10"
//	INSIGHT_KEY_PREFIX="insight:"
//	INSIGHT_EXPIRATION="24h"
//	INSIGHT_SESSION_TTL="24h"
//
// Durable storage settings:
//
//	INSIGHT_POSTGRES_URL="postgres://localhost/site?sslmode=disable"
//	INSIGHT_POSTGRES_MAX_CONNS="20"
//
// Migration and flush settings:
//
//	INSIGHT_MIGRATION_BATCH_SIZE="1000"
//	INSIGHT_MIGRATION_INSERT_BATCH_SIZE="500"
//	INSIGHT_FLUSH_SCHEDULE="*/5 * * * *"
//	INSIGHT_FLUSH_WORKERS="8"
//
// Observability settings:
//
//	INSIGHT_LOG_LEVEL="info"  # debug, info, warn, error
//	INSIGHT_LOG_FORMAT="json" # json, text
//	INSIGHT_METRICS_ENABLED="true"
//	INSIGHT_HEALTH_PORT="9090"
//	INSIGHT_OTEL_ENABLED="true"
//	INSIGHT_OTEL_ENDPOINT="otel-collector:4317"
//
// The same settings in YAML:
//
//	storage:
//	  redis_url: redis://localhost:6379/0
//	  postgres_url: postgres://localhost/site?sslmode=disable
//	migration:
//	  batch_size: 1000
//	flush:
//	  schedule: "*/5 * * * *"
//	observability:
//	  log_level: info
//	  otel:
//	    enabled: true
//
// # Usage Example
//
//	cfg, err := config.LoadConfig(path)
//	if err != nil {
//		log.Fatal(err)
//	}
package config
