// Package observability provides structured logging, Prometheus metrics,
// health checks, and OpenTelemetry tracing and metrics for insight.
//
// # Structured Logging
//
// Loggers are logrus loggers writing JSON by default:
//
//	logger := observability.NewLogger(observability.InfoLevel, observability.FormatJSON, os.Stderr)
//	logger.WithField("phase", "events").Info("Migrating legacy view logs")
//
// FromContext returns the logger stored with WithLogger, tagged with the
// trace and span ids of the active span.
//
// # Prometheus Metrics
//
// The recorder and the flusher report through Metrics, registered on a
// caller-supplied registry and served by RegisterMetricsEndpoint:
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveViewRecorded(true)
//
// All Observe helpers accept a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, counterStore, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// A failing database makes the service unhealthy; a failing counter store
// only degrades it.
//
// # OpenTelemetry
//
// InitOTel installs OTLP/gRPC tracer and meter providers when enabled.
// Migration phases run in spans from Tracer and report row counts through
// MigrationMetrics:
//
//	providers, err := observability.InitOTel(ctx, cfg.OTel, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
