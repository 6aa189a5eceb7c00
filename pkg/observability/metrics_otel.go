package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Migration outcomes attached to row counts.
const (
	OutcomeMigrated = "migrated"
	OutcomeSkipped  = "skipped"
)

// MigrationMetrics holds the OpenTelemetry instruments of a migration run.
// The run is a short-lived job, so the counts are pushed over OTLP rather
// than scraped.
type MigrationMetrics struct {
	rows          metric.Int64Counter
	phaseDuration metric.Float64Histogram
	runs          metric.Int64Counter
}

// NewMigrationMetrics creates the instruments on the global meter provider.
func NewMigrationMetrics() (*MigrationMetrics, error) {
	meter := otel.Meter(InstrumentationName)

	m := &MigrationMetrics{}
	var err error

	m.rows, err = meter.Int64Counter(
		"insight.migration.rows",
		metric.WithDescription("Rows emitted or skipped by a migration phase"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration rows counter: %w", err)
	}

	m.phaseDuration, err = meter.Float64Histogram(
		"insight.migration.phase.duration",
		metric.WithDescription("Migration phase duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration phase duration histogram: %w", err)
	}

	m.runs, err = meter.Int64Counter(
		"insight.migration.runs",
		metric.WithDescription("Completed migration runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration runs counter: %w", err)
	}

	return m, nil
}

// RecordRows adds n rows for phase with the given outcome. Safe on a nil receiver.
func (m *MigrationMetrics) RecordRows(ctx context.Context, phase, outcome string, n int64, dryRun bool) {
	if m == nil || n == 0 {
		return
	}
	m.rows.Add(ctx, n, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.String("outcome", outcome),
		attribute.Bool("dry_run", dryRun),
	))
}

// RecordPhase records how long phase took and whether it failed.
func (m *MigrationMetrics) RecordPhase(ctx context.Context, phase string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.phaseDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("error", err != nil),
	))
}

// RecordRun counts a finished run.
func (m *MigrationMetrics) RecordRun(ctx context.Context, dryRun bool, err error) {
	if m == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("dry_run", dryRun),
		attribute.Bool("error", err != nil),
	))
}
