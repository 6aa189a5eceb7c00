package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/insight/pkg/contenttypes"
	"github.com/platinummonkey/insight/pkg/contextkeys"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
)

const (
	DefaultBatchSize       = 1000
	DefaultInsertBatchSize = 500
	// MaxInsertBatchSize keeps a bulk insert of events, which binds ten
	// parameters per row, under PostgreSQL's 65535 bind parameter limit.
	MaxInsertBatchSize = 65535 / 10

	// progressEvery is the number of log batches between progress lines.
	progressEvery = 5
)

// Phase names, in run order.
const (
	PhaseEvents     = "events"
	PhaseSummaries  = "summaries"
	PhaseStatistics = "statistics"
	PhaseRegistry   = "registry"
)

// Options controls a migration run.
type Options struct {
	// DryRun performs every read, resolution and log line but no writes.
	DryRun bool
	// BatchSize is the number of source rows read per page.
	BatchSize int
	// InsertBatchSize is the number of rows per bulk insert.
	InsertBatchSize int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.InsertBatchSize <= 0 {
		o.InsertBatchSize = DefaultInsertBatchSize
	}
	o.InsertBatchSize = min(o.InsertBatchSize, MaxInsertBatchSize)
	return o
}

// Report holds the row counts of a run. A dry run reports the counts a live
// run would.
type Report struct {
	EventsMigrated     int64 `json:"events_migrated"`
	SummariesMigrated  int64 `json:"summaries_migrated"`
	StatisticsMigrated int64 `json:"statistics_migrated"`
	TypesRegistered    int64 `json:"types_registered"`
}

// Engine migrates legacy view logs, summaries and per-object counter columns
// into the normalized tables. Every phase is safe to re-run.
type Engine struct {
	store    storage.DurableStore
	resolver *contenttypes.Resolver
	opts     Options
	logger   logrus.FieldLogger
	metrics  *observability.MigrationMetrics

	// types emitted by earlier phases of the current run
	seen map[int64]contenttypes.ContentType
}

// NewEngine creates a migration engine. A nil resolver resolves through the
// store without a shared cache.
func NewEngine(store storage.DurableStore, resolver *contenttypes.Resolver, opts Options, logger logrus.FieldLogger, metrics *observability.MigrationMetrics) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if resolver == nil {
		resolver = contenttypes.NewResolver(store, 0, 0)
	}
	return &Engine{
		store:    store,
		resolver: resolver,
		opts:     opts.withDefaults(),
		logger:   logger,
		metrics:  metrics,
		seen:     make(map[int64]contenttypes.ContentType),
	}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Run executes all phases in order. The first fatal error aborts the run and
// is returned wrapped with the phase name.
func (e *Engine) Run(ctx context.Context) (report Report, err error) {
	if contextkeys.GetRunID(ctx) == "" {
		ctx = contextkeys.WithRunID(ctx, uuid.NewString())
	}
	ctx = observability.WithLogger(ctx, e.logger)
	log := observability.FromContext(ctx)
	defer func() { e.metrics.RecordRun(ctx, e.opts.DryRun, err) }()

	e.seen = make(map[int64]contenttypes.ContentType)

	if e.opts.DryRun {
		log.Warn("DRY RUN MODE - no changes will be saved")
	} else if err := e.store.EnsureSchema(ctx); err != nil {
		return report, fmt.Errorf("schema: %w", err)
	}

	log.WithFields(logrus.Fields{
		"batch_size":        e.opts.BatchSize,
		"insert_batch_size": e.opts.InsertBatchSize,
		"dry_run":           e.opts.DryRun,
	}).Info("Starting migration")

	phases := []struct {
		name string
		run  func(context.Context) (int64, error)
		dest *int64
	}{
		{PhaseEvents, e.MigrateEventLogs, &report.EventsMigrated},
		{PhaseSummaries, e.NormalizeSummaries, &report.SummariesMigrated},
		{PhaseStatistics, e.MigrateMixinStatistics, &report.StatisticsMigrated},
		{PhaseRegistry, e.RegisterTypes, &report.TypesRegistered},
	}

	for _, phase := range phases {
		n, err := e.runPhase(ctx, phase.name, phase.run)
		*phase.dest = n
		if err != nil {
			return report, fmt.Errorf("%s: %w", phase.name, err)
		}
	}

	log.WithFields(logrus.Fields{
		"events":     report.EventsMigrated,
		"summaries":  report.SummariesMigrated,
		"statistics": report.StatisticsMigrated,
		"registered": report.TypesRegistered,
	}).Info("Migration completed")

	return report, nil
}

func (e *Engine) runPhase(ctx context.Context, name string, run func(context.Context) (int64, error)) (int64, error) {
	start := time.Now()
	ctx, span := observability.Tracer().Start(ctx, "migrate."+name)
	defer span.End()
	span.SetAttributes(
		attribute.String("migration.phase", name),
		attribute.Bool("migration.dry_run", e.opts.DryRun),
	)

	log := e.log(ctx).WithField("phase", name)
	log.Info("Starting phase")

	n, err := run(ctx)

	span.SetAttributes(attribute.Int64("migration.rows", n))
	e.metrics.RecordPhase(ctx, name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("Phase failed")
		return n, err
	}

	log.WithFields(logrus.Fields{
		"rows":     n,
		"duration": time.Since(start).String(),
	}).Info("Phase completed")
	return n, nil
}

// remember records a type that earlier phases emitted rows for.
func (e *Engine) remember(ct contenttypes.ContentType) {
	e.seen[ct.ID] = ct
}

// skipped logs a record that is left behind and counts it.
func (e *Engine) skipped(ctx context.Context, log logrus.FieldLogger, phase string, err error) {
	log.WithError(err).Warn("Skipping record")
	e.metrics.RecordRows(ctx, phase, observability.OutcomeSkipped, 1, e.opts.DryRun)
}

// log returns the run's logger, falling back to the engine's logger when a
// phase is called on its own.
func (e *Engine) log(ctx context.Context) logrus.FieldLogger {
	if _, ok := ctx.Value(contextkeys.LoggerKey).(logrus.FieldLogger); !ok {
		ctx = observability.WithLogger(ctx, e.logger)
	}
	return observability.FromContext(ctx)
}
