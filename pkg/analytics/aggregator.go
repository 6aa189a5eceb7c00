package analytics

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/insight/pkg/contextkeys"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
)

// DefaultFlushWorkers bounds how many objects flush concurrently.
const DefaultFlushWorkers = 8

// Aggregator flushes live counters into durable statistics. For every
// object it writes the growth since the previous flush, tracked with
// watermark keys next to the counters.
type Aggregator struct {
	store   storage.CounterStore
	writer  storage.StatisticsWriter
	workers int
	logger  logrus.FieldLogger
	metrics *observability.Metrics
	now     func() time.Time
}

// FlushResult summarizes one flush run.
type FlushResult struct {
	Objects     int   `json:"objects"`
	Flushed     int   `json:"flushed"`
	Unchanged   int   `json:"unchanged"`
	Failed      int   `json:"failed"`
	TotalViews  int64 `json:"total_views"`
	UniqueViews int64 `json:"unique_views"`
}

// NewAggregator creates a flusher. workers <= 0 uses DefaultFlushWorkers.
func NewAggregator(store storage.CounterStore, writer storage.StatisticsWriter, workers int, logger logrus.FieldLogger, metrics *observability.Metrics) *Aggregator {
	if logger == nil {
		logger = logrus.New()
	}
	if workers <= 0 {
		workers = DefaultFlushWorkers
	}
	return &Aggregator{
		store:   store,
		writer:  writer,
		workers: workers,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Flush writes counter deltas of every object to durable statistics.
// Per-object failures are logged and counted in the result; they are
// retried by the next flush because their watermarks do not move.
func (a *Aggregator) Flush(ctx context.Context) (result FlushResult, err error) {
	start := time.Now()
	ctx = observability.WithLogger(ctx, a.logger)
	ctx = contextkeys.WithRunID(ctx, uuid.NewString())
	ctx, span := observability.Tracer().Start(ctx, "analytics.Flush")
	defer func() {
		span.SetAttributes(
			attribute.Int("flush.objects", result.Objects),
			attribute.Int("flush.failed", result.Failed),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		a.metrics.ObserveFlush(start, err)
	}()

	log := observability.FromContext(ctx)

	if !a.store.Available() {
		return result, storage.ErrUnavailable
	}

	keys, err := a.store.Scan(ctx, counterScanPattern)
	if err != nil {
		return result, fmt.Errorf("failed to list counters: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)

	for _, key := range keys {
		contentTypeID, objectID, err := parseCounterKey(key)
		if err != nil {
			log.WithError(err).Warn("Skipping malformed counter key")
			continue
		}
		result.Objects++

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcome, total, unique := a.flushObject(gctx, log, contentTypeID, objectID)
			a.metrics.ObserveFlushObject(outcome)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case flushFlushed:
				result.Flushed++
				result.TotalViews += total
				result.UniqueViews += unique
			case flushUnchanged:
				result.Unchanged++
			default:
				result.Failed++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	log.WithFields(logrus.Fields{
		"objects":   result.Objects,
		"flushed":   result.Flushed,
		"unchanged": result.Unchanged,
		"failed":    result.Failed,
		"duration":  time.Since(start).String(),
	}).Info("Flushed view counters")

	return result, nil
}

const (
	flushFlushed   = "flushed"
	flushUnchanged = "unchanged"
	flushFailed    = "failed"
)

func (a *Aggregator) flushObject(ctx context.Context, log logrus.FieldLogger, contentTypeID, objectID int64) (string, int64, int64) {
	log = log.WithFields(logrus.Fields{
		"content_type": contentTypeID,
		"object_id":    objectID,
	})

	results, err := a.store.ExecuteBatch(ctx, []storage.Op{
		storage.GetOp(CounterKey(contentTypeID, objectID)),
		storage.GetOp(UniqueCounterKey(contentTypeID, objectID)),
		storage.GetOp(flushedKey(contentTypeID, objectID)),
		storage.GetOp(flushedUniqueKey(contentTypeID, objectID)),
	})
	if err != nil {
		log.WithError(err).Error("Failed to read counters")
		return flushFailed, 0, 0
	}

	total := parseCount(results[0].Value, results[0].Found)
	unique := parseCount(results[1].Value, results[1].Found)
	flushedTotal := parseCount(results[2].Value, results[2].Found)
	flushedUnique := parseCount(results[3].Value, results[3].Found)

	deltaTotal := total - flushedTotal
	deltaUnique := unique - flushedUnique
	if deltaTotal < 0 || deltaUnique < 0 {
		// Counters were reset underneath the watermarks; restart from the current values.
		log.WithFields(logrus.Fields{
			"total":          total,
			"flushed_total":  flushedTotal,
			"unique":         unique,
			"flushed_unique": flushedUnique,
		}).Warn("Counter behind its watermark, resetting")
		deltaTotal = max(deltaTotal, 0)
		deltaUnique = max(deltaUnique, 0)
	}
	if deltaTotal == 0 && deltaUnique == 0 {
		if total != flushedTotal || unique != flushedUnique {
			a.advanceWatermarks(ctx, log, contentTypeID, objectID, total, unique)
		}
		return flushUnchanged, 0, 0
	}

	if err := a.writer.UpsertStatistics(ctx, storage.StatisticsDelta{
		ContentTypeID: contentTypeID,
		ObjectID:      objectID,
		TotalViews:    deltaTotal,
		UniqueViews:   deltaUnique,
		ViewedAt:      a.now(),
	}); err != nil {
		log.WithError(err).Error("Failed to flush statistics")
		return flushFailed, 0, 0
	}

	a.advanceWatermarks(ctx, log, contentTypeID, objectID, total, unique)
	return flushFlushed, deltaTotal, deltaUnique
}

// advanceWatermarks records what has been flushed. A failure here means the
// same delta is added again by the next flush.
func (a *Aggregator) advanceWatermarks(ctx context.Context, log logrus.FieldLogger, contentTypeID, objectID, total, unique int64) {
	if _, err := a.store.ExecuteBatch(ctx, []storage.Op{
		storage.SetOp(flushedKey(contentTypeID, objectID), strconv.FormatInt(total, 10), 0),
		storage.SetOp(flushedUniqueKey(contentTypeID, objectID), strconv.FormatInt(unique, 10), 0),
	}); err != nil {
		log.WithError(err).Warn("Failed to advance flush watermark")
	}
}
