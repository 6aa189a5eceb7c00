package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/insight/pkg/api"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
)

// StatsReader reads live counters from the counter store.
type StatsReader struct {
	store   storage.CounterStore
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewStatsReader creates a stats reader. metrics may be nil.
func NewStatsReader(store storage.CounterStore, logger logrus.FieldLogger, metrics *observability.Metrics) *StatsReader {
	if logger == nil {
		logger = logrus.New()
	}
	return &StatsReader{store: store, logger: logger, metrics: metrics}
}

// GetStats returns the total and unique views of an object. Missing or
// unreadable counters are 0; it never fails.
func (s *StatsReader) GetStats(ctx context.Context, contentTypeID, objectID int64) api.Stats {
	if !s.store.Available() {
		s.metrics.ObserveStoreUnavailable("get_stats")
		return api.Stats{}
	}

	start := time.Now()
	results, err := s.store.ExecuteBatch(ctx, []storage.Op{
		storage.GetOp(CounterKey(contentTypeID, objectID)),
		storage.GetOp(UniqueCounterKey(contentTypeID, objectID)),
	})
	s.metrics.ObserveStoreOperation("get_stats", start)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"content_type": contentTypeID,
			"object_id":    objectID,
		}).Error("Error getting stats")
		if !errors.Is(err, storage.ErrPartialBatch) {
			return api.Stats{}
		}
	}

	var stats api.Stats
	if len(results) == 2 {
		if results[0].Err == nil {
			stats.TotalViews = parseCount(results[0].Value, results[0].Found)
		}
		if results[1].Err == nil {
			stats.UniqueViews = parseCount(results[1].Value, results[1].Found)
		}
	}
	return stats
}
