package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/insight/pkg/api"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
)

// Errors reported in RecordResult.Message.
var (
	ErrMissingViewID     = errors.New("view id is required")
	ErrMissingSessionKey = errors.New("session key is required")
	ErrInvalidObject     = errors.New("content type and object id must be positive")
)

// Recorder writes view events to the counter store. It is safe for
// concurrent use; correctness relies on the store's atomic increments.
type Recorder struct {
	store      storage.CounterStore
	expiration time.Duration
	sessionTTL time.Duration
	logger     logrus.FieldLogger
	metrics    *observability.Metrics
}

// NewRecorder creates a recorder. metrics may be nil.
func NewRecorder(store storage.CounterStore, config storage.Config, logger logrus.FieldLogger, metrics *observability.Metrics) *Recorder {
	if logger == nil {
		logger = logrus.New()
	}
	sessionTTL := config.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = config.Expiration
	}
	return &Recorder{
		store:      store,
		expiration: config.Expiration,
		sessionTTL: sessionTTL,
		logger:     logger,
		metrics:    metrics,
	}
}

// NewViewID returns a random view id.
func NewViewID() string {
	return uuid.NewString()
}

// CheckUniqueView reports whether session has not viewed the object within
// the mark TTL. Any failure, including an unavailable store, reports false
// so that views are never over-counted.
func (r *Recorder) CheckUniqueView(ctx context.Context, sessionKey string, contentTypeID, objectID int64) bool {
	if !r.store.Available() {
		r.metrics.ObserveStoreUnavailable("check_unique_view")
		return false
	}

	start := time.Now()
	exists, err := r.store.Exists(ctx, SessionKey(sessionKey, contentTypeID, objectID))
	r.metrics.ObserveStoreOperation("exists", start)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"content_type": contentTypeID,
			"object_id":    objectID,
		}).Error("Error checking unique view")
		return false
	}
	return !exists
}

// MarkViewed sets the session-view-mark with an explicit ttl; a non-positive
// ttl uses the configured session TTL. Errors are logged.
func (r *Recorder) MarkViewed(ctx context.Context, sessionKey string, contentTypeID, objectID int64, ttl time.Duration) {
	if !r.store.Available() {
		r.metrics.ObserveStoreUnavailable("mark_viewed")
		return
	}
	if ttl <= 0 {
		ttl = r.sessionTTL
	}

	start := time.Now()
	err := r.store.Set(ctx, SessionKey(sessionKey, contentTypeID, objectID), "1", ttl)
	r.metrics.ObserveStoreOperation("set", start)
	if err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"content_type": contentTypeID,
			"object_id":    objectID,
		}).Error("Error marking viewed")
	}
}

// RecordView writes the event payload, increments the total counter and,
// for unique views, sets the session mark and increments the unique
// counter, all in one pipelined batch. It never returns a Go error.
//
// The batch is not atomic. A partial failure is logged and counted but not
// retried; the view still counts as recorded when the total counter was
// incremented.
func (r *Recorder) RecordView(ctx context.Context, event api.ViewEvent) api.RecordResult {
	if err := validateEvent(event); err != nil {
		r.metrics.ObserveRecordError("invalid")
		return errorResult(event, err.Error())
	}
	if !r.store.Available() {
		r.metrics.ObserveStoreUnavailable("record_view")
		r.metrics.ObserveRecordError("unavailable")
		return errorResult(event, "counter store unavailable")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		r.metrics.ObserveRecordError("encode")
		return errorResult(event, fmt.Sprintf("failed to encode event: %v", err))
	}

	ops := []storage.Op{
		storage.SetOp(event.ViewID, string(payload), r.expiration),
		storage.IncrementOp(CounterKey(event.ContentTypeID, event.ObjectID), 1),
	}
	if event.IsUnique {
		ops = append(ops,
			storage.SetOp(SessionKey(event.SessionKey, event.ContentTypeID, event.ObjectID), "1", r.sessionTTL),
			storage.IncrementOp(UniqueCounterKey(event.ContentTypeID, event.ObjectID), 1),
		)
	}

	start := time.Now()
	results, err := r.store.ExecuteBatch(ctx, ops)
	r.metrics.ObserveStoreOperation("batch", start)
	r.metrics.ObserveBatchSize(len(ops))

	log := r.logger.WithFields(logrus.Fields{
		"view_id":      event.ViewID,
		"content_type": event.ContentTypeID,
		"object_id":    event.ObjectID,
	})

	switch {
	case err == nil:
	case errors.Is(err, storage.ErrPartialBatch):
		r.metrics.ObservePartialBatch()
		log.WithError(err).WithField("failed_keys", failedKeys(results)).Warn("Partial failure recording view")
		if len(results) < 2 || results[1].Err != nil {
			r.metrics.ObserveRecordError("partial")
			return errorResult(event, err.Error())
		}
		r.metrics.ObserveViewRecorded(event.IsUnique)
		return api.RecordResult{
			Status:   api.StatusSuccess,
			ViewID:   event.ViewID,
			IsUnique: event.IsUnique,
			Partial:  true,
		}
	default:
		log.WithError(err).Error("Error recording view")
		r.metrics.ObserveRecordError("store")
		return errorResult(event, err.Error())
	}

	r.metrics.ObserveViewRecorded(event.IsUnique)
	return api.RecordResult{
		Status:   api.StatusSuccess,
		ViewID:   event.ViewID,
		IsUnique: event.IsUnique,
	}
}

func validateEvent(event api.ViewEvent) error {
	switch {
	case event.ViewID == "":
		return ErrMissingViewID
	case event.SessionKey == "":
		return ErrMissingSessionKey
	case event.ContentTypeID <= 0 || event.ObjectID <= 0:
		return ErrInvalidObject
	}
	return nil
}

func errorResult(event api.ViewEvent, message string) api.RecordResult {
	return api.RecordResult{
		Status:  api.StatusError,
		ViewID:  event.ViewID,
		Message: message,
	}
}

func failedKeys(results []storage.OpResult) []string {
	var keys []string
	for _, res := range results {
		if res.Err != nil {
			keys = append(keys, res.Op.Key)
		}
	}
	return keys
}
