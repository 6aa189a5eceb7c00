package migrate

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/insight/pkg/api"
	"github.com/platinummonkey/insight/pkg/contenttypes"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
)

// viewIDNamespace seeds the name-based view ids of migrated log rows.
var viewIDNamespace = uuid.MustParse("6f1c3b9e-2d4a-5e8f-9a7b-0c1d2e3f4a5b")

var errInvalidRecord = errors.New("invalid record")

// LegacyViewID returns the view id a legacy log row migrates to. It is
// derived from the row id so a re-run produces the same id and the insert
// collides instead of duplicating.
func LegacyViewID(logID int64) string {
	return uuid.NewSHA1(viewIDNamespace, []byte("pageviewlog:"+strconv.FormatInt(logID, 10))).String()
}

// MigrateEventLogs copies the legacy view log into the event table, page by
// page in id order. Rows whose content type does not resolve are logged and
// skipped. It returns the number of events emitted.
func (e *Engine) MigrateEventLogs(ctx context.Context) (int64, error) {
	log := e.log(ctx)

	var (
		afterID  int64
		migrated int64
		read     int64
		batches  int
	)
	for {
		logs, err := e.store.LegacyLogs(ctx, afterID, e.opts.BatchSize)
		if errors.Is(err, storage.ErrTableNotFound) && afterID == 0 {
			log.Info("Legacy view log table not found, skipping")
			return 0, nil
		} else if err != nil {
			return migrated, err
		}
		if len(logs) == 0 {
			break
		}

		events := make([]api.ViewEvent, 0, len(logs))
		for _, l := range logs {
			event, err := e.eventFromLog(ctx, l)
			if isRecordError(err) {
				e.skipped(ctx, log.WithField("log_id", l.ID), PhaseEvents, err)
				continue
			} else if err != nil {
				return migrated, err
			}
			events = append(events, event)
		}

		if err := e.insertEvents(ctx, events); err != nil {
			return migrated, err
		}
		e.metrics.RecordRows(ctx, PhaseEvents, observability.OutcomeMigrated, int64(len(events)), e.opts.DryRun)

		migrated += int64(len(events))
		read += int64(len(logs))
		afterID = logs[len(logs)-1].ID
		batches++

		if batches%progressEvery == 0 {
			log.WithFields(logrus.Fields{
				"read":     read,
				"migrated": migrated,
				"last_id":  afterID,
			}).Info("Migrating view logs")
		}

		if len(logs) < e.opts.BatchSize {
			break
		}
	}

	return migrated, nil
}

func (e *Engine) eventFromLog(ctx context.Context, l storage.LegacyLog) (api.ViewEvent, error) {
	if l.PageID <= 0 {
		return api.ViewEvent{}, fmt.Errorf("%w: page id %d", errInvalidRecord, l.PageID)
	}

	ct, err := e.resolver.Resolve(ctx, l.ContentType)
	if err != nil {
		return api.ViewEvent{}, err
	}
	e.remember(ct)

	return api.ViewEvent{
		ViewID:        LegacyViewID(l.ID),
		ContentTypeID: ct.ID,
		ObjectID:      l.PageID,
		URL:           l.URL,
		SessionKey:    l.SessionKey,
		IPAddress:     l.IPAddress,
		UserAgent:     l.UserAgent,
		Referrer:      l.Referrer,
		Timestamp:     l.Timestamp,
		IsUnique:      l.IsUnique,
	}, nil
}

func (e *Engine) insertEvents(ctx context.Context, events []api.ViewEvent) error {
	if e.opts.DryRun {
		return nil
	}
	for start := 0; start < len(events); start += e.opts.InsertBatchSize {
		end := min(start+e.opts.InsertBatchSize, len(events))
		if _, err := e.store.InsertEvents(ctx, events[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func isRecordError(err error) bool {
	return errors.Is(err, contenttypes.ErrUnresolvable) || errors.Is(err, errInvalidRecord)
}
