package migrate

import (
	"context"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/insight/pkg/api"
	"github.com/platinummonkey/insight/pkg/contenttypes"
	"github.com/platinummonkey/insight/pkg/observability"
)

// RegisterTypes creates a registry entry for every tracked content type:
// host tables that still carry all counter columns, and every type present
// in the event and statistics tables. Existing entries are left as they are.
// It returns the number of types registered.
func (e *Engine) RegisterTypes(ctx context.Context) (int64, error) {
	log := e.log(ctx)
	found := make(map[int64]contenttypes.ContentType)

	tables, err := e.store.DiscoverStatisticsTables(ctx)
	if err != nil {
		return 0, err
	}
	for _, table := range tables {
		if !table.HasAllColumns() {
			continue
		}
		ct, err := e.resolveTable(ctx, table)
		if isRecordError(err) {
			log.WithError(err).WithField("table", table.QualifiedName()).Debug("Table does not map to a content type")
			continue
		} else if err != nil {
			return 0, err
		}
		found[ct.ID] = ct
	}

	eventTypes, err := e.store.EventContentTypes(ctx)
	if err != nil {
		return 0, err
	}
	statisticsTypes, err := e.store.StatisticsContentTypes(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range append(eventTypes, statisticsTypes...) {
		if _, ok := found[id]; ok {
			continue
		}
		ct, err := e.resolver.ResolveID(ctx, id)
		if isRecordError(err) {
			e.skipped(ctx, log.WithField("content_type_id", id), PhaseRegistry, err)
			continue
		} else if err != nil {
			return 0, err
		}
		found[ct.ID] = ct
	}

	// A dry run wrote nothing, so types only emitted in memory count too.
	for id, ct := range e.seen {
		found[id] = ct
	}

	ids := make([]int64, 0, len(found))
	for id := range found {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	entries := make([]api.RegistryEntry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, api.NewRegistryEntry(id))
		log.WithFields(logrus.Fields{
			"content_type":    found[id].String(),
			"content_type_id": id,
		}).Info("Registered content type")
	}

	if !e.opts.DryRun {
		for start := 0; start < len(entries); start += e.opts.InsertBatchSize {
			end := min(start+e.opts.InsertBatchSize, len(entries))
			if _, err := e.store.UpsertRegistry(ctx, entries[start:end]); err != nil {
				return 0, err
			}
		}
	}
	e.metrics.RecordRows(ctx, PhaseRegistry, observability.OutcomeMigrated, int64(len(entries)), e.opts.DryRun)

	return int64(len(entries)), nil
}
