package migrate

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/insight/pkg/api"
	"github.com/platinummonkey/insight/pkg/contenttypes"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
)

// MigrateMixinStatistics copies the counter columns of host tables into the
// statistics table, one row per object with any views. Tables are found by
// schema introspection; a table whose content type does not resolve or whose
// first page cannot be read is logged and skipped. It returns the number of
// statistics rows emitted.
func (e *Engine) MigrateMixinStatistics(ctx context.Context) (int64, error) {
	log := e.log(ctx)

	tables, err := e.store.DiscoverStatisticsTables(ctx)
	if err != nil {
		return 0, err
	}
	log.WithField("tables", len(tables)).Info("Discovered tables with view counters")

	var migrated int64
	for _, table := range tables {
		entry := log.WithFields(logrus.Fields{
			"table":   table.QualifiedName(),
			"columns": table.Columns,
		})

		ct, err := e.resolveTable(ctx, table)
		if isRecordError(err) {
			e.skipped(ctx, entry, PhaseStatistics, err)
			continue
		} else if err != nil {
			return migrated, err
		}

		n, err := e.migrateTable(ctx, entry, table, ct)
		migrated += n
		if err != nil {
			return migrated, err
		}
		entry.WithFields(logrus.Fields{
			"content_type": ct.String(),
			"rows":         n,
		}).Info("Migrated statistics")
	}

	return migrated, nil
}

func (e *Engine) resolveTable(ctx context.Context, table storage.TableDescriptor) (contenttypes.ContentType, error) {
	if table.AppLabel == "" || table.Model == "" {
		return contenttypes.ContentType{}, fmt.Errorf("%w: table name %q is not <app_label>_<model>", errInvalidRecord, table.Table)
	}
	return e.resolver.ResolveNaturalKey(ctx, table.AppLabel, table.Model)
}

// migrateTable pages through one table by primary key. A table whose first
// page cannot be read, such as one keyed by a non-integer column, is skipped.
// Any later read failure, a lost connection or a write failure is returned.
func (e *Engine) migrateTable(ctx context.Context, log logrus.FieldLogger, table storage.TableDescriptor, ct contenttypes.ContentType) (int64, error) {
	var (
		afterPK  int64 = math.MinInt64
		migrated int64
		pages    int
	)
	for {
		rows, err := e.store.MixinRows(ctx, table, afterPK, e.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return migrated, ctx.Err()
			}
			if pages > 0 || isConnectionError(err) {
				return migrated, err
			}
			e.skipped(ctx, log.WithField("after_pk", afterPK), PhaseStatistics, err)
			return migrated, nil
		}
		pages++
		if len(rows) == 0 {
			return migrated, nil
		}

		stats := make([]api.ObjectStatistics, 0, len(rows))
		for _, row := range rows {
			if row.TotalViews == 0 && row.UniqueViews == 0 {
				continue
			}
			stats = append(stats, statisticsFromRow(ct.ID, row))
		}
		if len(stats) > 0 {
			e.remember(ct)
		}

		if err := e.insertStatistics(ctx, stats); err != nil {
			return migrated, err
		}
		e.metrics.RecordRows(ctx, PhaseStatistics, observability.OutcomeMigrated, int64(len(stats)), e.opts.DryRun)
		migrated += int64(len(stats))

		afterPK = rows[len(rows)-1].PK
		if len(rows) < e.opts.BatchSize {
			return migrated, nil
		}
	}
}

// statisticsFromRow builds the normalized row. Unique views are capped at
// total views.
func statisticsFromRow(contentTypeID int64, row storage.MixinRow) api.ObjectStatistics {
	return api.ObjectStatistics{
		ContentTypeID: contentTypeID,
		ObjectID:      row.PK,
		TotalViews:    row.TotalViews,
		UniqueViews:   min(row.UniqueViews, row.TotalViews),
		FirstViewedAt: row.FirstViewedAt,
		LastViewedAt:  row.LastViewedAt,
	}
}

// isConnectionError reports whether err means the database itself is out of
// reach rather than one table being unreadable.
func isConnectionError(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 08: connection exception, 57P: operator intervention
		return pqErr.Code.Class() == "08" || strings.HasPrefix(string(pqErr.Code), "57P")
	}
	return false
}

func (e *Engine) insertStatistics(ctx context.Context, stats []api.ObjectStatistics) error {
	if e.opts.DryRun || len(stats) == 0 {
		return nil
	}
	for start := 0; start < len(stats); start += e.opts.InsertBatchSize {
		end := min(start+e.opts.InsertBatchSize, len(stats))
		if _, err := e.store.InsertStatistics(ctx, stats[start:end]); err != nil {
			return err
		}
	}
	return nil
}
