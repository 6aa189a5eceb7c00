package migrate

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/insight/pkg/contenttypes"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
)

// NormalizeSummaries rewrites "app_label.model" references in the legacy
// summary table to content type ids. Numeric references are already
// normalized and left alone; unresolvable ones are logged and left untouched.
// It returns the number of rows rewritten, or that would be in a dry run.
func (e *Engine) NormalizeSummaries(ctx context.Context) (int64, error) {
	log := e.log(ctx)

	values, err := e.store.LegacySummaryTypes(ctx)
	if errors.Is(err, storage.ErrTableNotFound) {
		log.Info("Legacy summary table not found, skipping")
		return 0, nil
	} else if err != nil {
		return 0, err
	}

	var rewritten int64
	for _, value := range values {
		if isNormalizedReference(value) {
			continue
		}
		entry := log.WithField("content_type", value)

		ct, err := e.resolver.ResolveString(ctx, value)
		if errors.Is(err, contenttypes.ErrUnresolvable) {
			e.skipped(ctx, entry, PhaseSummaries, err)
			continue
		} else if err != nil {
			return rewritten, err
		}

		to := strconv.FormatInt(ct.ID, 10)
		var n int64
		if e.opts.DryRun {
			n, err = e.store.CountLegacySummaries(ctx, value)
		} else {
			n, err = e.store.RewriteLegacySummaryType(ctx, value, to)
		}
		if err != nil {
			return rewritten, err
		}

		entry.WithFields(logrus.Fields{
			"content_type_id": ct.ID,
			"rows":            n,
		}).Info("Normalized summary references")
		e.metrics.RecordRows(ctx, PhaseSummaries, observability.OutcomeMigrated, n, e.opts.DryRun)
		rewritten += n
	}

	return rewritten, nil
}

func isNormalizedReference(value string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	return err == nil
}
