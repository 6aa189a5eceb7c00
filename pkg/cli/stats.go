package cli

import (
	"context"
	"fmt"

	"github.com/platinummonkey/insight/pkg/analytics"
	"github.com/platinummonkey/insight/pkg/api"
)

type statsOutput struct {
	ContentTypeID int64 `json:"content_type"`
	ObjectID      int64 `json:"object_id"`
	api.Stats
}

// Execute prints the live counters. An unreachable counter store reads as
// zero views, matching what the web layer would show.
func (c *StatsCommand) Execute(args []string) error {
	ctx, rt, err := setup(context.Background(), c.globals, c.deps)
	if err != nil {
		return err
	}
	defer rt.close()

	contentTypeID, closeLookup, err := rt.contentType(ctx, c.Type)
	if err != nil {
		return fmt.Errorf("invalid --type: %w", err)
	}
	defer closeLookup()

	counters, closeCounters, err := rt.counterStore()
	if err != nil {
		return err
	}
	defer closeCounters()

	stats := analytics.NewStatsReader(counters, rt.logger, nil).GetStats(ctx, contentTypeID, c.ID)

	if rt.json {
		return printJSON(rt.out, statsOutput{ContentTypeID: contentTypeID, ObjectID: c.ID, Stats: stats})
	}
	fmt.Fprintf(rt.out, "Object %d of content type %d\n", c.ID, contentTypeID)
	fmt.Fprintf(rt.out, "- Total views: %d\n", stats.TotalViews)
	fmt.Fprintf(rt.out, "- Unique views: %d\n", stats.UniqueViews)
	return nil
}
