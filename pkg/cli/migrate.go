package cli

import (
	"context"
	"fmt"

	"github.com/platinummonkey/insight/pkg/contenttypes"
	"github.com/platinummonkey/insight/pkg/migrate"
	"github.com/platinummonkey/insight/pkg/observability"
	"github.com/platinummonkey/insight/pkg/storage"
)

// migrateOutput is the --json shape of a migration summary.
type migrateOutput struct {
	DryRun bool `json:"dry_run"`
	migrate.Report
}

// Execute runs the migration.
func (c *MigrateCommand) Execute(args []string) error {
	if c.BatchSize != nil && *c.BatchSize <= 0 {
		return fmt.Errorf("--batch-size must be positive, got %d", *c.BatchSize)
	}

	ctx, rt, err := setup(context.Background(), c.globals, c.deps)
	if err != nil {
		return err
	}
	defer rt.close()

	store, closeStore, err := rt.durableStore()
	if err != nil {
		rt.logger.WithError(err).Error("Migration failed")
		return err
	}
	defer closeStore()

	return c.run(ctx, rt, store)
}

func (c *MigrateCommand) run(ctx context.Context, rt *runtime, store storage.DurableStore) error {
	opts := migrate.Options{
		DryRun:          c.DryRun,
		BatchSize:       rt.cfg.Migration.BatchSize,
		InsertBatchSize: rt.cfg.Migration.InsertBatchSize,
	}
	if c.BatchSize != nil {
		opts.BatchSize = *c.BatchSize
	}

	metrics, err := observability.NewMigrationMetrics()
	if err != nil {
		// Row counts still reach the log and the summary
		rt.logger.WithError(err).Warn("Migration metrics disabled")
	}

	resolver := contenttypes.NewResolver(store, rt.cfg.Storage.ContentTypeCacheSize, rt.cfg.Storage.ContentTypeCacheTTL)
	engine := migrate.NewEngine(store, resolver, opts, rt.logger, metrics)
	report, err := engine.Run(ctx)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Error("Migration failed")
		return fmt.Errorf("migration failed: %w", err)
	}

	if rt.json {
		return printJSON(rt.out, migrateOutput{DryRun: c.DryRun, Report: report})
	}

	if c.DryRun {
		fmt.Fprintln(rt.out, "Dry run completed, no changes were saved.")
	} else {
		fmt.Fprintln(rt.out, "Migration completed successfully!")
	}
	fmt.Fprintf(rt.out, "- Page view events migrated: %d\n", report.EventsMigrated)
	fmt.Fprintf(rt.out, "- Summaries migrated: %d\n", report.SummariesMigrated)
	fmt.Fprintf(rt.out, "- Statistics migrated: %d\n", report.StatisticsMigrated)
	fmt.Fprintf(rt.out, "- Content types registered: %d\n", report.TypesRegistered)

	if !c.DryRun {
		fmt.Fprintln(rt.out)
		fmt.Fprintln(rt.out, "IMPORTANT: the legacy view log table and the view counter columns on tracked models can now be safely removed.")
	}
	return nil
}
