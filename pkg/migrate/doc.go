// Package migrate moves legacy page-view data into the normalized tables.
//
// A run executes four phases in order:
//
//  1. events: legacy view log rows become ViewEvents with name-based view ids
//  2. summaries: "app_label.model" references in the summary table become ids
//  3. statistics: counter columns of host tables become statistics rows
//  4. registry: every tracked content type gets a registry entry
//
// Inserts ignore rows that already exist, so a run can be repeated or resumed
// after a failure. With Options.DryRun set the engine reads and resolves
// everything and reports the same counts without writing.
//
//	engine := migrate.NewEngine(store, resolver, migrate.Options{DryRun: true}, logger, metrics)
//	report, err := engine.Run(ctx)
package migrate
