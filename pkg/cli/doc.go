// Package cli implements the insight command-line interface.
//
// # Overview
//
// Every command loads configuration (defaults, the --config YAML file, then
// INSIGHT_* environment variables), logs to stderr and writes its result to
// stdout, as text or with --json as JSON.
//
// # Commands
//
// migrate: Move legacy view data onto the current tables
//
//	insight migrate --dry-run
//	insight migrate --batch-size 500
//
// The run copies view logs into the event table, rewrites dotted summary
// references to numeric ids, moves model counter columns into the
// statistics table and registers every tracked content type. A failed
// phase aborts the run with a non-zero exit status; a finished run can be
// repeated without duplicating rows.
//
// flush: Write live counters into durable statistics
//
//	insight flush --run-once
//	insight flush --schedule "@every 1m"
//
// Without --run-once the flusher serves /health and /metrics on the
// configured health port until SIGINT or SIGTERM.
//
// stats: Show the live counters of an object
//
//	insight stats --type blog.post --id 42
//
// record: Record a page view
//
//	insight record --type blog.post --id 42 --session abc --url /blog/42/
//
// Content types are given as app_label.model or as a numeric id.
package cli
