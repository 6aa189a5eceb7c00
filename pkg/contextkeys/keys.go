// Package contextkeys provides centralized context key definitions
//
// All context keys used across insight are defined here.
//
//	ctx = contextkeys.WithRunID(ctx, runID)
//	runID := contextkeys.GetRunID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// LoggerKey contains logrus.FieldLogger
	// Set by: observability.WithLogger
	// Used by: observability.FromContext
	LoggerKey Key = "logger"

	// RunIDKey contains the id (UUID string) of a migration or flush run
	// Set by: migrate.Engine.Run, analytics.Aggregator.Flush
	// Used by: Log lines of the run
	RunIDKey Key = "run_id"
)

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// WithRunID adds a run id to the context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// GetRunID retrieves the run id from context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(RunIDKey).(string); ok {
		return runID
	}
	return ""
}
