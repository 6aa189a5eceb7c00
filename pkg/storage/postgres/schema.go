package postgres

import (
	"context"
	"fmt"
)

// Table names
const (
	TableEvents        = "insight_pageviewevent"
	TableStatistics    = "insight_pageviewstatistics"
	TableRegistry      = "insight_contenttyperegistry"
	TableLegacyLog     = "insight_pageviewlog"
	TableLegacySummary = "insight_pageviewsummary"
	TableContentTypes  = "content_types"
	ownTablePattern    = `insight\_%`
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS insight_pageviewevent (
		id BIGSERIAL PRIMARY KEY,
		view_id UUID NOT NULL UNIQUE,
		content_type_id BIGINT NOT NULL,
		object_id BIGINT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		session_key VARCHAR(255) NOT NULL DEFAULT '',
		ip_address TEXT,
		user_agent TEXT,
		referrer TEXT,
		timestamp TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		is_unique BOOLEAN NOT NULL DEFAULT FALSE
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pageviewevent_object ON insight_pageviewevent (content_type_id, object_id, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_pageviewevent_session ON insight_pageviewevent (session_key, content_type_id, object_id)`,
	`CREATE INDEX IF NOT EXISTS idx_pageviewevent_timestamp ON insight_pageviewevent (timestamp)`,
	`CREATE TABLE IF NOT EXISTS insight_pageviewstatistics (
		id BIGSERIAL PRIMARY KEY,
		content_type_id BIGINT NOT NULL,
		object_id BIGINT NOT NULL,
		total_views BIGINT NOT NULL DEFAULT 0,
		unique_views BIGINT NOT NULL DEFAULT 0,
		first_viewed_at TIMESTAMPTZ,
		last_viewed_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (content_type_id, object_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pageviewstatistics_total ON insight_pageviewstatistics (total_views DESC)`,
	`CREATE TABLE IF NOT EXISTS insight_contenttyperegistry (
		id BIGSERIAL PRIMARY KEY,
		content_type_id BIGINT NOT NULL UNIQUE,
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		track_anonymous BOOLEAN NOT NULL DEFAULT TRUE,
		track_authenticated BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// EnsureSchema creates the insight tables and indexes if they do not exist.
func (s *PostgresStorage) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// tableExists reports whether name resolves in the current search path.
func (s *PostgresStorage) tableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT to_regclass($1) IS NOT NULL`, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}
	return exists, nil
}
