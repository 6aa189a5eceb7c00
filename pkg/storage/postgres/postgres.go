package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/insight/pkg/api"
	"github.com/platinummonkey/insight/pkg/contenttypes"
	"github.com/platinummonkey/insight/pkg/storage"
)

// PostgresStorage implements storage.DurableStore on PostgreSQL. Writes and
// the migration's paged reads go to the primary; lookups may use a replica.
type PostgresStorage struct {
	db     *sql.DB
	conns  *ConnectionManager
	config storage.Config
	logger logrus.FieldLogger
}

var _ storage.DurableStore = (*PostgresStorage)(nil)

// NewPostgresStorage connects to the configured primary and replicas.
func NewPostgresStorage(config storage.Config, logger logrus.FieldLogger) (*PostgresStorage, error) {
	if config.PostgresURL == "" {
		return nil, fmt.Errorf("postgres URL is required")
	}

	conns, err := NewConnectionManager(ConnectionConfigFrom(config), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return newPostgresStorage(conns, config, logger), nil
}

// NewPostgresStorageWithDB wraps an already opened database handle.
func NewPostgresStorageWithDB(db *sql.DB, logger logrus.FieldLogger) *PostgresStorage {
	return newPostgresStorage(NewConnectionManagerWithDB(db, logger), storage.DefaultConfig(), logger)
}

func newPostgresStorage(conns *ConnectionManager, config storage.Config, logger logrus.FieldLogger) *PostgresStorage {
	if logger == nil {
		logger = logrus.New()
	}
	return &PostgresStorage{
		db:     conns.Primary(),
		conns:  conns,
		config: config,
		logger: logger,
	}
}

// Connections exposes the connection manager for health checks.
func (s *PostgresStorage) Connections() *ConnectionManager {
	return s.conns
}

// ContentTypeByID implements contenttypes.Lookup.
func (s *PostgresStorage) ContentTypeByID(ctx context.Context, id int64) (contenttypes.ContentType, error) {
	query := `SELECT id, app_label, model FROM content_types WHERE id = $1`
	return s.scanContentType(s.conns.Replica().QueryRowContext(ctx, query, id))
}

// ContentTypeByNaturalKey implements contenttypes.Lookup. model is compared
// case-insensitively.
func (s *PostgresStorage) ContentTypeByNaturalKey(ctx context.Context, appLabel, model string) (contenttypes.ContentType, error) {
	query := `SELECT id, app_label, model FROM content_types WHERE app_label = $1 AND lower(model) = lower($2)`
	return s.scanContentType(s.conns.Replica().QueryRowContext(ctx, query, appLabel, model))
}

func (s *PostgresStorage) scanContentType(row *sql.Row) (contenttypes.ContentType, error) {
	var ct contenttypes.ContentType
	err := row.Scan(&ct.ID, &ct.AppLabel, &ct.Model)
	if err == sql.ErrNoRows {
		return contenttypes.ContentType{}, contenttypes.ErrNotFound
	} else if err != nil {
		return contenttypes.ContentType{}, fmt.Errorf("failed to query content type: %w", err)
	}
	return ct, nil
}

// Counts returns the row counts of the insight tables. Missing tables count 0.
func (s *PostgresStorage) Counts(ctx context.Context) (storage.Counts, error) {
	var counts storage.Counts
	targets := []struct {
		table string
		dest  *int64
	}{
		{TableEvents, &counts.Events},
		{TableStatistics, &counts.Statistics},
		{TableRegistry, &counts.Registry},
	}

	for _, target := range targets {
		exists, err := s.tableExists(ctx, target.table)
		if err != nil {
			return counts, err
		}
		if !exists {
			continue
		}
		query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, pq.QuoteIdentifier(target.table))
		if err := s.db.QueryRowContext(ctx, query).Scan(target.dest); err != nil {
			return counts, fmt.Errorf("failed to count %s: %w", target.table, err)
		}
	}

	return counts, nil
}

// LegacySummaryTypes returns the distinct content type references stored in
// the legacy summary table.
func (s *PostgresStorage) LegacySummaryTypes(ctx context.Context) ([]string, error) {
	if err := s.requireTable(ctx, TableLegacySummary); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT content_type
		FROM insight_pageviewsummary
		WHERE content_type IS NOT NULL
		ORDER BY content_type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list summary content types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var ct string
		if err := rows.Scan(&ct); err != nil {
			return nil, fmt.Errorf("failed to scan summary content type: %w", err)
		}
		types = append(types, ct)
	}
	return types, rows.Err()
}

// CountLegacySummaries counts summary rows holding contentType.
func (s *PostgresStorage) CountLegacySummaries(ctx context.Context, contentType string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM insight_pageviewsummary WHERE content_type = $1`, contentType,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count summaries for %q: %w", contentType, err)
	}
	return n, nil
}

// RewriteLegacySummaryType replaces the reference from with to in the
// summary table and returns the number of rows rewritten.
func (s *PostgresStorage) RewriteLegacySummaryType(ctx context.Context, from, to string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE insight_pageviewsummary SET content_type = $2 WHERE content_type = $1`, from, to,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to rewrite summaries for %q: %w", from, err)
	}
	return result.RowsAffected()
}

// LegacyLogs returns up to limit legacy log rows with id > afterID, ordered by id.
func (s *PostgresStorage) LegacyLogs(ctx context.Context, afterID int64, limit int) ([]storage.LegacyLog, error) {
	if afterID == 0 {
		if err := s.requireTable(ctx, TableLegacyLog); err != nil {
			return nil, err
		}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content_type, page_id, url, session_key, ip_address, user_agent, referrer, timestamp, is_unique
		FROM insight_pageviewlog
		WHERE id > $1
		ORDER BY id
		LIMIT $2
	`, afterID, limit)
	if isUndefinedTable(err) {
		return nil, fmt.Errorf("%w: %s", storage.ErrTableNotFound, TableLegacyLog)
	} else if err != nil {
		return nil, fmt.Errorf("failed to read legacy logs after %d: %w", afterID, err)
	}
	defer rows.Close()

	var logs []storage.LegacyLog
	for rows.Next() {
		var (
			l                              storage.LegacyLog
			contentType, url, session      sql.NullString
			ipAddress, userAgent, referrer sql.NullString
			pageID                         sql.NullInt64
			timestamp                      sql.NullTime
			isUnique                       sql.NullBool
		)
		if err := rows.Scan(&l.ID, &contentType, &pageID, &url, &session,
			&ipAddress, &userAgent, &referrer, &timestamp, &isUnique); err != nil {
			return nil, fmt.Errorf("failed to scan legacy log: %w", err)
		}
		l.ContentType = contentType.String
		l.PageID = pageID.Int64
		l.URL = url.String
		l.SessionKey = session.String
		l.IPAddress = stringPtr(ipAddress)
		l.UserAgent = stringPtr(userAgent)
		l.Referrer = stringPtr(referrer)
		l.Timestamp = timestamp.Time
		l.IsUnique = isUnique.Bool
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// InsertEvents bulk inserts events, ignoring rows whose view_id already exists.
func (s *PostgresStorage) InsertEvents(ctx context.Context, events []api.ViewEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	columns := []string{"view_id", "content_type_id", "object_id", "url", "session_key",
		"ip_address", "user_agent", "referrer", "timestamp", "is_unique"}
	args := make([]interface{}, 0, len(events)*len(columns))
	for _, e := range events {
		args = append(args, e.ViewID, e.ContentTypeID, e.ObjectID, e.URL, e.SessionKey,
			nullString(e.IPAddress), nullString(e.UserAgent), nullString(e.Referrer), e.Timestamp, e.IsUnique)
	}

	query := bulkInsertQuery(TableEvents, columns, len(events)) + ` ON CONFLICT (view_id) DO NOTHING`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %d events: %w", len(events), err)
	}
	return result.RowsAffected()
}

// InsertStatistics bulk inserts statistics rows, ignoring objects that
// already have one.
func (s *PostgresStorage) InsertStatistics(ctx context.Context, stats []api.ObjectStatistics) (int64, error) {
	if len(stats) == 0 {
		return 0, nil
	}

	columns := []string{"content_type_id", "object_id", "total_views", "unique_views",
		"first_viewed_at", "last_viewed_at", "updated_at"}
	args := make([]interface{}, 0, len(stats)*len(columns))
	now := time.Now().UTC()
	for _, st := range stats {
		updatedAt := st.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}
		args = append(args, st.ContentTypeID, st.ObjectID, st.TotalViews, st.UniqueViews,
			nullTime(st.FirstViewedAt), nullTime(st.LastViewedAt), updatedAt)
	}

	query := bulkInsertQuery(TableStatistics, columns, len(stats)) + ` ON CONFLICT (content_type_id, object_id) DO NOTHING`
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert %d statistics: %w", len(stats), err)
	}
	return result.RowsAffected()
}

// UpsertRegistry inserts registry entries, leaving existing ones untouched.
func (s *PostgresStorage) UpsertRegistry(ctx context.Context, entries []api.RegistryEntry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	ids := make([]int64, len(entries))
	enabled := make([]bool, len(entries))
	anonymous := make([]bool, len(entries))
	authenticated := make([]bool, len(entries))
	for i, e := range entries {
		ids[i] = e.ContentTypeID
		enabled[i] = e.Enabled
		anonymous[i] = e.TrackAnonymous
		authenticated[i] = e.TrackAuthenticated
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO insight_contenttyperegistry (content_type_id, enabled, track_anonymous, track_authenticated, created_at, updated_at)
		SELECT t.id, t.enabled, t.anonymous, t.authenticated, NOW(), NOW()
		FROM unnest($1::bigint[], $2::boolean[], $3::boolean[], $4::boolean[]) AS t(id, enabled, anonymous, authenticated)
		ON CONFLICT (content_type_id) DO NOTHING
	`, pq.Array(ids), pq.Array(enabled), pq.Array(anonymous), pq.Array(authenticated))
	if err != nil {
		return 0, fmt.Errorf("failed to upsert registry: %w", err)
	}
	return result.RowsAffected()
}

// EventContentTypes returns the distinct content type ids in the event table.
func (s *PostgresStorage) EventContentTypes(ctx context.Context) ([]int64, error) {
	return s.distinctContentTypes(ctx, TableEvents)
}

// StatisticsContentTypes returns the distinct content type ids in the
// statistics table.
func (s *PostgresStorage) StatisticsContentTypes(ctx context.Context) ([]int64, error) {
	return s.distinctContentTypes(ctx, TableStatistics)
}

func (s *PostgresStorage) distinctContentTypes(ctx context.Context, table string) ([]int64, error) {
	exists, err := s.tableExists(ctx, table)
	if err != nil || !exists {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT DISTINCT content_type_id FROM %s ORDER BY content_type_id`, pq.QuoteIdentifier(table))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list content types of %s: %w", table, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan content type id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertStatistics adds a counter delta to an object's statistics row,
// creating it if needed. unique_views never exceeds total_views.
func (s *PostgresStorage) UpsertStatistics(ctx context.Context, delta storage.StatisticsDelta) error {
	viewedAt := delta.ViewedAt
	if viewedAt.IsZero() {
		viewedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insight_pageviewstatistics
			(content_type_id, object_id, total_views, unique_views, first_viewed_at, last_viewed_at, updated_at)
		VALUES ($1, $2, $3, LEAST($4::bigint, $3::bigint), $5, $5, $5)
		ON CONFLICT (content_type_id, object_id) DO UPDATE SET
			total_views = insight_pageviewstatistics.total_views + EXCLUDED.total_views,
			unique_views = LEAST(
				insight_pageviewstatistics.unique_views + EXCLUDED.unique_views,
				insight_pageviewstatistics.total_views + EXCLUDED.total_views
			),
			first_viewed_at = COALESCE(insight_pageviewstatistics.first_viewed_at, EXCLUDED.first_viewed_at),
			last_viewed_at = EXCLUDED.last_viewed_at,
			updated_at = EXCLUDED.updated_at
	`, delta.ContentTypeID, delta.ObjectID, delta.TotalViews, delta.UniqueViews, viewedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert statistics for %d:%d: %w", delta.ContentTypeID, delta.ObjectID, err)
	}
	return nil
}

// HealthCheck pings the primary and replicas.
func (s *PostgresStorage) HealthCheck(ctx context.Context) error {
	return s.conns.HealthCheck(ctx)
}

// Close closes all connections.
func (s *PostgresStorage) Close() error {
	return s.conns.Close()
}

func (s *PostgresStorage) requireTable(ctx context.Context, table string) error {
	exists, err := s.tableExists(ctx, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", storage.ErrTableNotFound, table)
	}
	return nil
}

// bulkInsertQuery builds a multi-row INSERT with numbered placeholders.
func bulkInsertQuery(table string, columns []string, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", pq.QuoteIdentifier(table), strings.Join(columns, ", "))

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteString(")")
	}
	return b.String()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// isUndefinedTable reports whether err is PostgreSQL's undefined_table error.
func isUndefinedTable(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "42P01"
}
