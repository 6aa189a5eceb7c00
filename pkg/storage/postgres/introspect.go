package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/platinummonkey/insight/pkg/contenttypes"
	"github.com/platinummonkey/insight/pkg/storage"
)

// DiscoverStatisticsTables finds host tables carrying a total_views column,
// excluding insight's own tables, and describes which counter columns they
// have and their primary key.
func (s *PostgresStorage) DiscoverStatisticsTables(ctx context.Context) ([]storage.TableDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.table_schema, c.table_name, c.column_name
		FROM information_schema.columns c
		JOIN information_schema.tables t
			ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE t.table_type = 'BASE TABLE'
			AND c.table_schema NOT IN ('pg_catalog', 'information_schema')
			AND c.table_name::text NOT LIKE $1
			AND c.column_name::text = ANY($2::text[])
			AND EXISTS (
				SELECT 1 FROM information_schema.columns tv
				WHERE tv.table_schema = c.table_schema
					AND tv.table_name = c.table_name
					AND tv.column_name = 'total_views'
			)
		ORDER BY c.table_schema, c.table_name
	`, ownTablePattern, pq.Array(storage.MixinColumns))
	if err != nil {
		return nil, fmt.Errorf("failed to introspect statistics tables: %w", err)
	}
	defer rows.Close()

	var tables []storage.TableDescriptor
	index := make(map[string]int)
	for rows.Next() {
		var schema, table, column string
		if err := rows.Scan(&schema, &table, &column); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}

		key := schema + "." + table
		i, ok := index[key]
		if !ok {
			appLabel, model, _ := contenttypes.SplitTableName(table)
			tables = append(tables, storage.TableDescriptor{
				Schema:   schema,
				Table:    table,
				AppLabel: appLabel,
				Model:    model,
			})
			i = len(tables) - 1
			index[key] = i
		}
		tables[i].Columns = append(tables[i].Columns, column)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	for i := range tables {
		tables[i].Columns = canonicalColumns(tables[i].Columns)
		pk, err := s.primaryKey(ctx, tables[i].Schema, tables[i].Table)
		if err != nil {
			return nil, err
		}
		tables[i].PK = pk
	}

	s.logger.WithField("tables", len(tables)).Debug("Introspected statistics tables")
	return tables, nil
}

func (s *PostgresStorage) primaryKey(ctx context.Context, schema, table string) (string, error) {
	var column string
	err := s.db.QueryRowContext(ctx, `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
			AND tc.table_schema = $1
			AND tc.table_name = $2
		ORDER BY kcu.ordinal_position
		LIMIT 1
	`, schema, table).Scan(&column)
	if err == sql.ErrNoRows {
		return "id", nil
	} else if err != nil {
		return "", fmt.Errorf("failed to read primary key of %s.%s: %w", schema, table, err)
	}
	return column, nil
}

// MixinRows reads up to limit rows of a counter-carrying table with a primary
// key greater than afterPK. Columns the table lacks read as 0 or NULL. The
// bound is cast to bigint so int4 and int2 keys compare against the full
// int64 range.
func (s *PostgresStorage) MixinRows(ctx context.Context, table storage.TableDescriptor, afterPK int64, limit int) ([]storage.MixinRow, error) {
	pk := pq.QuoteIdentifier(table.PK)
	query := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s FROM %s WHERE %s > $1::bigint ORDER BY %s LIMIT $2`,
		pk,
		selectColumn(table, storage.ColumnTotalViews, "0"),
		selectColumn(table, storage.ColumnUniqueViews, "0"),
		selectColumn(table, storage.ColumnFirstViewedAt, "NULL::timestamptz"),
		selectColumn(table, storage.ColumnLastViewedAt, "NULL::timestamptz"),
		quoteTable(table),
		pk, pk,
	)

	rows, err := s.db.QueryContext(ctx, query, afterPK, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s after %d: %w", table.QualifiedName(), afterPK, err)
	}
	defer rows.Close()

	var result []storage.MixinRow
	for rows.Next() {
		var (
			row           storage.MixinRow
			total, unique sql.NullInt64
			first, last   sql.NullTime
		)
		if err := rows.Scan(&row.PK, &total, &unique, &first, &last); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", table.QualifiedName(), err)
		}
		row.TotalViews = total.Int64
		row.UniqueViews = unique.Int64
		row.FirstViewedAt = timePtr(first)
		row.LastViewedAt = timePtr(last)
		result = append(result, row)
	}
	return result, rows.Err()
}

func selectColumn(table storage.TableDescriptor, column, fallback string) string {
	if table.Has(column) {
		return pq.QuoteIdentifier(column)
	}
	return fallback
}

// quoteTable quotes the table name, qualifying it when the schema is not the
// default one.
func quoteTable(table storage.TableDescriptor) string {
	if table.Schema == "" || table.Schema == "public" {
		return pq.QuoteIdentifier(table.Table)
	}
	return pq.QuoteIdentifier(table.Schema) + "." + pq.QuoteIdentifier(table.Table)
}

func canonicalColumns(columns []string) []string {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[strings.ToLower(c)] = true
	}
	out := make([]string, 0, len(columns))
	for _, c := range storage.MixinColumns {
		if present[c] {
			out = append(out, c)
		}
	}
	return out
}
