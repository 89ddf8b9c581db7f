package datasource

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConnector implements Connector for PostgreSQL via pgx.
type PostgresConnector struct {
	pool *pgxpool.Pool
}

var _ Connector = (*PostgresConnector)(nil)

// NewPostgresConnector opens a pooled connection to a PostgreSQL database.
func NewPostgresConnector(ctx context.Context, cfg ConnConfig, maxConns int32) (*PostgresConnector, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.postgresURL())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return &PostgresConnector{pool: pool}, nil
}

// Ping implements Connector.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// DiscoverTables implements Connector.
func (c *PostgresConnector) DiscoverTables(ctx context.Context) ([]TableMeta, error) {
	query := `
		SELECT t.table_schema,
		       t.table_name,
		       COALESCE(obj_description(pc.oid), '') AS comment
		FROM information_schema.tables t
		LEFT JOIN pg_class pc ON pc.relname = t.table_name
		LEFT JOIN pg_namespace pn ON pn.oid = pc.relnamespace AND pn.nspname = t.table_schema
		WHERE t.table_type = 'BASE TABLE'
		  AND t.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY t.table_schema, t.table_name`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("discover tables: %w", err)
	}
	defer rows.Close()

	var tables []TableMeta
	for rows.Next() {
		var t TableMeta
		if err := rows.Scan(&t.Schema, &t.Name, &t.Comment); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

// DiscoverColumns implements Connector.
func (c *PostgresConnector) DiscoverColumns(ctx context.Context, schema, table string) ([]ColumnMeta, error) {
	query := `
		SELECT c.column_name,
		       c.data_type,
		       c.is_nullable = 'YES',
		       EXISTS (
		           SELECT 1
		           FROM information_schema.table_constraints tc
		           JOIN information_schema.key_column_usage kcu
		             ON kcu.constraint_name = tc.constraint_name
		            AND kcu.table_schema = tc.table_schema
		           WHERE tc.constraint_type = 'PRIMARY KEY'
		             AND tc.table_schema = c.table_schema
		             AND tc.table_name = c.table_name
		             AND kcu.column_name = c.column_name
		       ) AS is_primary,
		       COALESCE(col_description(pc.oid, c.ordinal_position), '') AS comment
		FROM information_schema.columns c
		LEFT JOIN pg_class pc ON pc.relname = c.table_name
		LEFT JOIN pg_namespace pn ON pn.oid = pc.relnamespace AND pn.nspname = c.table_schema
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position`

	rows, err := c.pool.Query(ctx, query, schema, table)
	if err != nil {
		return nil, fmt.Errorf("discover columns: %w", err)
	}
	defer rows.Close()

	var columns []ColumnMeta
	for rows.Next() {
		var col ColumnMeta
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.IsPrimary, &col.Comment); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// DiscoverForeignKeys implements Connector.
func (c *PostgresConnector) DiscoverForeignKeys(ctx context.Context) ([]ForeignKeyMeta, error) {
	query := `
		SELECT kcu.table_schema,
		       kcu.table_name,
		       kcu.column_name,
		       ccu.table_schema,
		       ccu.table_name,
		       ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
		  ON ccu.constraint_name = tc.constraint_name
		 AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema NOT IN ('pg_catalog', 'information_schema')`

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("discover foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKeyMeta
	for rows.Next() {
		var fk ForeignKeyMeta
		if err := rows.Scan(&fk.Schema, &fk.Table, &fk.Column,
			&fk.ReferencedSchema, &fk.ReferencedTable, &fk.ReferencedColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}

// ExecuteQuery implements Connector.
func (c *PostgresConnector) ExecuteQuery(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error) {
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, clampLimit(limit))

	// Read-only transaction backs up the SELECT-only validation.
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, wrapped)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = string(fd.Name)
	}

	result := &QueryResult{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// Close implements Connector.
func (c *PostgresConnector) Close() error {
	c.pool.Close()
	return nil
}
