package datasource

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLConnector implements Connector for MySQL.
type MySQLConnector struct {
	db       *sql.DB
	database string
}

var _ Connector = (*MySQLConnector)(nil)

// NewMySQLConnector opens a pooled connection to a MySQL database.
func NewMySQLConnector(cfg ConnConfig, maxConns int) (*MySQLConnector, error) {
	db, err := sql.Open("mysql", cfg.mysqlDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql connection: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	return &MySQLConnector{db: db, database: cfg.Database}, nil
}

// Ping implements Connector.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DiscoverTables implements Connector.
func (c *MySQLConnector) DiscoverTables(ctx context.Context) ([]TableMeta, error) {
	query := `
		SELECT table_schema, table_name, COALESCE(table_comment, '')
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE' AND table_schema = ?
		ORDER BY table_name`

	rows, err := c.db.QueryContext(ctx, query, c.database)
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
func (c *MySQLConnector) DiscoverColumns(ctx context.Context, schema, table string) ([]ColumnMeta, error) {
	if schema == "" {
		schema = c.database
	}
	query := `
		SELECT column_name,
		       data_type,
		       is_nullable = 'YES',
		       column_key = 'PRI',
		       COALESCE(column_comment, '')
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`

	rows, err := c.db.QueryContext(ctx, query, schema, table)
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
func (c *MySQLConnector) DiscoverForeignKeys(ctx context.Context) ([]ForeignKeyMeta, error) {
	query := `
		SELECT table_schema,
		       table_name,
		       column_name,
		       referenced_table_schema,
		       referenced_table_name,
		       referenced_column_name
		FROM information_schema.key_column_usage
		WHERE referenced_table_name IS NOT NULL AND table_schema = ?`

	rows, err := c.db.QueryContext(ctx, query, c.database)
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
func (c *MySQLConnector) ExecuteQuery(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error) {
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS _limited LIMIT %d", sqlQuery, clampLimit(limit))

	// Read-only transaction backs up the SELECT-only validation.
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, wrapped)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// Close implements Connector.
func (c *MySQLConnector) Close() error {
	return c.db.Close()
}
