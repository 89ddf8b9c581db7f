package datasource

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"
)

// MSSQLConnector implements Connector for SQL Server.
type MSSQLConnector struct {
	db *sql.DB
}

var _ Connector = (*MSSQLConnector)(nil)

// NewMSSQLConnector opens a pooled connection to a SQL Server database.
func NewMSSQLConnector(cfg ConnConfig, maxConns int) (*MSSQLConnector, error) {
	db, err := sql.Open("sqlserver", cfg.mssqlURL())
	if err != nil {
		return nil, fmt.Errorf("open mssql connection: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}
	return &MSSQLConnector{db: db}, nil
}

// Ping implements Connector.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DiscoverTables implements Connector.
func (c *MSSQLConnector) DiscoverTables(ctx context.Context) ([]TableMeta, error) {
	query := `
		SELECT s.name,
		       t.name,
		       COALESCE(CAST(ep.value AS NVARCHAR(4000)), '')
		FROM sys.tables t
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		LEFT JOIN sys.extended_properties ep
		  ON ep.major_id = t.object_id AND ep.minor_id = 0 AND ep.name = 'MS_Description'
		ORDER BY s.name, t.name`

	rows, err := c.db.QueryContext(ctx, query)
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
func (c *MSSQLConnector) DiscoverColumns(ctx context.Context, schema, table string) ([]ColumnMeta, error) {
	query := `
		SELECT c.name,
		       ty.name,
		       c.is_nullable,
		       CASE WHEN ic.column_id IS NOT NULL THEN 1 ELSE 0 END,
		       COALESCE(CAST(ep.value AS NVARCHAR(4000)), '')
		FROM sys.columns c
		JOIN sys.tables t ON t.object_id = c.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		JOIN sys.types ty ON ty.user_type_id = c.user_type_id
		LEFT JOIN sys.indexes i ON i.object_id = t.object_id AND i.is_primary_key = 1
		LEFT JOIN sys.index_columns ic
		  ON ic.object_id = t.object_id AND ic.index_id = i.index_id AND ic.column_id = c.column_id
		LEFT JOIN sys.extended_properties ep
		  ON ep.major_id = c.object_id AND ep.minor_id = c.column_id AND ep.name = 'MS_Description'
		WHERE s.name = @p1 AND t.name = @p2
		ORDER BY c.column_id`

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
func (c *MSSQLConnector) DiscoverForeignKeys(ctx context.Context) ([]ForeignKeyMeta, error) {
	query := `
		SELECT ps.name,
		       pt.name,
		       pc.name,
		       rs.name,
		       rt.name,
		       rc.name
		FROM sys.foreign_key_columns fkc
		JOIN sys.tables pt ON pt.object_id = fkc.parent_object_id
		JOIN sys.schemas ps ON ps.schema_id = pt.schema_id
		JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
		JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
		JOIN sys.schemas rs ON rs.schema_id = rt.schema_id
		JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id`

	rows, err := c.db.QueryContext(ctx, query)
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
func (c *MSSQLConnector) ExecuteQuery(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error) {
	wrapped := fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", clampLimit(limit), sqlQuery)

	// go-mssqldb rejects read-only TxOptions; SELECT-only enforcement
	// happens in validation.
	rows, err := c.db.QueryContext(ctx, wrapped)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRows(rows)
}

// Close implements Connector.
func (c *MSSQLConnector) Close() error {
	return c.db.Close()
}
