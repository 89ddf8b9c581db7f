// Package datasource provides connectors to the customer databases that
// chat queries run against: PostgreSQL, MySQL, and SQL Server.
package datasource

import "context"

// MaxQueryLimit is the hard cap on rows returned by ExecuteQuery.
// Protects against unbounded queries that could crash the server.
const MaxQueryLimit = 1000

// TableMeta describes a discovered table.
type TableMeta struct {
	Schema  string `json:"schema"`
	Name    string `json:"name"`
	Comment string `json:"comment,omitempty"`
}

// ColumnMeta describes a discovered column.
type ColumnMeta struct {
	Name       string `json:"name"`
	DataType   string `json:"data_type"`
	IsNullable bool   `json:"is_nullable"`
	IsPrimary  bool   `json:"is_primary"`
	Comment    string `json:"comment,omitempty"`
}

// ForeignKeyMeta describes a discovered foreign key edge.
type ForeignKeyMeta struct {
	Schema           string `json:"schema"`
	Table            string `json:"table"`
	Column           string `json:"column"`
	ReferencedSchema string `json:"referenced_schema"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

// QueryResult holds the rows from a bounded SELECT.
type QueryResult struct {
	Columns  []string `json:"columns"`
	Rows     [][]any  `json:"rows"`
	RowCount int      `json:"row_count"`
}

// Connector is one live connection to a customer database. Each
// implementation owns its connection and must be closed when done.
type Connector interface {
	// Ping verifies the database is reachable with valid credentials.
	Ping(ctx context.Context) error

	// DiscoverTables returns all user tables (system schemas excluded).
	DiscoverTables(ctx context.Context) ([]TableMeta, error)

	// DiscoverColumns returns columns for one table.
	DiscoverColumns(ctx context.Context, schema, table string) ([]ColumnMeta, error)

	// DiscoverForeignKeys returns all foreign key relationships.
	DiscoverForeignKeys(ctx context.Context) ([]ForeignKeyMeta, error)

	// ExecuteQuery runs a SELECT with a dialect-specific row bound.
	// limit <= 0 or above MaxQueryLimit uses MaxQueryLimit.
	ExecuteQuery(ctx context.Context, sqlQuery string, limit int) (*QueryResult, error)

	// Close releases the database connection.
	Close() error
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxQueryLimit {
		return MaxQueryLimit
	}
	return limit
}
