package models

import (
	"time"

	"github.com/google/uuid"
)

// Table sync lifecycle states.
const (
	SyncStatusPending   = "pending"
	SyncStatusRunning   = "running"
	SyncStatusSucceeded = "succeeded"
	SyncStatusFailed    = "failed"
)

// DataTable is cached metadata about a discovered table in a customer
// database. It drives table selection and SQL generation; the engine never
// reads customer data except through generated queries.
type DataTable struct {
	ID           uuid.UUID  `json:"id"`
	DatasourceID uuid.UUID  `json:"datasource_id"`
	SchemaName   string     `json:"schema_name"`
	TableName    string     `json:"table_name"`
	DisplayName  string     `json:"display_name"`
	Description  string     `json:"description,omitempty"`
	RowEstimate  int64      `json:"row_estimate"`
	SyncStatus   string     `json:"sync_status"`
	SyncError    string     `json:"sync_error,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`

	// Fields is populated on detail reads, not list queries.
	Fields []*TableField `json:"fields,omitempty"`
}

// QualifiedName returns schema.table, or just the table name when the
// datasource has no schema concept.
func (t *DataTable) QualifiedName() string {
	if t.SchemaName == "" {
		return t.TableName
	}
	return t.SchemaName + "." + t.TableName
}

// TableField is cached metadata about a column.
// BusinessMeaning is user-curated and feeds prompt construction;
// IsSensitive marks columns whose values must never reach the cloud tier.
type TableField struct {
	ID              uuid.UUID `json:"id"`
	TableID         uuid.UUID `json:"table_id"`
	FieldName       string    `json:"field_name"`
	DataType        string    `json:"data_type"`
	IsNullable      bool      `json:"is_nullable"`
	IsPrimaryKey    bool      `json:"is_primary_key"`
	Comment         string    `json:"comment,omitempty"`
	BusinessMeaning string    `json:"business_meaning,omitempty"`
	IsSensitive     bool      `json:"is_sensitive"`
	OrdinalPosition int       `json:"ordinal_position"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Relation types between cached tables.
const (
	RelationTypeOneToOne   = "one_to_one"
	RelationTypeOneToMany  = "one_to_many"
	RelationTypeManyToMany = "many_to_many"
)

// TableRelation records a join path between two cached tables, either
// discovered from foreign keys or curated by the user.
type TableRelation struct {
	ID           uuid.UUID `json:"id"`
	DatasourceID uuid.UUID `json:"datasource_id"`
	FromTableID  uuid.UUID `json:"from_table_id"`
	FromField    string    `json:"from_field"`
	ToTableID    uuid.UUID `json:"to_table_id"`
	ToField      string    `json:"to_field"`
	RelationType string    `json:"relation_type"`
	CreatedAt    time.Time `json:"created_at"`
}
