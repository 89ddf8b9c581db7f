package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datachat-io/datachat-engine/pkg/apperrors"
	"github.com/datachat-io/datachat-engine/pkg/database"
	"github.com/datachat-io/datachat-engine/pkg/models"
)

// TableRepository defines data access for cached table metadata, their
// fields, and table relations.
type TableRepository interface {
	// UpsertTable inserts or refreshes a discovered table, keyed by
	// (datasource_id, schema_name, table_name). User-curated columns
	// (display_name, description) survive re-sync.
	UpsertTable(ctx context.Context, t *models.DataTable) error

	// GetByID retrieves a table with its fields.
	GetByID(ctx context.Context, id uuid.UUID) (*models.DataTable, error)

	// ListByDatasource retrieves all cached tables for a datasource,
	// without fields.
	ListByDatasource(ctx context.Context, datasourceID uuid.UUID) ([]*models.DataTable, error)

	// ListWithFields retrieves all cached tables with fields populated.
	// Feeds table selection and prompt construction.
	ListWithFields(ctx context.Context, datasourceID uuid.UUID) ([]*models.DataTable, error)

	// UpdateMeta sets the user-curated display name and description.
	UpdateMeta(ctx context.Context, id uuid.UUID, displayName, description string) error

	// SetSyncStatus transitions the sync state machine for every table of
	// a datasource.
	SetSyncStatus(ctx context.Context, datasourceID uuid.UUID, status, syncErr string) error

	// Delete removes a cached table and its fields.
	Delete(ctx context.Context, id uuid.UUID) error

	// DeleteMissing removes cached tables of a datasource that are not in
	// keep (schema.table keys). Used after a sync to drop vanished tables.
	DeleteMissing(ctx context.Context, datasourceID uuid.UUID, keep []string) (int64, error)

	// ReplaceFields swaps the field set of a table.
	ReplaceFields(ctx context.Context, tableID uuid.UUID, fields []*models.TableField) error

	// UpdateField sets the user-curated business meaning and sensitivity
	// flag of a field.
	UpdateField(ctx context.Context, fieldID uuid.UUID, businessMeaning string, isSensitive bool) error

	// CreateRelation records a join path.
	CreateRelation(ctx context.Context, rel *models.TableRelation) error

	// ListRelations retrieves all relations for a datasource.
	ListRelations(ctx context.Context, datasourceID uuid.UUID) ([]*models.TableRelation, error)

	// DeleteRelation removes a relation.
	DeleteRelation(ctx context.Context, id uuid.UUID) error
}

type tableRepository struct {
	db *database.DB
}

// NewTableRepository creates a table metadata repository.
func NewTableRepository(db *database.DB) TableRepository {
	return &tableRepository{db: db}
}

var _ TableRepository = (*tableRepository)(nil)

func (r *tableRepository) UpsertTable(ctx context.Context, t *models.DataTable) error {
	now := time.Now()
	query := `
		INSERT INTO dc_data_tables
			(datasource_id, schema_name, table_name, display_name, description, row_estimate, sync_status, last_synced_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (datasource_id, schema_name, table_name) DO UPDATE SET
			row_estimate   = EXCLUDED.row_estimate,
			sync_status    = EXCLUDED.sync_status,
			sync_error     = '',
			last_synced_at = EXCLUDED.last_synced_at,
			updated_at     = EXCLUDED.updated_at
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		t.DatasourceID,
		t.SchemaName,
		t.TableName,
		t.DisplayName,
		t.Description,
		t.RowEstimate,
		t.SyncStatus,
		t.LastSyncedAt,
		now,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert table: %w", mapError(err))
	}
	t.UpdatedAt = now
	return nil
}

const tableColumns = `id, datasource_id, schema_name, table_name, display_name, description,
	row_estimate, sync_status, sync_error, last_synced_at, created_at, updated_at`

func scanTable(row pgx.Row) (*models.DataTable, error) {
	var t models.DataTable
	err := row.Scan(
		&t.ID,
		&t.DatasourceID,
		&t.SchemaName,
		&t.TableName,
		&t.DisplayName,
		&t.Description,
		&t.RowEstimate,
		&t.SyncStatus,
		&t.SyncError,
		&t.LastSyncedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *tableRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DataTable, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+tableColumns+" FROM dc_data_tables WHERE id = $1", id)
	t, err := scanTable(row)
	if err != nil {
		return nil, fmt.Errorf("get table: %w", mapError(err))
	}

	fields, err := r.listFields(ctx, []uuid.UUID{t.ID})
	if err != nil {
		return nil, err
	}
	t.Fields = fields[t.ID]
	return t, nil
}

func (r *tableRepository) ListByDatasource(ctx context.Context, datasourceID uuid.UUID) ([]*models.DataTable, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+tableColumns+" FROM dc_data_tables WHERE datasource_id = $1 ORDER BY schema_name, table_name",
		datasourceID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var tables []*models.DataTable
	for rows.Next() {
		t, err := scanTable(rows)
		if err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (r *tableRepository) ListWithFields(ctx context.Context, datasourceID uuid.UUID) ([]*models.DataTable, error) {
	tables, err := r.ListByDatasource(ctx, datasourceID)
	if err != nil {
		return nil, err
	}
	if len(tables) == 0 {
		return tables, nil
	}

	ids := make([]uuid.UUID, len(tables))
	for i, t := range tables {
		ids[i] = t.ID
	}
	fieldsByTable, err := r.listFields(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, t := range tables {
		t.Fields = fieldsByTable[t.ID]
	}
	return tables, nil
}

func (r *tableRepository) listFields(ctx context.Context, tableIDs []uuid.UUID) (map[uuid.UUID][]*models.TableField, error) {
	query := `
		SELECT id, table_id, field_name, data_type, is_nullable, is_primary_key,
		       comment, business_meaning, is_sensitive, ordinal_position, created_at, updated_at
		FROM dc_table_fields
		WHERE table_id = ANY($1)
		ORDER BY table_id, ordinal_position`

	rows, err := r.db.Query(ctx, query, tableIDs)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	byTable := make(map[uuid.UUID][]*models.TableField)
	for rows.Next() {
		var f models.TableField
		if err := rows.Scan(
			&f.ID,
			&f.TableID,
			&f.FieldName,
			&f.DataType,
			&f.IsNullable,
			&f.IsPrimaryKey,
			&f.Comment,
			&f.BusinessMeaning,
			&f.IsSensitive,
			&f.OrdinalPosition,
			&f.CreatedAt,
			&f.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan field: %w", err)
		}
		byTable[f.TableID] = append(byTable[f.TableID], &f)
	}
	return byTable, rows.Err()
}

func (r *tableRepository) UpdateMeta(ctx context.Context, id uuid.UUID, displayName, description string) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE dc_data_tables SET display_name = $2, description = $3, updated_at = $4 WHERE id = $1",
		id, displayName, description, time.Now())
	if err != nil {
		return fmt.Errorf("update table meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *tableRepository) SetSyncStatus(ctx context.Context, datasourceID uuid.UUID, status, syncErr string) error {
	_, err := r.db.Exec(ctx,
		"UPDATE dc_data_tables SET sync_status = $2, sync_error = $3, updated_at = $4 WHERE datasource_id = $1",
		datasourceID, status, syncErr, time.Now())
	if err != nil {
		return fmt.Errorf("set sync status: %w", err)
	}
	return nil
}

func (r *tableRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM dc_data_tables WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete table: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *tableRepository) DeleteMissing(ctx context.Context, datasourceID uuid.UUID, keep []string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		"DELETE FROM dc_data_tables WHERE datasource_id = $1 AND schema_name || '.' || table_name != ALL($2)",
		datasourceID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete missing tables: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *tableRepository) ReplaceFields(ctx context.Context, tableID uuid.UUID, fields []*models.TableField) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Preserve curated annotations across re-sync.
	curated := map[string]struct {
		meaning   string
		sensitive bool
	}{}
	rows, err := tx.Query(ctx,
		"SELECT field_name, business_meaning, is_sensitive FROM dc_table_fields WHERE table_id = $1", tableID)
	if err != nil {
		return fmt.Errorf("read existing fields: %w", err)
	}
	for rows.Next() {
		var name, meaning string
		var sensitive bool
		if err := rows.Scan(&name, &meaning, &sensitive); err != nil {
			rows.Close()
			return fmt.Errorf("scan existing field: %w", err)
		}
		curated[name] = struct {
			meaning   string
			sensitive bool
		}{meaning, sensitive}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, "DELETE FROM dc_table_fields WHERE table_id = $1", tableID); err != nil {
		return fmt.Errorf("clear fields: %w", err)
	}

	now := time.Now()
	for _, f := range fields {
		if prev, ok := curated[f.FieldName]; ok {
			if f.BusinessMeaning == "" {
				f.BusinessMeaning = prev.meaning
			}
			f.IsSensitive = f.IsSensitive || prev.sensitive
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO dc_table_fields
				(table_id, field_name, data_type, is_nullable, is_primary_key, comment, business_meaning, is_sensitive, ordinal_position, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
			RETURNING id`,
			tableID, f.FieldName, f.DataType, f.IsNullable, f.IsPrimaryKey,
			f.Comment, f.BusinessMeaning, f.IsSensitive, f.OrdinalPosition, now,
		).Scan(&f.ID)
		if err != nil {
			return fmt.Errorf("insert field %s: %w", f.FieldName, mapError(err))
		}
		f.TableID = tableID
		f.CreatedAt = now
		f.UpdatedAt = now
	}

	return tx.Commit(ctx)
}

func (r *tableRepository) UpdateField(ctx context.Context, fieldID uuid.UUID, businessMeaning string, isSensitive bool) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE dc_table_fields SET business_meaning = $2, is_sensitive = $3, updated_at = $4 WHERE id = $1",
		fieldID, businessMeaning, isSensitive, time.Now())
	if err != nil {
		return fmt.Errorf("update field: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *tableRepository) CreateRelation(ctx context.Context, rel *models.TableRelation) error {
	rel.CreatedAt = time.Now()
	err := r.db.QueryRow(ctx, `
		INSERT INTO dc_table_relations
			(datasource_id, from_table_id, from_field, to_table_id, to_field, relation_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		rel.DatasourceID, rel.FromTableID, rel.FromField, rel.ToTableID, rel.ToField,
		rel.RelationType, rel.CreatedAt,
	).Scan(&rel.ID)
	if err != nil {
		return fmt.Errorf("create relation: %w", mapError(err))
	}
	return nil
}

func (r *tableRepository) ListRelations(ctx context.Context, datasourceID uuid.UUID) ([]*models.TableRelation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, datasource_id, from_table_id, from_field, to_table_id, to_field, relation_type, created_at
		FROM dc_table_relations
		WHERE datasource_id = $1
		ORDER BY created_at`,
		datasourceID)
	if err != nil {
		return nil, fmt.Errorf("list relations: %w", err)
	}
	defer rows.Close()

	var relations []*models.TableRelation
	for rows.Next() {
		var rel models.TableRelation
		if err := rows.Scan(
			&rel.ID,
			&rel.DatasourceID,
			&rel.FromTableID,
			&rel.FromField,
			&rel.ToTableID,
			&rel.ToField,
			&rel.RelationType,
			&rel.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		relations = append(relations, &rel)
	}
	return relations, rows.Err()
}

func (r *tableRepository) DeleteRelation(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM dc_table_relations WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete relation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
