package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/datachat-io/datachat-engine/pkg/apperrors"
	"github.com/datachat-io/datachat-engine/pkg/database"
	"github.com/datachat-io/datachat-engine/pkg/models"
)

// DatasourceRepository defines data access for datasources.
// Config is stored as encrypted TEXT; encryption and decryption are
// handled by the service layer.
type DatasourceRepository interface {
	// Create inserts a new datasource. Returns ErrConflict when the name
	// is taken.
	Create(ctx context.Context, ds *models.Datasource, encryptedConfig string) error

	// GetByID retrieves a datasource and its encrypted config.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Datasource, string, error)

	// List retrieves a page of datasources with their encrypted configs
	// and the total count.
	List(ctx context.Context, limit, offset int) ([]*models.Datasource, []string, int, error)

	// Update modifies name, description, and config of a datasource.
	Update(ctx context.Context, id uuid.UUID, name, description, encryptedConfig string) error

	// UpdateStatus sets the lifecycle status.
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error

	// Delete removes a datasource and, via cascade, its cached tables.
	Delete(ctx context.Context, id uuid.UUID) error
}

type datasourceRepository struct {
	db *database.DB
}

// NewDatasourceRepository creates a datasource repository.
func NewDatasourceRepository(db *database.DB) DatasourceRepository {
	return &datasourceRepository{db: db}
}

var _ DatasourceRepository = (*datasourceRepository)(nil)

func (r *datasourceRepository) Create(ctx context.Context, ds *models.Datasource, encryptedConfig string) error {
	now := time.Now()
	ds.CreatedAt = now
	ds.UpdatedAt = now
	if ds.Status == "" {
		ds.Status = models.DatasourceStatusActive
	}

	query := `
		INSERT INTO dc_datasources (name, datasource_type, description, config_encrypted, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRow(ctx, query,
		ds.Name,
		ds.DatasourceType,
		ds.Description,
		encryptedConfig,
		ds.Status,
		ds.CreatedAt,
		ds.UpdatedAt,
	).Scan(&ds.ID)
	if err != nil {
		return fmt.Errorf("create datasource: %w", mapError(err))
	}
	return nil
}

func (r *datasourceRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Datasource, string, error) {
	query := `
		SELECT id, name, datasource_type, description, config_encrypted, status, created_at, updated_at
		FROM dc_datasources
		WHERE id = $1`

	var ds models.Datasource
	var encryptedConfig string
	err := r.db.QueryRow(ctx, query, id).Scan(
		&ds.ID,
		&ds.Name,
		&ds.DatasourceType,
		&ds.Description,
		&encryptedConfig,
		&ds.Status,
		&ds.CreatedAt,
		&ds.UpdatedAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("get datasource: %w", mapError(err))
	}
	return &ds, encryptedConfig, nil
}

func (r *datasourceRepository) List(ctx context.Context, limit, offset int) ([]*models.Datasource, []string, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM dc_datasources").Scan(&total); err != nil {
		return nil, nil, 0, fmt.Errorf("count datasources: %w", err)
	}

	query := `
		SELECT id, name, datasource_type, description, config_encrypted, status, created_at, updated_at
		FROM dc_datasources
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("list datasources: %w", err)
	}
	defer rows.Close()

	var (
		list    []*models.Datasource
		configs []string
	)
	for rows.Next() {
		var ds models.Datasource
		var encryptedConfig string
		if err := rows.Scan(
			&ds.ID,
			&ds.Name,
			&ds.DatasourceType,
			&ds.Description,
			&encryptedConfig,
			&ds.Status,
			&ds.CreatedAt,
			&ds.UpdatedAt,
		); err != nil {
			return nil, nil, 0, fmt.Errorf("scan datasource: %w", err)
		}
		list = append(list, &ds)
		configs = append(configs, encryptedConfig)
	}
	return list, configs, total, rows.Err()
}

func (r *datasourceRepository) Update(ctx context.Context, id uuid.UUID, name, description, encryptedConfig string) error {
	query := `
		UPDATE dc_datasources
		SET name = $2, description = $3, config_encrypted = $4, updated_at = $5
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, name, description, encryptedConfig, time.Now())
	if err != nil {
		return fmt.Errorf("update datasource: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("datasource %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (r *datasourceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE dc_datasources SET status = $2, updated_at = $3 WHERE id = $1",
		id, status, time.Now())
	if err != nil {
		return fmt.Errorf("update datasource status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *datasourceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM dc_datasources WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete datasource: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
