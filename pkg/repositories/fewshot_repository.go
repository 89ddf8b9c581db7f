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

// FewShotRepository defines data access for curated question→SQL samples.
type FewShotRepository interface {
	Create(ctx context.Context, s *models.FewShotSample) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.FewShotSample, error)
	ListByDatasource(ctx context.Context, datasourceID uuid.UUID, limit, offset int) ([]*models.FewShotSample, int, error)
	Update(ctx context.Context, s *models.FewShotSample) error
	Delete(ctx context.Context, id uuid.UUID) error

	// ListEnabledByDatasource retrieves all enabled samples for relevance
	// ranking in the few-shot service.
	ListEnabledByDatasource(ctx context.Context, datasourceID uuid.UUID) ([]*models.FewShotSample, error)
}

type fewShotRepository struct {
	db *database.DB
}

// NewFewShotRepository creates a few-shot sample repository.
func NewFewShotRepository(db *database.DB) FewShotRepository {
	return &fewShotRepository{db: db}
}

var _ FewShotRepository = (*fewShotRepository)(nil)

const fewShotColumns = `id, datasource_id, question, sql_text, tables_used, tags, enabled, created_at, updated_at`

func (r *fewShotRepository) Create(ctx context.Context, s *models.FewShotSample) error {
	now := time.Now()
	err := r.db.QueryRow(ctx, `
		INSERT INTO dc_fewshot_samples
			(datasource_id, question, sql_text, tables_used, tags, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`,
		s.DatasourceID, s.Question, s.SQL, s.TablesUsed, s.Tags, s.Enabled, now,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("create few-shot sample: %w", mapError(err))
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

func (r *fewShotRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.FewShotSample, error) {
	var s models.FewShotSample
	err := r.db.QueryRow(ctx,
		"SELECT "+fewShotColumns+" FROM dc_fewshot_samples WHERE id = $1", id,
	).Scan(&s.ID, &s.DatasourceID, &s.Question, &s.SQL, &s.TablesUsed, &s.Tags, &s.Enabled, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get few-shot sample: %w", mapError(err))
	}
	return &s, nil
}

func (r *fewShotRepository) ListByDatasource(ctx context.Context, datasourceID uuid.UUID, limit, offset int) ([]*models.FewShotSample, int, error) {
	var total int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM dc_fewshot_samples WHERE datasource_id = $1", datasourceID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count few-shot samples: %w", err)
	}

	rows, err := r.db.Query(ctx,
		"SELECT "+fewShotColumns+` FROM dc_fewshot_samples
		WHERE datasource_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		datasourceID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list few-shot samples: %w", err)
	}
	defer rows.Close()

	var samples []*models.FewShotSample
	for rows.Next() {
		var s models.FewShotSample
		if err := rows.Scan(&s.ID, &s.DatasourceID, &s.Question, &s.SQL, &s.TablesUsed, &s.Tags, &s.Enabled, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan few-shot sample: %w", err)
		}
		samples = append(samples, &s)
	}
	return samples, total, rows.Err()
}

func (r *fewShotRepository) Update(ctx context.Context, s *models.FewShotSample) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE dc_fewshot_samples
		SET question = $2, sql_text = $3, tables_used = $4, tags = $5, enabled = $6, updated_at = $7
		WHERE id = $1`,
		s.ID, s.Question, s.SQL, s.TablesUsed, s.Tags, s.Enabled, time.Now())
	if err != nil {
		return fmt.Errorf("update few-shot sample: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *fewShotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM dc_fewshot_samples WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete few-shot sample: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *fewShotRepository) ListEnabledByDatasource(ctx context.Context, datasourceID uuid.UUID) ([]*models.FewShotSample, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+fewShotColumns+" FROM dc_fewshot_samples WHERE datasource_id = $1 AND enabled",
		datasourceID)
	if err != nil {
		return nil, fmt.Errorf("list enabled few-shot samples: %w", err)
	}
	defer rows.Close()

	var samples []*models.FewShotSample
	for rows.Next() {
		var s models.FewShotSample
		if err := rows.Scan(&s.ID, &s.DatasourceID, &s.Question, &s.SQL, &s.TablesUsed, &s.Tags, &s.Enabled, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan few-shot sample: %w", err)
		}
		samples = append(samples, &s)
	}
	return samples, rows.Err()
}
