package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/datachat-io/datachat-engine/pkg/database"
	"github.com/datachat-io/datachat-engine/pkg/models"
)

// VersionStats aggregates query outcomes per prompt template version, for
// A/B experiment comparison.
type VersionStats struct {
	TemplateVersionID uuid.UUID `json:"template_version_id"`
	Queries           int64     `json:"queries"`
	Succeeded         int64     `json:"succeeded"`
	Recovered         int64     `json:"recovered"`
	AvgDurationMs     float64   `json:"avg_duration_ms"`
}

// QueryHistoryRepository defines data access for the query audit log.
type QueryHistoryRepository interface {
	Insert(ctx context.Context, h *models.QueryHistory) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.QueryHistory, int, error)
	ListByDatasource(ctx context.Context, datasourceID uuid.UUID, limit, offset int) ([]*models.QueryHistory, int, error)

	// StatsByTemplateVersion aggregates outcomes for each version of a
	// template since the given time.
	StatsByTemplateVersion(ctx context.Context, templateID uuid.UUID, since time.Time) ([]*VersionStats, error)
}

type queryHistoryRepository struct {
	db *database.DB
}

// NewQueryHistoryRepository creates a query history repository.
func NewQueryHistoryRepository(db *database.DB) QueryHistoryRepository {
	return &queryHistoryRepository{db: db}
}

var _ QueryHistoryRepository = (*queryHistoryRepository)(nil)

const historyColumns = `id, session_id, datasource_id, question, generated_sql, status,
	error_class, error_detail, attempts, row_count, duration_ms, template_version_id, created_at`

func (r *queryHistoryRepository) Insert(ctx context.Context, h *models.QueryHistory) error {
	h.CreatedAt = time.Now()
	err := r.db.QueryRow(ctx, `
		INSERT INTO dc_query_history
			(session_id, datasource_id, question, generated_sql, status, error_class, error_detail,
			 attempts, row_count, duration_ms, template_version_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id`,
		h.SessionID, h.DatasourceID, h.Question, h.GeneratedSQL, h.Status,
		h.ErrorClass, h.ErrorDetail, h.Attempts, h.RowCount, h.DurationMs,
		h.TemplateVersionID, h.CreatedAt,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("insert query history: %w", mapError(err))
	}
	return nil
}

func (r *queryHistoryRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.QueryHistory, int, error) {
	return r.list(ctx, "session_id", sessionID, limit, offset)
}

func (r *queryHistoryRepository) ListByDatasource(ctx context.Context, datasourceID uuid.UUID, limit, offset int) ([]*models.QueryHistory, int, error) {
	return r.list(ctx, "datasource_id", datasourceID, limit, offset)
}

func (r *queryHistoryRepository) list(ctx context.Context, column string, id uuid.UUID, limit, offset int) ([]*models.QueryHistory, int, error) {
	var total int
	err := r.db.QueryRow(ctx,
		"SELECT COUNT(*) FROM dc_query_history WHERE "+column+" = $1", id,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count query history: %w", err)
	}

	rows, err := r.db.Query(ctx,
		"SELECT "+historyColumns+" FROM dc_query_history WHERE "+column+` = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`,
		id, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list query history: %w", err)
	}
	defer rows.Close()

	var entries []*models.QueryHistory
	for rows.Next() {
		var h models.QueryHistory
		if err := rows.Scan(
			&h.ID,
			&h.SessionID,
			&h.DatasourceID,
			&h.Question,
			&h.GeneratedSQL,
			&h.Status,
			&h.ErrorClass,
			&h.ErrorDetail,
			&h.Attempts,
			&h.RowCount,
			&h.DurationMs,
			&h.TemplateVersionID,
			&h.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan query history: %w", err)
		}
		entries = append(entries, &h)
	}
	return entries, total, rows.Err()
}

func (r *queryHistoryRepository) StatsByTemplateVersion(ctx context.Context, templateID uuid.UUID, since time.Time) ([]*VersionStats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT h.template_version_id,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE h.status = $3),
		       COUNT(*) FILTER (WHERE h.status = $4),
		       COALESCE(AVG(h.duration_ms), 0)
		FROM dc_query_history h
		JOIN dc_prompt_template_versions v ON v.id = h.template_version_id
		WHERE v.template_id = $1 AND h.created_at >= $2
		GROUP BY h.template_version_id`,
		templateID, since, models.QueryStatusSucceeded, models.QueryStatusRecovered)
	if err != nil {
		return nil, fmt.Errorf("template version stats: %w", err)
	}
	defer rows.Close()

	var stats []*VersionStats
	for rows.Next() {
		var s VersionStats
		if err := rows.Scan(&s.TemplateVersionID, &s.Queries, &s.Succeeded, &s.Recovered, &s.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan version stats: %w", err)
		}
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}
