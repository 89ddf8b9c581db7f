package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datachat-io/datachat-engine/pkg/apperrors"
	"github.com/datachat-io/datachat-engine/pkg/database"
	"github.com/datachat-io/datachat-engine/pkg/models"
)

// PromptTemplateRepository defines data access for versioned prompt
// templates, their lifecycle, and A/B experiment state.
type PromptTemplateRepository interface {
	Create(ctx context.Context, t *models.PromptTemplate) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.PromptTemplate, error)
	List(ctx context.Context, limit, offset int) ([]*models.PromptTemplate, int, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// CreateVersion inserts a new draft version, numbered one past the
	// template's highest existing version.
	CreateVersion(ctx context.Context, templateID uuid.UUID, body string) (*models.PromptTemplateVersion, error)

	GetVersion(ctx context.Context, versionID uuid.UUID) (*models.PromptTemplateVersion, error)

	// ActivateVersion promotes a version to active primary. Outside an
	// A/B experiment the previous primary is archived in the same
	// transaction.
	ActivateVersion(ctx context.Context, versionID uuid.UUID) error

	// ArchiveVersion retires a version. Archiving the primary of a
	// running experiment is rejected.
	ArchiveVersion(ctx context.Context, versionID uuid.UUID) error

	// StartABTest marks challengerID active alongside the current primary
	// and flags the template. Fails unless exactly one primary exists and
	// the challenger belongs to the same template.
	StartABTest(ctx context.Context, templateID, challengerID uuid.UUID) error

	// StopABTest ends the experiment, promoting winnerID to primary and
	// archiving the loser.
	StopABTest(ctx context.Context, templateID, winnerID uuid.UUID) error

	// ActiveVersions retrieves the active versions for a purpose: one
	// outside an experiment, two during one. Empty when no template of
	// that purpose has an active version.
	ActiveVersions(ctx context.Context, purpose string) (*models.PromptTemplate, []*models.PromptTemplateVersion, error)

	// RecordUsage folds one query outcome into a version's metrics using
	// an incremental average for latency.
	RecordUsage(ctx context.Context, versionID uuid.UUID, success bool, latencyMs int64) error
}

type promptTemplateRepository struct {
	db *database.DB
}

// NewPromptTemplateRepository creates a prompt template repository.
func NewPromptTemplateRepository(db *database.DB) PromptTemplateRepository {
	return &promptTemplateRepository{db: db}
}

var _ PromptTemplateRepository = (*promptTemplateRepository)(nil)

func (r *promptTemplateRepository) Create(ctx context.Context, t *models.PromptTemplate) error {
	now := time.Now()
	err := r.db.QueryRow(ctx, `
		INSERT INTO dc_prompt_templates (name, purpose, description, ab_test_enabled, created_at, updated_at)
		VALUES ($1, $2, $3, false, $4, $4)
		RETURNING id`,
		t.Name, t.Purpose, t.Description, now,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("create prompt template: %w", mapError(err))
	}
	t.ABTestEnabled = false
	t.CreatedAt = now
	t.UpdatedAt = now
	return nil
}

func (r *promptTemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PromptTemplate, error) {
	var t models.PromptTemplate
	err := r.db.QueryRow(ctx, `
		SELECT id, name, purpose, description, ab_test_enabled, created_at, updated_at
		FROM dc_prompt_templates WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Purpose, &t.Description, &t.ABTestEnabled, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get prompt template: %w", mapError(err))
	}

	rows, err := r.db.Query(ctx,
		"SELECT "+versionColumns+" FROM dc_prompt_template_versions WHERE template_id = $1 ORDER BY version DESC",
		t.ID)
	if err != nil {
		return nil, fmt.Errorf("list template versions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		t.Versions = append(t.Versions, v)
	}
	return &t, rows.Err()
}

func (r *promptTemplateRepository) List(ctx context.Context, limit, offset int) ([]*models.PromptTemplate, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM dc_prompt_templates").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count prompt templates: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, name, purpose, description, ab_test_enabled, created_at, updated_at
		FROM dc_prompt_templates
		ORDER BY name
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list prompt templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.PromptTemplate
	for rows.Next() {
		var t models.PromptTemplate
		if err := rows.Scan(&t.ID, &t.Name, &t.Purpose, &t.Description, &t.ABTestEnabled, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan prompt template: %w", err)
		}
		templates = append(templates, &t)
	}
	return templates, total, rows.Err()
}

func (r *promptTemplateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM dc_prompt_templates WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete prompt template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

const versionColumns = `id, template_id, version, body, status, is_primary,
	use_count, success_count, avg_latency_ms, created_at, updated_at`

func scanVersion(row pgx.Row) (*models.PromptTemplateVersion, error) {
	var v models.PromptTemplateVersion
	err := row.Scan(
		&v.ID,
		&v.TemplateID,
		&v.Version,
		&v.Body,
		&v.Status,
		&v.IsPrimary,
		&v.UseCount,
		&v.SuccessCount,
		&v.AvgLatencyMs,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan template version: %w", err)
	}
	return &v, nil
}

func (r *promptTemplateRepository) CreateVersion(ctx context.Context, templateID uuid.UUID, body string) (*models.PromptTemplateVersion, error) {
	now := time.Now()
	v := &models.PromptTemplateVersion{
		TemplateID: templateID,
		Body:       body,
		Status:     models.TemplateStatusDraft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO dc_prompt_template_versions
			(template_id, version, body, status, is_primary, use_count, success_count, avg_latency_ms, created_at, updated_at)
		VALUES ($1,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM dc_prompt_template_versions WHERE template_id = $1),
			$2, $3, false, 0, 0, 0, $4, $4)
		RETURNING id, version`,
		templateID, body, models.TemplateStatusDraft, now,
	).Scan(&v.ID, &v.Version)
	if err != nil {
		return nil, fmt.Errorf("create template version: %w", mapError(err))
	}
	return v, nil
}

func (r *promptTemplateRepository) GetVersion(ctx context.Context, versionID uuid.UUID) (*models.PromptTemplateVersion, error) {
	row := r.db.QueryRow(ctx,
		"SELECT "+versionColumns+" FROM dc_prompt_template_versions WHERE id = $1", versionID)
	v, err := scanVersion(row)
	if err != nil {
		return nil, mapError(err)
	}
	return v, nil
}

func (r *promptTemplateRepository) ActivateVersion(ctx context.Context, versionID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var templateID uuid.UUID
	var abEnabled bool
	err = tx.QueryRow(ctx, `
		SELECT v.template_id, t.ab_test_enabled
		FROM dc_prompt_template_versions v
		JOIN dc_prompt_templates t ON t.id = v.template_id
		WHERE v.id = $1`, versionID,
	).Scan(&templateID, &abEnabled)
	if err != nil {
		return fmt.Errorf("load version: %w", mapError(err))
	}
	if abEnabled {
		return fmt.Errorf("template has a running experiment: %w", apperrors.ErrConflict)
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE dc_prompt_template_versions
		SET status = $2, is_primary = false, updated_at = $3
		WHERE template_id = $1 AND status = $4`,
		templateID, models.TemplateStatusArchived, now, models.TemplateStatusActive)
	if err != nil {
		return fmt.Errorf("archive previous primary: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE dc_prompt_template_versions
		SET status = $2, is_primary = true, updated_at = $3
		WHERE id = $1`,
		versionID, models.TemplateStatusActive, now)
	if err != nil {
		return fmt.Errorf("activate version: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *promptTemplateRepository) ArchiveVersion(ctx context.Context, versionID uuid.UUID) error {
	var abEnabled, isPrimary bool
	err := r.db.QueryRow(ctx, `
		SELECT t.ab_test_enabled, v.is_primary
		FROM dc_prompt_template_versions v
		JOIN dc_prompt_templates t ON t.id = v.template_id
		WHERE v.id = $1`, versionID,
	).Scan(&abEnabled, &isPrimary)
	if err != nil {
		return fmt.Errorf("load version: %w", mapError(err))
	}
	if abEnabled && isPrimary {
		return fmt.Errorf("cannot archive the primary of a running experiment: %w", apperrors.ErrConflict)
	}

	_, err = r.db.Exec(ctx, `
		UPDATE dc_prompt_template_versions
		SET status = $2, is_primary = false, updated_at = $3
		WHERE id = $1`,
		versionID, models.TemplateStatusArchived, time.Now())
	if err != nil {
		return fmt.Errorf("archive version: %w", err)
	}
	return nil
}

func (r *promptTemplateRepository) StartABTest(ctx context.Context, templateID, challengerID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var abEnabled bool
	err = tx.QueryRow(ctx,
		"SELECT ab_test_enabled FROM dc_prompt_templates WHERE id = $1", templateID,
	).Scan(&abEnabled)
	if err != nil {
		return fmt.Errorf("load template: %w", mapError(err))
	}
	if abEnabled {
		return fmt.Errorf("experiment already running: %w", apperrors.ErrConflict)
	}

	var primaries int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM dc_prompt_template_versions
		WHERE template_id = $1 AND status = $2 AND is_primary`,
		templateID, models.TemplateStatusActive,
	).Scan(&primaries)
	if err != nil {
		return fmt.Errorf("count primaries: %w", err)
	}
	if primaries != 1 {
		return fmt.Errorf("template needs exactly one active primary: %w", apperrors.ErrValidation)
	}

	now := time.Now()
	tag, err := tx.Exec(ctx, `
		UPDATE dc_prompt_template_versions
		SET status = $3, is_primary = false, updated_at = $4
		WHERE id = $1 AND template_id = $2`,
		challengerID, templateID, models.TemplateStatusActive, now)
	if err != nil {
		return fmt.Errorf("activate challenger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("challenger not found on template: %w", apperrors.ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		"UPDATE dc_prompt_templates SET ab_test_enabled = true, updated_at = $2 WHERE id = $1",
		templateID, now)
	if err != nil {
		return fmt.Errorf("flag experiment: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *promptTemplateRepository) StopABTest(ctx context.Context, templateID, winnerID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var abEnabled bool
	err = tx.QueryRow(ctx,
		"SELECT ab_test_enabled FROM dc_prompt_templates WHERE id = $1", templateID,
	).Scan(&abEnabled)
	if err != nil {
		return fmt.Errorf("load template: %w", mapError(err))
	}
	if !abEnabled {
		return fmt.Errorf("no experiment running: %w", apperrors.ErrValidation)
	}

	now := time.Now()

	// Losers first, so the winner update below wins regardless of order.
	_, err = tx.Exec(ctx, `
		UPDATE dc_prompt_template_versions
		SET status = $3, is_primary = false, updated_at = $4
		WHERE template_id = $1 AND status = $2`,
		templateID, models.TemplateStatusActive, models.TemplateStatusArchived, now)
	if err != nil {
		return fmt.Errorf("archive experiment versions: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE dc_prompt_template_versions
		SET status = $3, is_primary = true, updated_at = $4
		WHERE id = $1 AND template_id = $2`,
		winnerID, templateID, models.TemplateStatusActive, now)
	if err != nil {
		return fmt.Errorf("promote winner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("winner not found on template: %w", apperrors.ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		"UPDATE dc_prompt_templates SET ab_test_enabled = false, updated_at = $2 WHERE id = $1",
		templateID, now)
	if err != nil {
		return fmt.Errorf("clear experiment flag: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *promptTemplateRepository) ActiveVersions(ctx context.Context, purpose string) (*models.PromptTemplate, []*models.PromptTemplateVersion, error) {
	var t models.PromptTemplate
	err := r.db.QueryRow(ctx, `
		SELECT t.id, t.name, t.purpose, t.description, t.ab_test_enabled, t.created_at, t.updated_at
		FROM dc_prompt_templates t
		WHERE t.purpose = $1
		  AND EXISTS (
			SELECT 1 FROM dc_prompt_template_versions v
			WHERE v.template_id = t.id AND v.status = $2
		  )
		ORDER BY t.updated_at DESC
		LIMIT 1`,
		purpose, models.TemplateStatusActive,
	).Scan(&t.ID, &t.Name, &t.Purpose, &t.Description, &t.ABTestEnabled, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("find active template: %w", err)
	}

	rows, err := r.db.Query(ctx,
		"SELECT "+versionColumns+` FROM dc_prompt_template_versions
		WHERE template_id = $1 AND status = $2
		ORDER BY is_primary DESC, version`,
		t.ID, models.TemplateStatusActive)
	if err != nil {
		return nil, nil, fmt.Errorf("list active versions: %w", err)
	}
	defer rows.Close()

	var versions []*models.PromptTemplateVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, nil, err
		}
		versions = append(versions, v)
	}
	return &t, versions, rows.Err()
}

func (r *promptTemplateRepository) RecordUsage(ctx context.Context, versionID uuid.UUID, success bool, latencyMs int64) error {
	succ := 0
	if success {
		succ = 1
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE dc_prompt_template_versions
		SET use_count      = use_count + 1,
		    success_count  = success_count + $2,
		    avg_latency_ms = avg_latency_ms + ($3 - avg_latency_ms) / (use_count + 1),
		    updated_at     = $4
		WHERE id = $1`,
		versionID, succ, float64(latencyMs), time.Now())
	if err != nil {
		return fmt.Errorf("record template usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
