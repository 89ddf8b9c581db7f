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

// KnowledgeRepository defines data access for knowledge bases and items.
type KnowledgeRepository interface {
	CreateBase(ctx context.Context, kb *models.KnowledgeBase) error
	GetBase(ctx context.Context, id uuid.UUID) (*models.KnowledgeBase, error)
	ListBases(ctx context.Context, limit, offset int) ([]*models.KnowledgeBase, int, error)
	UpdateBase(ctx context.Context, id uuid.UUID, name, description string, enabled bool) error
	DeleteBase(ctx context.Context, id uuid.UUID) error

	CreateItem(ctx context.Context, item *models.KnowledgeItem) error
	UpdateItem(ctx context.Context, item *models.KnowledgeItem) error
	DeleteItem(ctx context.Context, id uuid.UUID) error
	ListItems(ctx context.Context, baseID uuid.UUID) ([]*models.KnowledgeItem, error)

	// ListEnabledItems retrieves every item of every enabled base.
	// Time-window filtering happens in the injection service, which knows
	// the query time.
	ListEnabledItems(ctx context.Context) ([]*models.KnowledgeItem, error)
}

type knowledgeRepository struct {
	db *database.DB
}

// NewKnowledgeRepository creates a knowledge repository.
func NewKnowledgeRepository(db *database.DB) KnowledgeRepository {
	return &knowledgeRepository{db: db}
}

var _ KnowledgeRepository = (*knowledgeRepository)(nil)

func (r *knowledgeRepository) CreateBase(ctx context.Context, kb *models.KnowledgeBase) error {
	now := time.Now()
	err := r.db.QueryRow(ctx, `
		INSERT INTO dc_knowledge_bases (name, description, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING id`,
		kb.Name, kb.Description, kb.Enabled, now,
	).Scan(&kb.ID)
	if err != nil {
		return fmt.Errorf("create knowledge base: %w", mapError(err))
	}
	kb.CreatedAt = now
	kb.UpdatedAt = now
	return nil
}

func (r *knowledgeRepository) GetBase(ctx context.Context, id uuid.UUID) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	err := r.db.QueryRow(ctx, `
		SELECT id, name, description, enabled, created_at, updated_at
		FROM dc_knowledge_bases WHERE id = $1`, id,
	).Scan(&kb.ID, &kb.Name, &kb.Description, &kb.Enabled, &kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get knowledge base: %w", mapError(err))
	}

	items, err := r.ListItems(ctx, kb.ID)
	if err != nil {
		return nil, err
	}
	kb.Items = items
	return &kb, nil
}

func (r *knowledgeRepository) ListBases(ctx context.Context, limit, offset int) ([]*models.KnowledgeBase, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM dc_knowledge_bases").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count knowledge bases: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, name, description, enabled, created_at, updated_at
		FROM dc_knowledge_bases
		ORDER BY name
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list knowledge bases: %w", err)
	}
	defer rows.Close()

	var bases []*models.KnowledgeBase
	for rows.Next() {
		var kb models.KnowledgeBase
		if err := rows.Scan(&kb.ID, &kb.Name, &kb.Description, &kb.Enabled, &kb.CreatedAt, &kb.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan knowledge base: %w", err)
		}
		bases = append(bases, &kb)
	}
	return bases, total, rows.Err()
}

func (r *knowledgeRepository) UpdateBase(ctx context.Context, id uuid.UUID, name, description string, enabled bool) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE dc_knowledge_bases SET name = $2, description = $3, enabled = $4, updated_at = $5 WHERE id = $1",
		id, name, description, enabled, time.Now())
	if err != nil {
		return fmt.Errorf("update knowledge base: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *knowledgeRepository) DeleteBase(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM dc_knowledge_bases WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete knowledge base: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

const knowledgeItemColumns = `id, knowledge_base_id, kind, title, content, keywords,
	effective_from, effective_until, enabled, created_at, updated_at`

func (r *knowledgeRepository) CreateItem(ctx context.Context, item *models.KnowledgeItem) error {
	if !models.ValidKnowledgeKind(item.Kind) {
		return fmt.Errorf("unknown knowledge kind %q: %w", item.Kind, apperrors.ErrValidation)
	}
	now := time.Now()
	err := r.db.QueryRow(ctx, `
		INSERT INTO dc_knowledge_items
			(knowledge_base_id, kind, title, content, keywords, effective_from, effective_until, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING id`,
		item.KnowledgeBaseID, item.Kind, item.Title, item.Content, item.Keywords,
		item.EffectiveFrom, item.EffectiveUntil, item.Enabled, now,
	).Scan(&item.ID)
	if err != nil {
		return fmt.Errorf("create knowledge item: %w", mapError(err))
	}
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

func (r *knowledgeRepository) UpdateItem(ctx context.Context, item *models.KnowledgeItem) error {
	if !models.ValidKnowledgeKind(item.Kind) {
		return fmt.Errorf("unknown knowledge kind %q: %w", item.Kind, apperrors.ErrValidation)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE dc_knowledge_items
		SET kind = $2, title = $3, content = $4, keywords = $5,
		    effective_from = $6, effective_until = $7, enabled = $8, updated_at = $9
		WHERE id = $1`,
		item.ID, item.Kind, item.Title, item.Content, item.Keywords,
		item.EffectiveFrom, item.EffectiveUntil, item.Enabled, time.Now())
	if err != nil {
		return fmt.Errorf("update knowledge item: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *knowledgeRepository) DeleteItem(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM dc_knowledge_items WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete knowledge item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *knowledgeRepository) ListItems(ctx context.Context, baseID uuid.UUID) ([]*models.KnowledgeItem, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+knowledgeItemColumns+" FROM dc_knowledge_items WHERE knowledge_base_id = $1 ORDER BY title",
		baseID)
	if err != nil {
		return nil, fmt.Errorf("list knowledge items: %w", err)
	}
	defer rows.Close()
	return scanKnowledgeItems(rows)
}

func (r *knowledgeRepository) ListEnabledItems(ctx context.Context) ([]*models.KnowledgeItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT i.id, i.knowledge_base_id, i.kind, i.title, i.content, i.keywords,
		       i.effective_from, i.effective_until, i.enabled, i.created_at, i.updated_at
		FROM dc_knowledge_items i
		JOIN dc_knowledge_bases b ON b.id = i.knowledge_base_id
		WHERE b.enabled AND i.enabled
		ORDER BY i.title`)
	if err != nil {
		return nil, fmt.Errorf("list enabled knowledge items: %w", err)
	}
	defer rows.Close()
	return scanKnowledgeItems(rows)
}

func scanKnowledgeItems(rows pgx.Rows) ([]*models.KnowledgeItem, error) {
	var items []*models.KnowledgeItem
	for rows.Next() {
		var item models.KnowledgeItem
		if err := rows.Scan(
			&item.ID,
			&item.KnowledgeBaseID,
			&item.Kind,
			&item.Title,
			&item.Content,
			&item.Keywords,
			&item.EffectiveFrom,
			&item.EffectiveUntil,
			&item.Enabled,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan knowledge item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}
