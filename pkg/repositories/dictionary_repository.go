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

// DictionaryRepository defines data access for code→label vocabularies.
type DictionaryRepository interface {
	Create(ctx context.Context, d *models.Dictionary) error

	// GetByID retrieves a dictionary with its items in sort order.
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dictionary, error)

	List(ctx context.Context, limit, offset int) ([]*models.Dictionary, int, error)

	Update(ctx context.Context, id uuid.UUID, name, description string, fieldID *uuid.UUID) error

	Delete(ctx context.Context, id uuid.UUID) error

	// ReplaceItems swaps the item set of a dictionary.
	ReplaceItems(ctx context.Context, dictionaryID uuid.UUID, items []*models.DictionaryItem) error

	// ListByFieldIDs retrieves dictionaries (with items) bound to any of
	// the given table fields. Feeds prompt construction.
	ListByFieldIDs(ctx context.Context, fieldIDs []uuid.UUID) ([]*models.Dictionary, error)
}

type dictionaryRepository struct {
	db *database.DB
}

// NewDictionaryRepository creates a dictionary repository.
func NewDictionaryRepository(db *database.DB) DictionaryRepository {
	return &dictionaryRepository{db: db}
}

var _ DictionaryRepository = (*dictionaryRepository)(nil)

func (r *dictionaryRepository) Create(ctx context.Context, d *models.Dictionary) error {
	now := time.Now()
	err := r.db.QueryRow(ctx, `
		INSERT INTO dc_dictionaries (name, code, description, field_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING id`,
		d.Name, d.Code, d.Description, d.FieldID, now,
	).Scan(&d.ID)
	if err != nil {
		return fmt.Errorf("create dictionary: %w", mapError(err))
	}
	d.CreatedAt = now
	d.UpdatedAt = now
	return nil
}

func (r *dictionaryRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Dictionary, error) {
	var d models.Dictionary
	err := r.db.QueryRow(ctx, `
		SELECT id, name, code, description, field_id, created_at, updated_at
		FROM dc_dictionaries WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.Code, &d.Description, &d.FieldID, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get dictionary: %w", mapError(err))
	}

	items, err := r.listItems(ctx, []uuid.UUID{d.ID})
	if err != nil {
		return nil, err
	}
	d.Items = items[d.ID]
	return &d, nil
}

func (r *dictionaryRepository) List(ctx context.Context, limit, offset int) ([]*models.Dictionary, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM dc_dictionaries").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count dictionaries: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, name, code, description, field_id, created_at, updated_at
		FROM dc_dictionaries
		ORDER BY name
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list dictionaries: %w", err)
	}
	defer rows.Close()

	var dicts []*models.Dictionary
	for rows.Next() {
		var d models.Dictionary
		if err := rows.Scan(&d.ID, &d.Name, &d.Code, &d.Description, &d.FieldID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan dictionary: %w", err)
		}
		dicts = append(dicts, &d)
	}
	return dicts, total, rows.Err()
}

func (r *dictionaryRepository) Update(ctx context.Context, id uuid.UUID, name, description string, fieldID *uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE dc_dictionaries SET name = $2, description = $3, field_id = $4, updated_at = $5 WHERE id = $1",
		id, name, description, fieldID, time.Now())
	if err != nil {
		return fmt.Errorf("update dictionary: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dictionaryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM dc_dictionaries WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete dictionary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *dictionaryRepository) ReplaceItems(ctx context.Context, dictionaryID uuid.UUID, items []*models.DictionaryItem) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DELETE FROM dc_dictionary_items WHERE dictionary_id = $1", dictionaryID); err != nil {
		return fmt.Errorf("clear dictionary items: %w", err)
	}

	now := time.Now()
	for _, item := range items {
		err := tx.QueryRow(ctx, `
			INSERT INTO dc_dictionary_items (dictionary_id, value, label, sort_order, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $5)
			RETURNING id`,
			dictionaryID, item.Value, item.Label, item.SortOrder, now,
		).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("insert dictionary item: %w", mapError(err))
		}
		item.DictionaryID = dictionaryID
		item.CreatedAt = now
		item.UpdatedAt = now
	}

	return tx.Commit(ctx)
}

func (r *dictionaryRepository) ListByFieldIDs(ctx context.Context, fieldIDs []uuid.UUID) ([]*models.Dictionary, error) {
	if len(fieldIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, name, code, description, field_id, created_at, updated_at
		FROM dc_dictionaries
		WHERE field_id = ANY($1)
		ORDER BY name`, fieldIDs)
	if err != nil {
		return nil, fmt.Errorf("list dictionaries by field: %w", err)
	}
	defer rows.Close()

	var dicts []*models.Dictionary
	var ids []uuid.UUID
	for rows.Next() {
		var d models.Dictionary
		if err := rows.Scan(&d.ID, &d.Name, &d.Code, &d.Description, &d.FieldID, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dictionary: %w", err)
		}
		dicts = append(dicts, &d)
		ids = append(ids, d.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(dicts) == 0 {
		return nil, nil
	}

	items, err := r.listItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, d := range dicts {
		d.Items = items[d.ID]
	}
	return dicts, nil
}

func (r *dictionaryRepository) listItems(ctx context.Context, dictionaryIDs []uuid.UUID) (map[uuid.UUID][]*models.DictionaryItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, dictionary_id, value, label, sort_order, created_at, updated_at
		FROM dc_dictionary_items
		WHERE dictionary_id = ANY($1)
		ORDER BY dictionary_id, sort_order`, dictionaryIDs)
	if err != nil {
		return nil, fmt.Errorf("list dictionary items: %w", err)
	}
	defer rows.Close()

	byDict := make(map[uuid.UUID][]*models.DictionaryItem)
	for rows.Next() {
		var item models.DictionaryItem
		if err := rows.Scan(&item.ID, &item.DictionaryID, &item.Value, &item.Label, &item.SortOrder, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dictionary item: %w", err)
		}
		byDict[item.DictionaryID] = append(byDict[item.DictionaryID], &item)
	}
	return byDict, rows.Err()
}
