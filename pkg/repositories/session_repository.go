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

// SessionRepository defines data access for persistent dialogue sessions.
type SessionRepository interface {
	Create(ctx context.Context, s *models.DialogueSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.DialogueSession, error)
	List(ctx context.Context, limit, offset int) ([]*models.DialogueSession, int, error)

	// Touch bumps the turn counter and updated_at after a completed turn,
	// setting the title on the first one.
	Touch(ctx context.Context, id uuid.UUID, title string) error

	Delete(ctx context.Context, id uuid.UUID) error
}

type sessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a dialogue session repository.
func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepository{db: db}
}

var _ SessionRepository = (*sessionRepository)(nil)

func (r *sessionRepository) Create(ctx context.Context, s *models.DialogueSession) error {
	now := time.Now()
	err := r.db.QueryRow(ctx, `
		INSERT INTO dc_dialogue_sessions (datasource_id, user_id, title, turn_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)
		RETURNING id`,
		s.DatasourceID, s.UserID, s.Title, now,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("create session: %w", mapError(err))
	}
	s.TurnCount = 0
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

func (r *sessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DialogueSession, error) {
	var s models.DialogueSession
	err := r.db.QueryRow(ctx, `
		SELECT id, datasource_id, user_id, title, turn_count, created_at, updated_at
		FROM dc_dialogue_sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.DatasourceID, &s.UserID, &s.Title, &s.TurnCount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", mapError(err))
	}
	return &s, nil
}

func (r *sessionRepository) List(ctx context.Context, limit, offset int) ([]*models.DialogueSession, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM dc_dialogue_sessions").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, datasource_id, user_id, title, turn_count, created_at, updated_at
		FROM dc_dialogue_sessions
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.DialogueSession
	for rows.Next() {
		var s models.DialogueSession
		if err := rows.Scan(&s.ID, &s.DatasourceID, &s.UserID, &s.Title, &s.TurnCount, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, total, rows.Err()
}

func (r *sessionRepository) Touch(ctx context.Context, id uuid.UUID, title string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE dc_dialogue_sessions
		SET turn_count = turn_count + 1,
		    title      = CASE WHEN title = '' THEN $2 ELSE title END,
		    updated_at = $3
		WHERE id = $1`,
		id, title, time.Now())
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM dc_dialogue_sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}
