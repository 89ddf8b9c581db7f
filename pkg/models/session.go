package models

import (
	"time"

	"github.com/google/uuid"
)

// DialogueSession is the persistent record of a chat session. The turn
// contents themselves live in the in-memory context manager; this row exists
// so sessions survive in listings and query history joins.
type DialogueSession struct {
	ID           uuid.UUID `json:"id"`
	DatasourceID uuid.UUID `json:"datasource_id"`
	UserID       string    `json:"user_id,omitempty"`
	Title        string    `json:"title,omitempty"`
	TurnCount    int       `json:"turn_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
