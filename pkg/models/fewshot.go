package models

import (
	"time"

	"github.com/google/uuid"
)

// FewShotSample is a curated question→SQL pair. The chat pipeline picks the
// samples most similar to the incoming question and appends them to the
// generation prompt.
type FewShotSample struct {
	ID           uuid.UUID `json:"id"`
	DatasourceID uuid.UUID `json:"datasource_id"`
	Question     string    `json:"question"`
	SQL          string    `json:"sql"`
	TablesUsed   []string  `json:"tables_used,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
