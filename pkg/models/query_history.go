package models

import (
	"time"

	"github.com/google/uuid"
)

// Query outcome states.
const (
	QueryStatusSucceeded = "succeeded"
	QueryStatusFailed    = "failed"
	QueryStatusRecovered = "recovered" // failed at least once, then succeeded
)

// QueryHistory records one natural-language query through the pipeline:
// the question, the final SQL, how many generation attempts it took, and
// the error class when it ultimately failed.
type QueryHistory struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	DatasourceID uuid.UUID `json:"datasource_id"`
	Question     string    `json:"question"`
	GeneratedSQL string    `json:"generated_sql,omitempty"`
	Status       string    `json:"status"`
	ErrorClass   string    `json:"error_class,omitempty"`
	ErrorDetail  string    `json:"error_detail,omitempty"`
	Attempts     int       `json:"attempts"`
	RowCount     int       `json:"row_count"`
	DurationMs   int64     `json:"duration_ms"`
	// TemplateVersionID records which prompt version served this query,
	// for A/B metric attribution.
	TemplateVersionID *uuid.UUID `json:"template_version_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}
