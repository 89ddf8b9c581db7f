package models

import (
	"time"

	"github.com/google/uuid"
)

// Prompt template version lifecycle states.
const (
	TemplateStatusDraft    = "draft"
	TemplateStatusActive   = "active"
	TemplateStatusArchived = "archived"
)

// Template purposes recognized by the chat pipeline.
const (
	TemplatePurposeSQLGeneration = "sql_generation"
	TemplatePurposeSQLFix        = "sql_fix"
	TemplatePurposeAnalysis      = "analysis"
)

// PromptTemplate is a named, versioned prompt text. The pipeline renders
// the primary active version, or splits traffic between two active versions
// during an A/B experiment.
type PromptTemplate struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Purpose     string    `json:"purpose"`
	Description string    `json:"description,omitempty"`
	// ABTestEnabled is true while an experiment is running. Exactly two
	// active versions must exist for the duration.
	ABTestEnabled bool      `json:"ab_test_enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Versions []*PromptTemplateVersion `json:"versions,omitempty"`
}

// PromptTemplateVersion is one immutable body of a template plus its usage
// metrics. Bodies use {{name}} placeholders substituted with the pipeline's
// context variables ({{question}}, {{schema}}, {{knowledge}}, ...).
type PromptTemplateVersion struct {
	ID         uuid.UUID `json:"id"`
	TemplateID uuid.UUID `json:"template_id"`
	Version    int       `json:"version"`
	Body       string    `json:"body"`
	Status     string    `json:"status"`
	IsPrimary  bool      `json:"is_primary"`

	// Usage metrics, updated after every rendered query.
	UseCount     int64   `json:"use_count"`
	SuccessCount int64   `json:"success_count"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessRate returns successes/uses, or 0 when unused.
func (v *PromptTemplateVersion) SuccessRate() float64 {
	if v.UseCount == 0 {
		return 0
	}
	return float64(v.SuccessCount) / float64(v.UseCount)
}
