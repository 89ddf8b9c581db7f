package models

import (
	"time"

	"github.com/google/uuid"
)

// Knowledge item kinds.
const (
	KnowledgeKindBusinessTerm  = "business_term"
	KnowledgeKindBusinessLogic = "business_logic"
	KnowledgeKindTimeEvent     = "time_event"
)

// KnowledgeBase groups user-curated business knowledge for injection into
// LLM prompts.
type KnowledgeBase struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Items []*KnowledgeItem `json:"items,omitempty"`
}

// KnowledgeItem is a single piece of curated knowledge: a business term
// definition, a reusable calculation rule, or a time-bound event (promotion,
// fiscal period) that only applies inside its effective range.
type KnowledgeItem struct {
	ID              uuid.UUID  `json:"id"`
	KnowledgeBaseID uuid.UUID  `json:"knowledge_base_id"`
	Kind            string     `json:"kind"`
	Title           string     `json:"title"`
	Content         string     `json:"content"`
	Keywords        []string   `json:"keywords,omitempty"`
	EffectiveFrom   *time.Time `json:"effective_from,omitempty"`
	EffectiveUntil  *time.Time `json:"effective_until,omitempty"`
	Enabled         bool       `json:"enabled"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ValidKnowledgeKind reports whether k is a known item kind.
func ValidKnowledgeKind(k string) bool {
	switch k {
	case KnowledgeKindBusinessTerm, KnowledgeKindBusinessLogic, KnowledgeKindTimeEvent:
		return true
	}
	return false
}

// ActiveAt reports whether the item may be injected at the given time.
// Non-time-event items are always active while enabled; time events must
// also fall inside their effective range.
func (k *KnowledgeItem) ActiveAt(now time.Time) bool {
	if !k.Enabled {
		return false
	}
	if k.Kind != KnowledgeKindTimeEvent {
		return true
	}
	if k.EffectiveFrom != nil && now.Before(*k.EffectiveFrom) {
		return false
	}
	if k.EffectiveUntil != nil && now.After(*k.EffectiveUntil) {
		return false
	}
	return true
}
