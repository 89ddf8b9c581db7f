package models

import (
	"time"

	"github.com/google/uuid"
)

// Dictionary is a code→label vocabulary bound to a table field, e.g. an
// order_status column whose raw values are numeric codes. Dictionary items
// are injected into prompts so generated SQL filters on raw codes while the
// user speaks in labels.
type Dictionary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Description string    `json:"description,omitempty"`
	// FieldID optionally binds the dictionary to a cached table field.
	FieldID   *uuid.UUID `json:"field_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`

	Items []*DictionaryItem `json:"items,omitempty"`
}

// DictionaryItem maps a stored value to its business label.
type DictionaryItem struct {
	ID           uuid.UUID `json:"id"`
	DictionaryID uuid.UUID `json:"dictionary_id"`
	Value        string    `json:"value"`
	Label        string    `json:"label"`
	SortOrder    int       `json:"sort_order"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
