package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// DictionaryService resolves code→label vocabularies for prompt injection.
type DictionaryService interface {
	// ForFields returns dictionaries bound to any of the given table
	// fields, items included.
	ForFields(ctx context.Context, fieldIDs []uuid.UUID) ([]*models.Dictionary, error)

	// RenderBlock formats dictionaries as prompt context so generated SQL
	// filters on stored codes while the user speaks in labels.
	RenderBlock(dicts []*models.Dictionary) string
}

type dictionaryService struct {
	repo   repositories.DictionaryRepository
	logger *zap.Logger
}

// NewDictionaryService creates a dictionary service.
func NewDictionaryService(repo repositories.DictionaryRepository, logger *zap.Logger) DictionaryService {
	return &dictionaryService{
		repo:   repo,
		logger: logger.Named("dictionary_service"),
	}
}

var _ DictionaryService = (*dictionaryService)(nil)

func (s *dictionaryService) ForFields(ctx context.Context, fieldIDs []uuid.UUID) ([]*models.Dictionary, error) {
	return s.repo.ListByFieldIDs(ctx, fieldIDs)
}

func (s *dictionaryService) RenderBlock(dicts []*models.Dictionary) string {
	if len(dicts) == 0 {
		return ""
	}
	var b strings.Builder
	for _, d := range dicts {
		b.WriteString(d.Name)
		b.WriteString(" (stored value = label):")
		for _, item := range d.Items {
			b.WriteString(" ")
			b.WriteString(item.Value)
			b.WriteString("=")
			b.WriteString(item.Label)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
