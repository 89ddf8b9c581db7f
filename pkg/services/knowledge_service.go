package services

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// maxInjectedKnowledge bounds how many knowledge items one prompt carries.
const maxInjectedKnowledge = 8

// KnowledgeService selects curated business knowledge for prompt injection.
type KnowledgeService interface {
	// SelectRelevant returns the enabled knowledge items most relevant to
	// the question, active at the given time, best first.
	SelectRelevant(ctx context.Context, question string, now time.Time) ([]*models.KnowledgeItem, error)

	// RenderBlock formats items for the {{knowledge}} prompt slot.
	RenderBlock(items []*models.KnowledgeItem) string
}

type knowledgeService struct {
	repo   repositories.KnowledgeRepository
	logger *zap.Logger
}

// NewKnowledgeService creates a knowledge injection service.
func NewKnowledgeService(repo repositories.KnowledgeRepository, logger *zap.Logger) KnowledgeService {
	return &knowledgeService{
		repo:   repo,
		logger: logger.Named("knowledge_service"),
	}
}

var _ KnowledgeService = (*knowledgeService)(nil)

func (s *knowledgeService) SelectRelevant(ctx context.Context, question string, now time.Time) ([]*models.KnowledgeItem, error) {
	items, err := s.repo.ListEnabledItems(ctx)
	if err != nil {
		return nil, err
	}

	questionTokens := tokenize(question)

	type scored struct {
		item  *models.KnowledgeItem
		score float64
	}
	var candidates []scored
	for _, item := range items {
		if !item.ActiveAt(now) {
			continue
		}
		score := knowledgeScore(item, questionTokens)
		if score <= 0 {
			continue
		}
		candidates = append(candidates, scored{item, score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxInjectedKnowledge {
		candidates = candidates[:maxInjectedKnowledge]
	}

	selected := make([]*models.KnowledgeItem, len(candidates))
	for i, c := range candidates {
		selected[i] = c.item
	}
	return selected, nil
}

// knowledgeScore measures overlap between the question and the item's
// keywords and title. Explicit keywords weigh double.
func knowledgeScore(item *models.KnowledgeItem, questionTokens map[string]bool) float64 {
	var score float64
	for _, kw := range item.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if questionTokens[kw] {
			score += 2
			continue
		}
		// Multi-word keywords match token by token.
		for t := range tokenize(kw) {
			if questionTokens[t] {
				score++
				break
			}
		}
	}
	for t := range tokenize(item.Title) {
		if questionTokens[t] {
			score++
		}
	}
	return score
}

func (s *knowledgeService) RenderBlock(items []*models.KnowledgeItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item.Title)
		b.WriteString(": ")
		b.WriteString(item.Content)
		if item.Kind == models.KnowledgeKindTimeEvent && item.EffectiveFrom != nil && item.EffectiveUntil != nil {
			b.WriteString(" (effective ")
			b.WriteString(item.EffectiveFrom.Format("2006-01-02"))
			b.WriteString(" to ")
			b.WriteString(item.EffectiveUntil.Format("2006-01-02"))
			b.WriteString(")")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// tokenize lowercases and splits on non-letter/digit runes, dropping
// short stopword-like tokens.
func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) < 2 {
			continue
		}
		tokens[tok] = true
	}
	return tokens
}
