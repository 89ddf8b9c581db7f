package services

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/prompts"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// maxInjectedFewShots bounds how many samples one prompt carries.
const maxInjectedFewShots = 3

// FewShotService picks curated question→SQL samples for prompt injection.
type FewShotService interface {
	// SelectRelevant returns the enabled samples most similar to the
	// question, best first.
	SelectRelevant(ctx context.Context, datasourceID uuid.UUID, question string) ([]*models.FewShotSample, error)

	// RenderBlock formats samples for the {{few_shots}} prompt slot.
	RenderBlock(samples []*models.FewShotSample) string
}

type fewShotService struct {
	repo   repositories.FewShotRepository
	logger *zap.Logger
}

// NewFewShotService creates a few-shot selection service.
func NewFewShotService(repo repositories.FewShotRepository, logger *zap.Logger) FewShotService {
	return &fewShotService{
		repo:   repo,
		logger: logger.Named("fewshot_service"),
	}
}

var _ FewShotService = (*fewShotService)(nil)

func (s *fewShotService) SelectRelevant(ctx context.Context, datasourceID uuid.UUID, question string) ([]*models.FewShotSample, error) {
	samples, err := s.repo.ListEnabledByDatasource(ctx, datasourceID)
	if err != nil {
		return nil, err
	}

	questionTokens := tokenize(question)

	type scored struct {
		sample *models.FewShotSample
		score  float64
	}
	var candidates []scored
	for _, sample := range samples {
		score := overlapScore(questionTokens, tokenize(sample.Question))
		for _, tag := range sample.Tags {
			if questionTokens[tag] {
				score += 0.5
			}
		}
		if score <= 0 {
			continue
		}
		candidates = append(candidates, scored{sample, score})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > maxInjectedFewShots {
		candidates = candidates[:maxInjectedFewShots]
	}

	selected := make([]*models.FewShotSample, len(candidates))
	for i, c := range candidates {
		selected[i] = c.sample
	}
	return selected, nil
}

// overlapScore is the Jaccard-like overlap of two token sets, weighted
// toward covering the question.
func overlapScore(question, sample map[string]bool) float64 {
	if len(question) == 0 || len(sample) == 0 {
		return 0
	}
	var shared int
	for t := range question {
		if sample[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(question))
}

func (s *fewShotService) RenderBlock(samples []*models.FewShotSample) string {
	pairs := make([]prompts.FewShotPair, len(samples))
	for i, sample := range samples {
		pairs[i] = prompts.FewShotPair{Question: sample.Question, SQL: sample.SQL}
	}
	return prompts.FormatFewShots(pairs)
}
