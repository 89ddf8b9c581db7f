package services

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/prompts"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// PromptTemplateService resolves which template body the pipeline renders
// and attributes outcomes back to it.
type PromptTemplateService interface {
	// Resolve returns the template body for a purpose and the version id
	// that served it, or the built-in default with a nil id when no
	// custom template is active.
	//
	// During an A/B experiment the session id picks a deterministic side
	// of a 50/50 split, so one conversation always sees the same prompt.
	Resolve(ctx context.Context, purpose string, sessionID uuid.UUID) (string, *uuid.UUID, error)

	// RecordOutcome folds one query outcome into the serving version's
	// metrics. No-op when the built-in default served.
	RecordOutcome(ctx context.Context, versionID *uuid.UUID, success bool, latency time.Duration)
}

type promptTemplateService struct {
	repo   repositories.PromptTemplateRepository
	logger *zap.Logger
}

// NewPromptTemplateService creates a prompt template service.
func NewPromptTemplateService(repo repositories.PromptTemplateRepository, logger *zap.Logger) PromptTemplateService {
	return &promptTemplateService{
		repo:   repo,
		logger: logger.Named("prompt_template_service"),
	}
}

var _ PromptTemplateService = (*promptTemplateService)(nil)

// defaultTemplates are the built-in bodies used when no custom template is
// active for a purpose.
var defaultTemplates = map[string]string{
	models.TemplatePurposeSQLGeneration: prompts.DefaultSQLGenerationTemplate,
	models.TemplatePurposeSQLFix:        prompts.DefaultSQLFixTemplate,
	models.TemplatePurposeAnalysis:      prompts.DefaultAnalysisTemplate,
}

func (s *promptTemplateService) Resolve(ctx context.Context, purpose string, sessionID uuid.UUID) (string, *uuid.UUID, error) {
	tmpl, versions, err := s.repo.ActiveVersions(ctx, purpose)
	if err != nil {
		return "", nil, err
	}
	if tmpl == nil || len(versions) == 0 {
		return defaultTemplates[purpose], nil, nil
	}

	chosen := versions[0]
	if tmpl.ABTestEnabled && len(versions) >= 2 {
		chosen = versions[splitIndex(sessionID, len(versions))]
	}
	id := chosen.ID
	return chosen.Body, &id, nil
}

// splitIndex maps a session to a stable experiment arm.
func splitIndex(sessionID uuid.UUID, arms int) int {
	h := fnv.New32a()
	h.Write(sessionID[:]) //nolint:errcheck
	return int(h.Sum32() % uint32(arms))
}

func (s *promptTemplateService) RecordOutcome(ctx context.Context, versionID *uuid.UUID, success bool, latency time.Duration) {
	if versionID == nil {
		return
	}
	if err := s.repo.RecordUsage(ctx, *versionID, success, latency.Milliseconds()); err != nil {
		s.logger.Warn("failed to record template usage",
			zap.String("version_id", versionID.String()),
			zap.Error(err))
	}
}
