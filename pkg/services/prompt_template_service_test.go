package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/prompts"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

type fakeTemplateRepo struct {
	repositories.PromptTemplateRepository
	template *models.PromptTemplate
	versions []*models.PromptTemplateVersion
	usage    map[uuid.UUID]int
}

func (f *fakeTemplateRepo) ActiveVersions(context.Context, string) (*models.PromptTemplate, []*models.PromptTemplateVersion, error) {
	return f.template, f.versions, nil
}

func (f *fakeTemplateRepo) RecordUsage(_ context.Context, versionID uuid.UUID, _ bool, _ int64) error {
	if f.usage == nil {
		f.usage = make(map[uuid.UUID]int)
	}
	f.usage[versionID]++
	return nil
}

func TestResolveFallsBackToBuiltin(t *testing.T) {
	svc := NewPromptTemplateService(&fakeTemplateRepo{}, zap.NewNop())

	body, versionID, err := svc.Resolve(context.Background(), models.TemplatePurposeSQLGeneration, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, prompts.DefaultSQLGenerationTemplate, body)
	assert.Nil(t, versionID)
}

func TestResolveReturnsPrimaryOutsideExperiment(t *testing.T) {
	primary := &models.PromptTemplateVersion{ID: uuid.New(), Body: "custom body", IsPrimary: true}
	repo := &fakeTemplateRepo{
		template: &models.PromptTemplate{ID: uuid.New()},
		versions: []*models.PromptTemplateVersion{primary},
	}
	svc := NewPromptTemplateService(repo, zap.NewNop())

	body, versionID, err := svc.Resolve(context.Background(), models.TemplatePurposeSQLGeneration, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "custom body", body)
	require.NotNil(t, versionID)
	assert.Equal(t, primary.ID, *versionID)
}

func TestResolveABSplitIsDeterministicPerSession(t *testing.T) {
	a := &models.PromptTemplateVersion{ID: uuid.New(), Body: "variant a", IsPrimary: true}
	b := &models.PromptTemplateVersion{ID: uuid.New(), Body: "variant b"}
	repo := &fakeTemplateRepo{
		template: &models.PromptTemplate{ID: uuid.New(), ABTestEnabled: true},
		versions: []*models.PromptTemplateVersion{a, b},
	}
	svc := NewPromptTemplateService(repo, zap.NewNop())

	session := uuid.New()
	first, firstID, err := svc.Resolve(context.Background(), models.TemplatePurposeSQLGeneration, session)
	require.NoError(t, err)

	// Same session always lands on the same arm.
	for i := 0; i < 10; i++ {
		body, id, err := svc.Resolve(context.Background(), models.TemplatePurposeSQLGeneration, session)
		require.NoError(t, err)
		assert.Equal(t, first, body)
		assert.Equal(t, *firstID, *id)
	}

	// Across many sessions both arms serve traffic.
	seen := map[string]bool{}
	for i := 0; i < 64; i++ {
		body, _, err := svc.Resolve(context.Background(), models.TemplatePurposeSQLGeneration, uuid.New())
		require.NoError(t, err)
		seen[body] = true
	}
	assert.True(t, seen["variant a"], "arm a never served")
	assert.True(t, seen["variant b"], "arm b never served")
}

func TestRecordOutcomeSkipsBuiltin(t *testing.T) {
	repo := &fakeTemplateRepo{}
	svc := NewPromptTemplateService(repo, zap.NewNop())

	svc.RecordOutcome(context.Background(), nil, true, time.Second)
	assert.Empty(t, repo.usage)

	id := uuid.New()
	svc.RecordOutcome(context.Background(), &id, true, time.Second)
	assert.Equal(t, 1, repo.usage[id])
}
