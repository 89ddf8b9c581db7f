package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

type fakeFewShotRepo struct {
	repositories.FewShotRepository
	samples []*models.FewShotSample
}

func (f *fakeFewShotRepo) ListEnabledByDatasource(context.Context, uuid.UUID) ([]*models.FewShotSample, error) {
	return f.samples, nil
}

func sample(question, sqlText string) *models.FewShotSample {
	return &models.FewShotSample{ID: uuid.New(), Question: question, SQL: sqlText, Enabled: true}
}

func TestFewShotSelectRelevantRanksBySimilarity(t *testing.T) {
	best := sample("total revenue per month", "SELECT date_trunc('month', created_at), SUM(amount) FROM orders GROUP BY 1")
	repo := &fakeFewShotRepo{samples: []*models.FewShotSample{
		sample("list all users", "SELECT * FROM users"),
		best,
		sample("count of products", "SELECT COUNT(*) FROM products"),
	}}
	svc := NewFewShotService(repo, zap.NewNop())

	selected, err := svc.SelectRelevant(context.Background(), uuid.New(), "revenue per month in 2025")
	require.NoError(t, err)
	require.NotEmpty(t, selected)
	assert.Same(t, best, selected[0])
}

func TestFewShotSelectRelevantDropsUnrelated(t *testing.T) {
	repo := &fakeFewShotRepo{samples: []*models.FewShotSample{
		sample("list all users", "SELECT * FROM users"),
	}}
	svc := NewFewShotService(repo, zap.NewNop())

	selected, err := svc.SelectRelevant(context.Background(), uuid.New(), "inventory turnover")
	require.NoError(t, err)
	assert.Empty(t, selected)
}

func TestFewShotSelectRelevantCapsCount(t *testing.T) {
	repo := &fakeFewShotRepo{}
	for i := 0; i < maxInjectedFewShots+3; i++ {
		repo.samples = append(repo.samples, sample("revenue by region", "SELECT region, SUM(amount) FROM orders GROUP BY region"))
	}
	svc := NewFewShotService(repo, zap.NewNop())

	selected, err := svc.SelectRelevant(context.Background(), uuid.New(), "revenue by region")
	require.NoError(t, err)
	assert.Len(t, selected, maxInjectedFewShots)
}

func TestFewShotRenderBlock(t *testing.T) {
	svc := NewFewShotService(&fakeFewShotRepo{}, zap.NewNop())

	assert.Empty(t, svc.RenderBlock(nil))

	block := svc.RenderBlock([]*models.FewShotSample{
		sample("count users", "SELECT COUNT(*) FROM users"),
	})
	assert.Contains(t, block, "Example 1:")
	assert.Contains(t, block, "Q: count users")
	assert.Contains(t, block, "SQL: SELECT COUNT(*) FROM users")
}
