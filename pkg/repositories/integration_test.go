//go:build integration

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datachat-io/datachat-engine/pkg/apperrors"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/testhelpers"
)

func createTestDatasource(t *testing.T, repo DatasourceRepository) *models.Datasource {
	t.Helper()
	ds := &models.Datasource{
		Name:           "it-" + uuid.NewString(),
		DatasourceType: models.DatasourceTypePostgres,
	}
	require.NoError(t, repo.Create(context.Background(), ds, "encrypted-blob"))
	return ds
}

func TestDatasourceRepositoryRoundTrip(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewDatasourceRepository(engineDB.DB)
	ctx := context.Background()

	ds := createTestDatasource(t, repo)

	got, encrypted, err := repo.GetByID(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, ds.Name, got.Name)
	assert.Equal(t, "encrypted-blob", encrypted)
	assert.Equal(t, models.DatasourceStatusActive, got.Status)

	// Duplicate name is a conflict.
	dup := &models.Datasource{Name: ds.Name, DatasourceType: models.DatasourceTypePostgres}
	err = repo.Create(ctx, dup, "x")
	assert.ErrorIs(t, err, apperrors.ErrConflict)

	require.NoError(t, repo.Delete(ctx, ds.ID))
	_, _, err = repo.GetByID(ctx, ds.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTableRepositoryPreservesCurationAcrossSync(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	dsRepo := NewDatasourceRepository(engineDB.DB)
	tableRepo := NewTableRepository(engineDB.DB)
	ctx := context.Background()

	ds := createTestDatasource(t, dsRepo)

	table := &models.DataTable{
		DatasourceID: ds.ID,
		SchemaName:   "public",
		TableName:    "orders",
		SyncStatus:   models.SyncStatusSucceeded,
	}
	require.NoError(t, tableRepo.UpsertTable(ctx, table))

	// Curate table and field metadata.
	require.NoError(t, tableRepo.UpdateMeta(ctx, table.ID, "Orders", "Customer orders"))
	fields := []*models.TableField{
		{FieldName: "id", DataType: "bigint", IsPrimaryKey: true},
		{FieldName: "amount", DataType: "numeric"},
	}
	require.NoError(t, tableRepo.ReplaceFields(ctx, table.ID, fields))

	curated, err := tableRepo.GetByID(ctx, table.ID)
	require.NoError(t, err)
	require.Len(t, curated.Fields, 2)
	var amountID uuid.UUID
	for _, f := range curated.Fields {
		if f.FieldName == "amount" {
			amountID = f.ID
		}
	}
	require.NoError(t, tableRepo.UpdateField(ctx, amountID, "Order total in cents", true))

	// Re-sync: upsert the same table and replace its fields, as the sync
	// service does. Curated values must survive.
	resync := &models.DataTable{
		DatasourceID: ds.ID,
		SchemaName:   "public",
		TableName:    "orders",
		RowEstimate:  100,
		SyncStatus:   models.SyncStatusSucceeded,
	}
	require.NoError(t, tableRepo.UpsertTable(ctx, resync))
	assert.Equal(t, table.ID, resync.ID, "upsert must hit the same row")

	require.NoError(t, tableRepo.ReplaceFields(ctx, table.ID, []*models.TableField{
		{FieldName: "id", DataType: "bigint", IsPrimaryKey: true},
		{FieldName: "amount", DataType: "numeric"},
		{FieldName: "created_at", DataType: "timestamptz"},
	}))

	after, err := tableRepo.GetByID(ctx, table.ID)
	require.NoError(t, err)
	assert.Equal(t, "Orders", after.DisplayName)
	assert.Equal(t, "Customer orders", after.Description)
	assert.Equal(t, int64(100), after.RowEstimate)
	require.Len(t, after.Fields, 3)
	for _, f := range after.Fields {
		if f.FieldName == "amount" {
			assert.Equal(t, "Order total in cents", f.BusinessMeaning)
			assert.True(t, f.IsSensitive)
		}
	}
}

func TestTableRepositoryDeleteMissing(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	dsRepo := NewDatasourceRepository(engineDB.DB)
	tableRepo := NewTableRepository(engineDB.DB)
	ctx := context.Background()

	ds := createTestDatasource(t, dsRepo)

	for _, name := range []string{"orders", "customers", "legacy"} {
		tbl := &models.DataTable{DatasourceID: ds.ID, SchemaName: "public", TableName: name}
		require.NoError(t, tableRepo.UpsertTable(ctx, tbl))
	}

	require.NoError(t, tableRepo.DeleteMissing(ctx, ds.ID, []string{"public.orders", "public.customers"}))

	remaining, err := tableRepo.ListByDatasource(ctx, ds.ID)
	require.NoError(t, err)
	names := make([]string, 0, len(remaining))
	for _, tbl := range remaining {
		names = append(names, tbl.TableName)
	}
	assert.ElementsMatch(t, []string{"orders", "customers"}, names)
}

func TestPromptTemplateABLifecycle(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	repo := NewPromptTemplateRepository(engineDB.DB)
	ctx := context.Background()

	tmpl := &models.PromptTemplate{
		Name:    "it-gen-" + uuid.NewString(),
		Purpose: models.TemplatePurposeSQLGeneration,
	}
	require.NoError(t, repo.Create(ctx, tmpl))

	v1, err := repo.CreateVersion(ctx, tmpl.ID, "body v1 {{question}}")
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)
	assert.Equal(t, models.TemplateStatusDraft, v1.Status)

	v2, err := repo.CreateVersion(ctx, tmpl.ID, "body v2 {{question}}")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Version)

	// Starting an experiment without a primary is rejected.
	err = repo.StartABTest(ctx, tmpl.ID, v2.ID)
	require.Error(t, err)

	require.NoError(t, repo.ActivateVersion(ctx, v1.ID))
	require.NoError(t, repo.StartABTest(ctx, tmpl.ID, v2.ID))

	_, versions, err := repo.ActiveVersions(ctx, models.TemplatePurposeSQLGeneration)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].IsPrimary)

	// Activating a third version mid-experiment is rejected.
	v3, err := repo.CreateVersion(ctx, tmpl.ID, "body v3")
	require.NoError(t, err)
	assert.ErrorIs(t, repo.ActivateVersion(ctx, v3.ID), apperrors.ErrConflict)

	// Usage metrics fold in incrementally.
	require.NoError(t, repo.RecordUsage(ctx, v1.ID, true, 100))
	require.NoError(t, repo.RecordUsage(ctx, v1.ID, false, 300))
	stats, err := repo.GetVersion(ctx, v1.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.UseCount)
	assert.Equal(t, int64(1), stats.SuccessCount)
	assert.InDelta(t, 200, stats.AvgLatencyMs, 0.01)

	// Stop the experiment; the challenger wins.
	require.NoError(t, repo.StopABTest(ctx, tmpl.ID, v2.ID))

	got, err := repo.GetByID(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.False(t, got.ABTestEnabled)
	for _, v := range got.Versions {
		switch v.ID {
		case v2.ID:
			assert.Equal(t, models.TemplateStatusActive, v.Status)
			assert.True(t, v.IsPrimary)
		case v1.ID:
			assert.Equal(t, models.TemplateStatusArchived, v.Status)
		}
	}
}

func TestSessionTouchSetsTitleOnce(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	dsRepo := NewDatasourceRepository(engineDB.DB)
	sessionRepo := NewSessionRepository(engineDB.DB)
	ctx := context.Background()

	ds := createTestDatasource(t, dsRepo)

	session := &models.DialogueSession{DatasourceID: ds.ID, UserID: "user-1"}
	require.NoError(t, sessionRepo.Create(ctx, session))

	require.NoError(t, sessionRepo.Touch(ctx, session.ID, "first question"))
	require.NoError(t, sessionRepo.Touch(ctx, session.ID, "second question"))

	got, err := sessionRepo.GetByID(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "first question", got.Title)
	assert.Equal(t, 2, got.TurnCount)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt.Add(-time.Second)))
}

func TestQueryHistoryStatsByTemplateVersion(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	dsRepo := NewDatasourceRepository(engineDB.DB)
	sessionRepo := NewSessionRepository(engineDB.DB)
	templateRepo := NewPromptTemplateRepository(engineDB.DB)
	historyRepo := NewQueryHistoryRepository(engineDB.DB)
	ctx := context.Background()

	ds := createTestDatasource(t, dsRepo)
	session := &models.DialogueSession{DatasourceID: ds.ID}
	require.NoError(t, sessionRepo.Create(ctx, session))

	tmpl := &models.PromptTemplate{Name: "it-stats-" + uuid.NewString(), Purpose: models.TemplatePurposeSQLGeneration}
	require.NoError(t, templateRepo.Create(ctx, tmpl))
	version, err := templateRepo.CreateVersion(ctx, tmpl.ID, "body")
	require.NoError(t, err)

	outcomes := []struct {
		status   string
		duration int64
	}{
		{models.QueryStatusSucceeded, 100},
		{models.QueryStatusRecovered, 300},
		{models.QueryStatusFailed, 200},
	}
	for _, o := range outcomes {
		require.NoError(t, historyRepo.Insert(ctx, &models.QueryHistory{
			SessionID:         session.ID,
			DatasourceID:      ds.ID,
			Question:          "q",
			Status:            o.status,
			Attempts:          1,
			DurationMs:        o.duration,
			TemplateVersionID: &version.ID,
		}))
	}

	stats, err := historyRepo.StatsByTemplateVersion(ctx, tmpl.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, version.ID, stats[0].TemplateVersionID)
	assert.Equal(t, int64(3), stats[0].Queries)
	assert.Equal(t, int64(1), stats[0].Succeeded)
	assert.Equal(t, int64(1), stats[0].Recovered)
	assert.InDelta(t, 200, stats[0].AvgDurationMs, 0.01)
}
