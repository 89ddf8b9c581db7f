package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/adapters/datasource"
	"github.com/datachat-io/datachat-engine/pkg/apperrors"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// syncTableRepo is an in-memory TableRepository covering what the sync
// path touches.
type syncTableRepo struct {
	repositories.TableRepository

	mu        sync.Mutex
	tables    map[string]*models.DataTable
	fields    map[uuid.UUID][]*models.TableField
	relations []*models.TableRelation
	statuses  []string
}

func newSyncTableRepo() *syncTableRepo {
	return &syncTableRepo{
		tables: make(map[string]*models.DataTable),
		fields: make(map[uuid.UUID][]*models.TableField),
	}
}

func (r *syncTableRepo) UpsertTable(_ context.Context, t *models.DataTable) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := t.SchemaName + "." + t.TableName
	if existing, ok := r.tables[key]; ok {
		t.ID = existing.ID
	} else if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	r.tables[key] = t
	return nil
}

func (r *syncTableRepo) ReplaceFields(_ context.Context, tableID uuid.UUID, fields []*models.TableField) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[tableID] = fields
	return nil
}

func (r *syncTableRepo) SetSyncStatus(_ context.Context, _ uuid.UUID, status, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
	return nil
}

func (r *syncTableRepo) DeleteMissing(_ context.Context, _ uuid.UUID, keep []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keepSet := make(map[string]bool, len(keep))
	for _, k := range keep {
		keepSet[k] = true
	}
	var removed int64
	for key := range r.tables {
		if !keepSet[key] {
			delete(r.tables, key)
			removed++
		}
	}
	return removed, nil
}

func (r *syncTableRepo) ListRelations(context.Context, uuid.UUID) ([]*models.TableRelation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.TableRelation(nil), r.relations...), nil
}

func (r *syncTableRepo) DeleteRelation(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, rel := range r.relations {
		if rel.ID == id {
			r.relations = append(r.relations[:i], r.relations[i+1:]...)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (r *syncTableRepo) CreateRelation(_ context.Context, rel *models.TableRelation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel.ID = uuid.New()
	r.relations = append(r.relations, rel)
	return nil
}

// discoveringConnector serves canned schema metadata.
type discoveringConnector struct {
	fakeConnector
	tables  []datasource.TableMeta
	columns map[string][]datasource.ColumnMeta
	fks     []datasource.ForeignKeyMeta
	fail    error
}

func (c *discoveringConnector) DiscoverTables(context.Context) ([]datasource.TableMeta, error) {
	if c.fail != nil {
		return nil, c.fail
	}
	return c.tables, nil
}

func (c *discoveringConnector) DiscoverColumns(_ context.Context, schema, tbl string) ([]datasource.ColumnMeta, error) {
	return c.columns[schema+"."+tbl], nil
}

func (c *discoveringConnector) DiscoverForeignKeys(context.Context) ([]datasource.ForeignKeyMeta, error) {
	return c.fks, nil
}

type syncDatasourceService struct {
	DatasourceService
	conn datasource.Connector
	ds   *models.Datasource
}

func (f *syncDatasourceService) Get(context.Context, uuid.UUID) (*models.Datasource, error) {
	return f.ds, nil
}

func (f *syncDatasourceService) Connect(context.Context, uuid.UUID) (datasource.Connector, *models.Datasource, error) {
	return f.conn, f.ds, nil
}

func newSyncFixture(conn datasource.Connector) (TableSyncService, *syncTableRepo, uuid.UUID) {
	repo := newSyncTableRepo()
	dsID := uuid.New()
	svc := NewTableSyncService(
		&syncDatasourceService{conn: conn, ds: &models.Datasource{ID: dsID, DatasourceType: models.DatasourceTypePostgres}},
		repo,
		zap.NewNop(),
	)
	return svc, repo, dsID
}

func TestSyncNowCachesTablesFieldsAndRelations(t *testing.T) {
	conn := &discoveringConnector{
		tables: []datasource.TableMeta{
			{Schema: "public", Name: "orders", Comment: "sales orders"},
			{Schema: "public", Name: "customers"},
		},
		columns: map[string][]datasource.ColumnMeta{
			"public.orders": {
				{Name: "id", DataType: "bigint", IsPrimary: true},
				{Name: "customer_id", DataType: "bigint"},
			},
			"public.customers": {
				{Name: "id", DataType: "bigint", IsPrimary: true},
			},
		},
		fks: []datasource.ForeignKeyMeta{{
			Schema: "public", Table: "orders", Column: "customer_id",
			ReferencedSchema: "public", ReferencedTable: "customers", ReferencedColumn: "id",
		}},
	}
	svc, repo, dsID := newSyncFixture(conn)

	require.NoError(t, svc.SyncNow(context.Background(), dsID))

	require.Len(t, repo.tables, 2)
	orders := repo.tables["public.orders"]
	require.NotNil(t, orders)
	assert.Equal(t, "sales orders", orders.Description)
	assert.Equal(t, models.SyncStatusSucceeded, orders.SyncStatus)

	fields := repo.fields[orders.ID]
	require.Len(t, fields, 2)
	assert.True(t, fields[0].IsPrimaryKey)
	assert.Equal(t, 1, fields[0].OrdinalPosition)
	assert.Equal(t, 2, fields[1].OrdinalPosition)

	require.Len(t, repo.relations, 1)
	assert.Equal(t, "customer_id", repo.relations[0].FromField)

	assert.Equal(t, []string{models.SyncStatusRunning, models.SyncStatusSucceeded}, repo.statuses)
}

func TestDisplayName(t *testing.T) {
	cases := map[string]string{
		"orders":        "Order",
		"order_items":   "Order Item",
		"customers":     "Customer",
		"api-keys":      "Api Key",
		"categories":    "Category",
		"billing.plans": "Billing Plan",
		"éclairs":       "Éclair",
	}
	for in, want := range cases {
		assert.Equal(t, want, displayName(in), in)
	}
}

func TestSyncNowDropsVanishedTables(t *testing.T) {
	conn := &discoveringConnector{
		tables: []datasource.TableMeta{{Schema: "public", Name: "orders"}},
		columns: map[string][]datasource.ColumnMeta{
			"public.orders": {{Name: "id", DataType: "bigint"}},
		},
	}
	svc, repo, dsID := newSyncFixture(conn)

	// Pre-seed a table the database no longer has.
	stale := &models.DataTable{DatasourceID: dsID, SchemaName: "public", TableName: "legacy"}
	require.NoError(t, repo.UpsertTable(context.Background(), stale))

	require.NoError(t, svc.SyncNow(context.Background(), dsID))

	assert.Contains(t, repo.tables, "public.orders")
	assert.NotContains(t, repo.tables, "public.legacy")
}

func TestSyncNowRecordsFailure(t *testing.T) {
	conn := &discoveringConnector{fail: errors.New("connection reset")}
	svc, repo, dsID := newSyncFixture(conn)

	err := svc.SyncNow(context.Background(), dsID)
	require.Error(t, err)
	assert.Equal(t, []string{models.SyncStatusRunning, models.SyncStatusFailed}, repo.statuses)
}

func TestSyncNowRejectsConcurrentRuns(t *testing.T) {
	release := make(chan struct{})
	conn := &blockingConnector{started: make(chan struct{}), release: release}
	svc, _, dsID := newSyncFixture(conn)

	done := make(chan error, 1)
	go func() {
		done <- svc.SyncNow(context.Background(), dsID)
	}()

	// Wait until the first sync is inside discovery.
	<-conn.started

	err := svc.SyncNow(context.Background(), dsID)
	assert.ErrorIs(t, err, apperrors.ErrSyncInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, svc.Running(dsID))
}

// blockingConnector parks DiscoverTables until released.
type blockingConnector struct {
	fakeConnector
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (c *blockingConnector) DiscoverTables(context.Context) ([]datasource.TableMeta, error) {
	c.once.Do(func() { close(c.started) })
	<-c.release
	return nil, nil
}
