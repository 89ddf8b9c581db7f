package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/adapters/datasource"
	"github.com/datachat-io/datachat-engine/pkg/apperrors"
	"github.com/datachat-io/datachat-engine/pkg/contextmgr"
	"github.com/datachat-io/datachat-engine/pkg/llm"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
	"github.com/datachat-io/datachat-engine/pkg/sqlerrors"
)

// --- fakes ---

type fakeConnector struct {
	executeFunc func(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryResult, error)
	executed    []string
}

func (f *fakeConnector) Ping(context.Context) error { return nil }
func (f *fakeConnector) DiscoverTables(context.Context) ([]datasource.TableMeta, error) {
	return nil, nil
}
func (f *fakeConnector) DiscoverColumns(context.Context, string, string) ([]datasource.ColumnMeta, error) {
	return nil, nil
}
func (f *fakeConnector) DiscoverForeignKeys(context.Context) ([]datasource.ForeignKeyMeta, error) {
	return nil, nil
}
func (f *fakeConnector) ExecuteQuery(ctx context.Context, sqlQuery string, limit int) (*datasource.QueryResult, error) {
	f.executed = append(f.executed, sqlQuery)
	return f.executeFunc(ctx, sqlQuery, limit)
}
func (f *fakeConnector) Close() error { return nil }

type fakeDatasourceService struct {
	DatasourceService
	conn *fakeConnector
	ds   *models.Datasource
}

func (f *fakeDatasourceService) Connect(context.Context, uuid.UUID) (datasource.Connector, *models.Datasource, error) {
	return f.conn, f.ds, nil
}

// fakeTableRepo embeds the interface so unused methods panic loudly if the
// pipeline starts calling them.
type fakeTableRepo struct {
	repositories.TableRepository
	tables    []*models.DataTable
	relations []*models.TableRelation
}

func (f *fakeTableRepo) ListWithFields(context.Context, uuid.UUID) ([]*models.DataTable, error) {
	return f.tables, nil
}
func (f *fakeTableRepo) ListRelations(context.Context, uuid.UUID) ([]*models.TableRelation, error) {
	return f.relations, nil
}

type fakeSessionRepo struct {
	created   *models.DialogueSession
	touched   int
	lastTitle string
}

func (f *fakeSessionRepo) Create(_ context.Context, s *models.DialogueSession) error {
	s.ID = uuid.New()
	f.created = s
	return nil
}
func (f *fakeSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.DialogueSession, error) {
	if f.created != nil && f.created.ID == id {
		return f.created, nil
	}
	return nil, errors.New("session not found")
}
func (f *fakeSessionRepo) List(context.Context, int, int) ([]*models.DialogueSession, int, error) {
	return nil, 0, nil
}
func (f *fakeSessionRepo) Touch(_ context.Context, _ uuid.UUID, title string) error {
	f.touched++
	f.lastTitle = title
	return nil
}
func (f *fakeSessionRepo) Delete(context.Context, uuid.UUID) error { return nil }

type fakeHistoryRepo struct {
	entries []*models.QueryHistory
}

func (f *fakeHistoryRepo) Insert(_ context.Context, h *models.QueryHistory) error {
	h.ID = uuid.New()
	f.entries = append(f.entries, h)
	return nil
}
func (f *fakeHistoryRepo) ListBySession(context.Context, uuid.UUID, int, int) ([]*models.QueryHistory, int, error) {
	return f.entries, len(f.entries), nil
}
func (f *fakeHistoryRepo) ListByDatasource(context.Context, uuid.UUID, int, int) ([]*models.QueryHistory, int, error) {
	return f.entries, len(f.entries), nil
}
func (f *fakeHistoryRepo) StatsByTemplateVersion(context.Context, uuid.UUID, time.Time) ([]*repositories.VersionStats, error) {
	return nil, nil
}

type fakeKnowledge struct{}

func (fakeKnowledge) SelectRelevant(context.Context, string, time.Time) ([]*models.KnowledgeItem, error) {
	return nil, nil
}
func (fakeKnowledge) RenderBlock([]*models.KnowledgeItem) string { return "" }

type fakeFewShots struct{}

func (fakeFewShots) SelectRelevant(context.Context, uuid.UUID, string) ([]*models.FewShotSample, error) {
	return nil, nil
}
func (fakeFewShots) RenderBlock([]*models.FewShotSample) string { return "" }

type fakeDictionaries struct{}

func (fakeDictionaries) ForFields(context.Context, []uuid.UUID) ([]*models.Dictionary, error) {
	return nil, nil
}
func (fakeDictionaries) RenderBlock([]*models.Dictionary) string { return "" }

type fakeTemplates struct {
	outcomes []bool
}

func (f *fakeTemplates) Resolve(_ context.Context, purpose string, _ uuid.UUID) (string, *uuid.UUID, error) {
	return defaultTemplates[purpose], nil, nil
}
func (f *fakeTemplates) RecordOutcome(_ context.Context, _ *uuid.UUID, success bool, _ time.Duration) {
	f.outcomes = append(f.outcomes, success)
}

// recordedOutcome is one RecordOutcome call seen by recordingLearner.
type recordedOutcome struct {
	class   sqlerrors.Class
	success bool
}

// recordingLearner captures hint outcomes for assertions.
type recordingLearner struct {
	outcomes []recordedOutcome
}

func (r *recordingLearner) RecordError(*sqlerrors.Classification) {}
func (r *recordingLearner) RecordOutcome(c *sqlerrors.Classification, _ string, success bool) {
	r.outcomes = append(r.outcomes, recordedOutcome{class: c.Class, success: success})
}
func (r *recordingLearner) BestHint(*sqlerrors.Classification) (string, bool) { return "", false }

// --- fixture ---

type chatFixture struct {
	svc      ChatService
	conn     *fakeConnector
	client   *llm.MockClient
	sessions *fakeSessionRepo
	history  *fakeHistoryRepo
	learning *sqlerrors.LearningStore
	contexts *contextmgr.Manager
}

func newChatFixture(t *testing.T, client *llm.MockClient, conn *fakeConnector) *chatFixture {
	t.Helper()
	return newChatFixtureCfg(t, client, conn,
		ChatConfig{MaxFixAttempts: 1, QueryTimeout: time.Second, MaxResultRows: 100}, nil)
}

func newChatFixtureCfg(t *testing.T, client *llm.MockClient, conn *fakeConnector, cfg ChatConfig, learner ErrorLearner) *chatFixture {
	t.Helper()
	logger := zap.NewNop()

	dsID := uuid.New()
	tables := []*models.DataTable{
		{
			ID:           uuid.New(),
			DatasourceID: dsID,
			SchemaName:   "public",
			TableName:    "orders",
			Fields: []*models.TableField{
				{ID: uuid.New(), FieldName: "id", DataType: "bigint", IsPrimaryKey: true},
				{ID: uuid.New(), FieldName: "amount", DataType: "numeric"},
				{ID: uuid.New(), FieldName: "created_at", DataType: "timestamptz"},
			},
		},
	}

	sessions := &fakeSessionRepo{}
	history := &fakeHistoryRepo{}
	learning := sqlerrors.NewLearningStore(sqlerrors.LearningConfig{}, nil, logger)
	if learner == nil {
		learner = learning
	}
	contexts := contextmgr.NewManager(contextmgr.Config{}, logger)
	t.Cleanup(contexts.Close)

	svc := NewChatService(
		cfg,
		&fakeDatasourceService{
			conn: conn,
			ds:   &models.Datasource{ID: dsID, DatasourceType: models.DatasourceTypePostgres, Status: models.DatasourceStatusActive},
		},
		&fakeTableRepo{tables: tables},
		sessions,
		history,
		fakeKnowledge{},
		fakeFewShots{},
		fakeDictionaries{},
		&fakeTemplates{},
		client,
		contexts,
		learner,
		logger,
	)

	return &chatFixture{
		svc:      svc,
		conn:     conn,
		client:   client,
		sessions: sessions,
		history:  history,
		learning: learning,
		contexts: contexts,
	}
}

// --- tests ---

func TestChatQuerySucceedsFirstAttempt(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
			if strings.Contains(req.User, "Summarize") {
				return &llm.CompletionResult{Content: "Total revenue was 4200."}, nil
			}
			return &llm.CompletionResult{Content: "SELECT SUM(amount) AS total FROM public.orders"}, nil
		},
	}
	conn := &fakeConnector{
		executeFunc: func(context.Context, string, int) (*datasource.QueryResult, error) {
			return &datasource.QueryResult{Columns: []string{"total"}, Rows: [][]any{{4200}}, RowCount: 1}, nil
		},
	}
	f := newChatFixture(t, client, conn)

	resp, err := f.svc.Query(context.Background(), QueryRequest{
		DatasourceID: uuid.New(),
		Question:     "What is total order revenue?",
	})
	require.NoError(t, err)

	assert.Equal(t, models.QueryStatusSucceeded, resp.Status)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, 1, resp.RowCount)
	assert.Equal(t, "Total revenue was 4200.", resp.Analysis)
	assert.Equal(t, "SELECT SUM(amount) AS total FROM public.orders", resp.SQL)

	// Session persisted and touched, history recorded.
	require.NotNil(t, f.sessions.created)
	assert.Equal(t, 1, f.sessions.touched)
	require.Len(t, f.history.entries, 1)
	assert.Equal(t, models.QueryStatusSucceeded, f.history.entries[0].Status)

	// Turn landed in the context manager.
	turns := f.contexts.LocalTurns(resp.SessionID.String())
	require.Len(t, turns, 1)
	assert.Equal(t, "What is total order revenue?", turns[0].Question)
}

func TestChatQueryRecoversFromBadColumn(t *testing.T) {
	var calls int
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
			if strings.Contains(req.User, "Summarize") {
				return &llm.CompletionResult{Content: "One row."}, nil
			}
			calls++
			if calls == 1 {
				return &llm.CompletionResult{Content: "SELECT amnt FROM public.orders"}, nil
			}
			// The fix prompt should carry the near-miss suggestion.
			if !strings.Contains(req.User, "amount") {
				t.Errorf("fix prompt missing identifier suggestion: %q", req.User)
			}
			return &llm.CompletionResult{Content: "SELECT amount FROM public.orders"}, nil
		},
	}
	conn := &fakeConnector{
		executeFunc: func(_ context.Context, sqlQuery string, _ int) (*datasource.QueryResult, error) {
			if strings.Contains(sqlQuery, "amnt") {
				return nil, errors.New(`column "amnt" does not exist`)
			}
			return &datasource.QueryResult{Columns: []string{"amount"}, Rows: [][]any{{10}}, RowCount: 1}, nil
		},
	}
	f := newChatFixture(t, client, conn)

	resp, err := f.svc.Query(context.Background(), QueryRequest{
		DatasourceID: uuid.New(),
		Question:     "order amounts",
	})
	require.NoError(t, err)

	assert.Equal(t, models.QueryStatusRecovered, resp.Status)
	assert.Equal(t, 2, resp.Attempts)
	assert.Len(t, f.conn.executed, 2)

	// The error landed in the learning store.
	stats := f.learning.Stats()
	assert.Equal(t, 1, stats.PatternCount)
}

func TestChatQueryGivesUpAfterMaxAttempts(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResult, error) {
			return &llm.CompletionResult{Content: "SELECT bogus FROM public.orders"}, nil
		},
	}
	conn := &fakeConnector{
		executeFunc: func(context.Context, string, int) (*datasource.QueryResult, error) {
			return nil, errors.New(`column "bogus" does not exist`)
		},
	}
	f := newChatFixture(t, client, conn)

	_, err := f.svc.Query(context.Background(), QueryRequest{
		DatasourceID: uuid.New(),
		Question:     "anything",
	})
	require.Error(t, err)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, sqlerrors.ClassFieldNotExists, pe.Class)
	assert.Equal(t, 2, pe.Attempts) // 1 initial + MaxFixAttempts=1
	assert.NotEmpty(t, pe.UserMessage)

	require.Len(t, f.history.entries, 1)
	assert.Equal(t, models.QueryStatusFailed, f.history.entries[0].Status)
	assert.Equal(t, string(sqlerrors.ClassFieldNotExists), f.history.entries[0].ErrorClass)
}

func TestChatQueryTruncatesTitleOnRuneBoundary(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
			if strings.Contains(req.User, "Summarize") {
				return &llm.CompletionResult{Content: "One row."}, nil
			}
			return &llm.CompletionResult{Content: "SELECT SUM(amount) AS total FROM public.orders"}, nil
		},
	}
	conn := &fakeConnector{
		executeFunc: func(context.Context, string, int) (*datasource.QueryResult, error) {
			return &datasource.QueryResult{Columns: []string{"total"}, Rows: [][]any{{1}}, RowCount: 1}, nil
		},
	}
	f := newChatFixture(t, client, conn)

	question := strings.Repeat("订单金额统计", 20) // 120 runes, 3 bytes each
	_, err := f.svc.Query(context.Background(), QueryRequest{
		DatasourceID: uuid.New(),
		Question:     question,
	})
	require.NoError(t, err)

	title := f.sessions.lastTitle
	assert.True(t, utf8.ValidString(title), "session title must stay valid UTF-8")
	assert.Equal(t, 80, utf8.RuneCountInString(title))
}

func TestChatQueryScreensQuestionForInjection(t *testing.T) {
	client := &llm.MockClient{}
	f := newChatFixture(t, client, &fakeConnector{})

	_, err := f.svc.Query(context.Background(), QueryRequest{
		DatasourceID: uuid.New(),
		Question:     "revenue' OR '1'='1' UNION SELECT password FROM users --",
	})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	// Rejected before any model call or session creation.
	assert.Equal(t, 0, client.CompleteCalls)
	assert.Nil(t, f.sessions.created)
}

func TestChatQueryChargesHintFailureToIssuingClassification(t *testing.T) {
	var calls int
	client := &llm.MockClient{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResult, error) {
			calls++
			if calls == 1 {
				return &llm.CompletionResult{Content: "SELECT bogus FROM public.orders"}, nil
			}
			// The hinted retry degenerates into a statement the validator
			// rejects outright.
			return &llm.CompletionResult{Content: "DROP TABLE public.orders"}, nil
		},
	}
	conn := &fakeConnector{
		executeFunc: func(context.Context, string, int) (*datasource.QueryResult, error) {
			return nil, errors.New(`column "bogus" does not exist`)
		},
	}
	learner := &recordingLearner{}
	f := newChatFixtureCfg(t, client, conn,
		ChatConfig{MaxFixAttempts: 1, QueryTimeout: time.Second, MaxResultRows: 100}, learner)

	_, err := f.svc.Query(context.Background(), QueryRequest{
		DatasourceID: uuid.New(),
		Question:     "anything",
	})
	require.Error(t, err)

	// The hint was issued for the missing-column failure; its failure must
	// land on that pattern, not on the later validator rejection.
	require.Len(t, learner.outcomes, 1)
	assert.Equal(t, sqlerrors.ClassFieldNotExists, learner.outcomes[0].class)
	assert.False(t, learner.outcomes[0].success)
}

func TestChatQueryRecordsEveryHintedRetryOutcome(t *testing.T) {
	var calls int
	client := &llm.MockClient{
		CompleteFunc: func(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
			if strings.Contains(req.User, "Summarize") {
				return &llm.CompletionResult{Content: "One row."}, nil
			}
			calls++
			switch calls {
			case 1:
				return &llm.CompletionResult{Content: "SELECT amnt FROM public.orders"}, nil
			case 2:
				return &llm.CompletionResult{Content: "SELECT amount FROM public.orderz"}, nil
			default:
				return &llm.CompletionResult{Content: "SELECT amount FROM public.orders"}, nil
			}
		},
	}
	conn := &fakeConnector{
		executeFunc: func(_ context.Context, sqlQuery string, _ int) (*datasource.QueryResult, error) {
			switch {
			case strings.Contains(sqlQuery, "amnt"):
				return nil, errors.New(`column "amnt" does not exist`)
			case strings.Contains(sqlQuery, "orderz"):
				return nil, errors.New(`relation "public.orderz" does not exist`)
			default:
				return &datasource.QueryResult{Columns: []string{"amount"}, Rows: [][]any{{10}}, RowCount: 1}, nil
			}
		},
	}
	learner := &recordingLearner{}
	f := newChatFixtureCfg(t, client, conn,
		ChatConfig{MaxFixAttempts: 2, QueryTimeout: time.Second, MaxResultRows: 100}, learner)

	resp, err := f.svc.Query(context.Background(), QueryRequest{
		DatasourceID: uuid.New(),
		Question:     "order amounts",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)

	// First hint failed (retry hit a different error), second succeeded;
	// both outcomes land on the classification each hint was issued for.
	require.Len(t, learner.outcomes, 2)
	assert.Equal(t, recordedOutcome{class: sqlerrors.ClassFieldNotExists, success: false}, learner.outcomes[0])
	assert.Equal(t, recordedOutcome{class: sqlerrors.ClassTableNotExists, success: true}, learner.outcomes[1])
}

func TestChatQueryRejectsNonSelect(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResult, error) {
			return &llm.CompletionResult{Content: "DROP TABLE public.orders"}, nil
		},
	}
	conn := &fakeConnector{
		executeFunc: func(context.Context, string, int) (*datasource.QueryResult, error) {
			t.Fatal("rejected SQL must never execute")
			return nil, nil
		},
	}
	f := newChatFixture(t, client, conn)

	_, err := f.svc.Query(context.Background(), QueryRequest{
		DatasourceID: uuid.New(),
		Question:     "drop everything",
	})
	require.Error(t, err)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, sqlerrors.ClassSyntax, pe.Class)
	assert.Empty(t, f.conn.executed)
}

func TestChatQueryUnrecoverableStopsImmediately(t *testing.T) {
	client := &llm.MockClient{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResult, error) {
			return &llm.CompletionResult{Content: "SELECT * FROM public.orders"}, nil
		},
	}
	conn := &fakeConnector{
		executeFunc: func(context.Context, string, int) (*datasource.QueryResult, error) {
			return nil, errors.New("permission denied for table orders")
		},
	}
	f := newChatFixture(t, client, conn)

	_, err := f.svc.Query(context.Background(), QueryRequest{
		DatasourceID: uuid.New(),
		Question:     "everything",
	})
	require.Error(t, err)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, sqlerrors.ClassPermissionDenied, pe.Class)
	assert.Equal(t, 1, pe.Attempts)
	assert.Len(t, f.conn.executed, 1)
}

func TestChatQueryRequiresQuestion(t *testing.T) {
	f := newChatFixture(t, &llm.MockClient{}, &fakeConnector{})
	_, err := f.svc.Query(context.Background(), QueryRequest{DatasourceID: uuid.New()})
	assert.Error(t, err)
}
