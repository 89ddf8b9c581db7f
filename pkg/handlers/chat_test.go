package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/apperrors"
	"github.com/datachat-io/datachat-engine/pkg/contextmgr"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
	"github.com/datachat-io/datachat-engine/pkg/services"
	"github.com/datachat-io/datachat-engine/pkg/sqlerrors"
)

// mockChatService implements services.ChatService for handler tests.
type mockChatService struct {
	resp    *services.QueryResponse
	err     error
	lastReq services.QueryRequest
}

func (m *mockChatService) Query(ctx context.Context, req services.QueryRequest) (*services.QueryResponse, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.resp, nil
}

// mockSessionRepo implements repositories.SessionRepository for handler tests.
type mockSessionRepo struct {
	session    *models.DialogueSession
	sessions   []*models.DialogueSession
	getErr     error
	deletedIDs []uuid.UUID
}

func (m *mockSessionRepo) Create(ctx context.Context, s *models.DialogueSession) error { return nil }

func (m *mockSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.DialogueSession, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.session, nil
}

func (m *mockSessionRepo) List(ctx context.Context, limit, offset int) ([]*models.DialogueSession, int, error) {
	return m.sessions, len(m.sessions), nil
}

func (m *mockSessionRepo) Touch(ctx context.Context, id uuid.UUID, title string) error { return nil }

func (m *mockSessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	m.deletedIDs = append(m.deletedIDs, id)
	return nil
}

// mockHistoryRepo implements repositories.QueryHistoryRepository for handler tests.
type mockHistoryRepo struct {
	entries []*models.QueryHistory
}

func (m *mockHistoryRepo) Insert(ctx context.Context, h *models.QueryHistory) error { return nil }

func (m *mockHistoryRepo) ListBySession(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]*models.QueryHistory, int, error) {
	return m.entries, len(m.entries), nil
}

func (m *mockHistoryRepo) ListByDatasource(ctx context.Context, datasourceID uuid.UUID, limit, offset int) ([]*models.QueryHistory, int, error) {
	return m.entries, len(m.entries), nil
}

func (m *mockHistoryRepo) StatsByTemplateVersion(ctx context.Context, templateID uuid.UUID, since time.Time) ([]*repositories.VersionStats, error) {
	return nil, nil
}

func newChatHandler(t *testing.T, chat services.ChatService, sessions *mockSessionRepo, history *mockHistoryRepo) (*ChatHandler, *contextmgr.Manager) {
	t.Helper()
	contexts := contextmgr.NewManager(contextmgr.Config{}, zap.NewNop())
	t.Cleanup(contexts.Close)
	return NewChatHandler(chat, sessions, history, contexts, zap.NewNop()), contexts
}

func TestChatQueryReturnsPipelineResult(t *testing.T) {
	sessionID := uuid.New()
	chat := &mockChatService{resp: &services.QueryResponse{
		SessionID: sessionID,
		SQL:       "SELECT 1",
		Columns:   []string{"count"},
		Rows:      [][]any{{int64(42)}},
		RowCount:  1,
		Status:    models.QueryStatusSucceeded,
		Attempts:  1,
	}}
	handler, _ := newChatHandler(t, chat, &mockSessionRepo{}, &mockHistoryRepo{})

	body, _ := json.Marshal(ChatQueryRequest{DatasourceID: uuid.NewString(), Question: "how many orders?"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Query(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]any)
	assert.Equal(t, "SELECT 1", data["sql"])
	assert.Equal(t, sessionID.String(), data["session_id"])
	assert.Equal(t, "how many orders?", chat.lastReq.Question)
}

func TestChatQueryPipelineFailureKeeps200(t *testing.T) {
	chat := &mockChatService{err: &services.PipelineError{
		Class:       sqlerrors.ClassFieldNotExists,
		UserMessage: "The query referenced a column that does not exist.",
		Attempts:    2,
	}}
	handler, _ := newChatHandler(t, chat, &mockSessionRepo{}, &mockHistoryRepo{})

	body, _ := json.Marshal(ChatQueryRequest{DatasourceID: uuid.NewString(), Question: "broken"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Query(rec, req)

	// Pipeline failures are reported in the envelope, not as HTTP errors.
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "query_failed", resp.Error)
	assert.Equal(t, "The query referenced a column that does not exist.", resp.Message)

	data := resp.Data.(map[string]any)
	assert.Equal(t, string(sqlerrors.ClassFieldNotExists), data["class"])
	assert.Equal(t, float64(2), data["attempts"])
}

func TestChatQueryServiceErrorMapsToHTTP(t *testing.T) {
	chat := &mockChatService{err: apperrors.ErrNotFound}
	handler, _ := newChatHandler(t, chat, &mockSessionRepo{}, &mockHistoryRepo{})

	body, _ := json.Marshal(ChatQueryRequest{SessionID: uuid.NewString(), Question: "hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	handler.Query(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatQueryRejectsInvalidSessionID(t *testing.T) {
	handler, _ := newChatHandler(t, &mockChatService{}, &mockSessionRepo{}, &mockHistoryRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", bytes.NewReader([]byte(`{"session_id":"nope","question":"hi"}`)))
	rec := httptest.NewRecorder()
	handler.Query(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatQueryRequiresQuestion(t *testing.T) {
	handler, _ := newChatHandler(t, &mockChatService{}, &mockSessionRepo{}, &mockHistoryRepo{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/query", bytes.NewReader([]byte(`{"question":"  "}`)))
	rec := httptest.NewRecorder()
	handler.Query(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDeleteSessionDropsContextWindow(t *testing.T) {
	sessions := &mockSessionRepo{}
	handler, contexts := newChatHandler(t, &mockChatService{}, sessions, &mockHistoryRepo{})

	id := uuid.New()
	contexts.AddTurn(id.String(), contextmgr.Turn{Question: "q", SQL: "SELECT 1"})
	require.Equal(t, 1, contexts.SessionCount())

	req := httptest.NewRequest(http.MethodDelete, "/api/sessions/"+id.String(), nil)
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()
	handler.DeleteSession(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sessions.deletedIDs, 1)
	assert.Equal(t, id, sessions.deletedIDs[0])
	assert.Equal(t, 0, contexts.SessionCount())
}

func TestSessionHistoryPaged(t *testing.T) {
	history := &mockHistoryRepo{entries: []*models.QueryHistory{
		{
			ID:           uuid.New(),
			Question:     "q1",
			Status:       models.QueryStatusSucceeded,
			GeneratedSQL: "SELECT SUM(amount) AS total, region FROM orders GROUP BY region",
		},
		{ID: uuid.New(), Question: "q2", Status: models.QueryStatusFailed},
	}}
	handler, _ := newChatHandler(t, &mockChatService{}, &mockSessionRepo{}, history)

	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/"+id.String()+"/history", nil)
	req.SetPathValue("id", id.String())
	rec := httptest.NewRecorder()
	handler.SessionHistory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(2), data["total"])

	// Result columns are parsed from the stored SQL so past results can
	// be described without re-running them.
	items := data["items"].([]any)
	require.Len(t, items, 2)
	first := items[0].(map[string]any)
	assert.Equal(t, []any{"total", "region"}, first["result_columns"])
	second := items[1].(map[string]any)
	assert.Nil(t, second["result_columns"])
}
