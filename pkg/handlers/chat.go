package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/auth"
	"github.com/datachat-io/datachat-engine/pkg/contextmgr"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
	"github.com/datachat-io/datachat-engine/pkg/services"
	"github.com/datachat-io/datachat-engine/pkg/sqlguard"
)

// ChatQueryRequest is one natural-language question.
type ChatQueryRequest struct {
	SessionID    string `json:"session_id"`
	DatasourceID string `json:"datasource_id"`
	Question     string `json:"question"`
}

// ChatErrorData accompanies a failed pipeline run so clients can show the
// canned message and the attempt count.
type ChatErrorData struct {
	Class    string `json:"class"`
	Attempts int    `json:"attempts"`
}

// ChatHandler serves the chat pipeline and session endpoints.
type ChatHandler struct {
	chat     services.ChatService
	sessions repositories.SessionRepository
	history  repositories.QueryHistoryRepository
	contexts *contextmgr.Manager
	logger   *zap.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(chat services.ChatService, sessions repositories.SessionRepository, history repositories.QueryHistoryRepository, contexts *contextmgr.Manager, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: chat, sessions: sessions, history: history, contexts: contexts, logger: logger}
}

// RegisterRoutes registers chat and session routes.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware) {
	mux.HandleFunc("POST /api/chat/query", authMW.RequireAuth(h.Query))
	mux.HandleFunc("GET /api/sessions", authMW.RequireAuth(h.ListSessions))
	mux.HandleFunc("GET /api/sessions/{id}", authMW.RequireAuth(h.GetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", authMW.RequireAuth(h.DeleteSession))
	mux.HandleFunc("GET /api/sessions/{id}/history", authMW.RequireAuth(h.SessionHistory))
}

func (h *ChatHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req ChatQueryRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		h.write(ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", "Question is required"))
		return
	}

	query := services.QueryRequest{Question: req.Question}
	if req.SessionID != "" {
		sessionID, err := uuid.Parse(req.SessionID)
		if err != nil {
			h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid session_id"))
			return
		}
		query.SessionID = &sessionID
	}
	if req.DatasourceID != "" {
		datasourceID, err := uuid.Parse(req.DatasourceID)
		if err != nil {
			h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid datasource_id"))
			return
		}
		query.DatasourceID = datasourceID
	}
	if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
		query.UserID = claims.UserID()
	}

	resp, err := h.chat.Query(r.Context(), query)
	if err != nil {
		var pipelineErr *services.PipelineError
		if errors.As(err, &pipelineErr) {
			h.logger.Warn("Chat query failed",
				zap.String("class", string(pipelineErr.Class)),
				zap.Int("attempts", pipelineErr.Attempts))
			h.write(WriteJSON(w, http.StatusOK, ApiResponse{
				Success: false,
				Error:   "query_failed",
				Message: pipelineErr.UserMessage,
				Data:    ChatErrorData{Class: string(pipelineErr.Class), Attempts: pipelineErr.Attempts},
			}))
			return
		}
		h.logger.Error("Chat query error", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: resp}))
}

func (h *ChatHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, offset := Pagination(r)
	sessions, total, err := h.sessions.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: Paged{Items: sessions, Total: total}}))
}

func (h *ChatHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid session ID"))
		return
	}
	session, err := h.sessions.GetByID(r.Context(), id)
	if err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: session}))
}

func (h *ChatHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid session ID"))
		return
	}
	if err := h.sessions.Delete(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	// Clear the in-memory conversation window too.
	h.contexts.Drop(id.String())
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Session deleted"}))
}

func (h *ChatHandler) SessionHistory(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid session ID"))
		return
	}
	limit, offset := Pagination(r)
	entries, total, err := h.history.ListBySession(r.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list session history", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}

	items := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		items[i] = HistoryEntry{QueryHistory: e, ResultColumns: resultColumns(e.GeneratedSQL)}
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: Paged{Items: items, Total: total}}))
}

// HistoryEntry decorates a stored query with the result columns parsed
// from its SQL, so past results can be described without re-running them.
type HistoryEntry struct {
	*models.QueryHistory
	ResultColumns []string `json:"result_columns,omitempty"`
}

func resultColumns(sql string) []string {
	parsed := sqlguard.ParseSelectColumns(sql)
	if len(parsed) == 0 {
		return nil
	}
	cols := make([]string, len(parsed))
	for i, c := range parsed {
		cols[i] = c.Name
	}
	return cols
}

func (h *ChatHandler) write(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
