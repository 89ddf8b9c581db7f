package handlers

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/auth"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// KnowledgeBaseRequest is the POST/PUT body for a knowledge base.
type KnowledgeBaseRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     *bool  `json:"enabled"`
}

// KnowledgeItemRequest is the POST/PUT body for a knowledge item.
type KnowledgeItemRequest struct {
	Kind           string     `json:"kind"`
	Title          string     `json:"title"`
	Content        string     `json:"content"`
	Keywords       []string   `json:"keywords"`
	EffectiveFrom  *time.Time `json:"effective_from"`
	EffectiveUntil *time.Time `json:"effective_until"`
	Enabled        *bool      `json:"enabled"`
}

// KnowledgeHandler serves knowledge base and item endpoints.
type KnowledgeHandler struct {
	knowledge repositories.KnowledgeRepository
	logger    *zap.Logger
}

// NewKnowledgeHandler creates a knowledge handler.
func NewKnowledgeHandler(knowledge repositories.KnowledgeRepository, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{knowledge: knowledge, logger: logger}
}

// RegisterRoutes registers knowledge base routes.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware) {
	mux.HandleFunc("GET /api/knowledge-bases", authMW.RequireAuth(h.ListBases))
	mux.HandleFunc("POST /api/knowledge-bases", authMW.RequireAuth(h.CreateBase))
	mux.HandleFunc("GET /api/knowledge-bases/{id}", authMW.RequireAuth(h.GetBase))
	mux.HandleFunc("PUT /api/knowledge-bases/{id}", authMW.RequireAuth(h.UpdateBase))
	mux.HandleFunc("DELETE /api/knowledge-bases/{id}", authMW.RequireAuth(h.DeleteBase))
	mux.HandleFunc("GET /api/knowledge-bases/{id}/items", authMW.RequireAuth(h.ListItems))
	mux.HandleFunc("POST /api/knowledge-bases/{id}/items", authMW.RequireAuth(h.CreateItem))
	mux.HandleFunc("PUT /api/knowledge-items/{id}", authMW.RequireAuth(h.UpdateItem))
	mux.HandleFunc("DELETE /api/knowledge-items/{id}", authMW.RequireAuth(h.DeleteItem))
}

func (h *KnowledgeHandler) ListBases(w http.ResponseWriter, r *http.Request) {
	limit, offset := Pagination(r)
	bases, total, err := h.knowledge.ListBases(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list knowledge bases", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: Paged{Items: bases, Total: total}}))
}

func (h *KnowledgeHandler) CreateBase(w http.ResponseWriter, r *http.Request) {
	var req KnowledgeBaseRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.write(ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", "Name is required"))
		return
	}

	kb := &models.KnowledgeBase{Name: req.Name, Description: req.Description, Enabled: true}
	if req.Enabled != nil {
		kb.Enabled = *req.Enabled
	}
	if err := h.knowledge.CreateBase(r.Context(), kb); err != nil {
		h.logger.Error("Failed to create knowledge base", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: kb}))
}

func (h *KnowledgeHandler) GetBase(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid knowledge base ID"))
		return
	}
	kb, err := h.knowledge.GetBase(r.Context(), id)
	if err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: kb}))
}

func (h *KnowledgeHandler) UpdateBase(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid knowledge base ID"))
		return
	}
	var req KnowledgeBaseRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	if err := h.knowledge.UpdateBase(r.Context(), id, req.Name, req.Description, enabled); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Knowledge base updated"}))
}

func (h *KnowledgeHandler) DeleteBase(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid knowledge base ID"))
		return
	}
	if err := h.knowledge.DeleteBase(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Knowledge base deleted"}))
}

func (h *KnowledgeHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid knowledge base ID"))
		return
	}
	items, err := h.knowledge.ListItems(r.Context(), id)
	if err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: items}))
}

func (h *KnowledgeHandler) CreateItem(w http.ResponseWriter, r *http.Request) {
	baseID, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid knowledge base ID"))
		return
	}
	var req KnowledgeItemRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Content) == "" {
		h.write(ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", "Title and content are required"))
		return
	}

	item := &models.KnowledgeItem{
		KnowledgeBaseID: baseID,
		Kind:            req.Kind,
		Title:           req.Title,
		Content:         req.Content,
		Keywords:        req.Keywords,
		EffectiveFrom:   req.EffectiveFrom,
		EffectiveUntil:  req.EffectiveUntil,
		Enabled:         true,
	}
	if req.Enabled != nil {
		item.Enabled = *req.Enabled
	}
	if err := h.knowledge.CreateItem(r.Context(), item); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: item}))
}

func (h *KnowledgeHandler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid knowledge item ID"))
		return
	}
	var req KnowledgeItemRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}

	item := &models.KnowledgeItem{
		ID:             id,
		Kind:           req.Kind,
		Title:          req.Title,
		Content:        req.Content,
		Keywords:       req.Keywords,
		EffectiveFrom:  req.EffectiveFrom,
		EffectiveUntil: req.EffectiveUntil,
		Enabled:        true,
	}
	if req.Enabled != nil {
		item.Enabled = *req.Enabled
	}
	if err := h.knowledge.UpdateItem(r.Context(), item); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: item}))
}

func (h *KnowledgeHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid knowledge item ID"))
		return
	}
	if err := h.knowledge.DeleteItem(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Knowledge item deleted"}))
}

func (h *KnowledgeHandler) write(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
