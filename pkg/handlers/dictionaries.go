package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/auth"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// CreateDictionaryRequest is the POST body for a new dictionary.
type CreateDictionaryRequest struct {
	Name        string `json:"name"`
	Code        string `json:"code"`
	Description string `json:"description"`
	FieldID     string `json:"field_id"`
}

// UpdateDictionaryRequest is the PUT body for dictionary metadata.
type UpdateDictionaryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	FieldID     string `json:"field_id"`
}

// DictionaryItemRequest is one entry of a PUT items body.
type DictionaryItemRequest struct {
	Value     string `json:"value"`
	Label     string `json:"label"`
	SortOrder int    `json:"sort_order"`
}

// ReplaceDictionaryItemsRequest swaps the full item set of a dictionary.
type ReplaceDictionaryItemsRequest struct {
	Items []DictionaryItemRequest `json:"items"`
}

// DictionariesHandler serves dictionary CRUD endpoints.
type DictionariesHandler struct {
	dictionaries repositories.DictionaryRepository
	logger       *zap.Logger
}

// NewDictionariesHandler creates a dictionaries handler.
func NewDictionariesHandler(dictionaries repositories.DictionaryRepository, logger *zap.Logger) *DictionariesHandler {
	return &DictionariesHandler{dictionaries: dictionaries, logger: logger}
}

// RegisterRoutes registers dictionary routes.
func (h *DictionariesHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware) {
	mux.HandleFunc("GET /api/dictionaries", authMW.RequireAuth(h.List))
	mux.HandleFunc("POST /api/dictionaries", authMW.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/dictionaries/{id}", authMW.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/dictionaries/{id}", authMW.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/dictionaries/{id}", authMW.RequireAuth(h.Delete))
	mux.HandleFunc("PUT /api/dictionaries/{id}/items", authMW.RequireAuth(h.ReplaceItems))
}

func (h *DictionariesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := Pagination(r)
	dicts, total, err := h.dictionaries.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list dictionaries", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: Paged{Items: dicts, Total: total}}))
}

func (h *DictionariesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDictionaryRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Code) == "" {
		h.write(ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", "Name and code are required"))
		return
	}
	fieldID, err := optionalUUID(req.FieldID)
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid field_id"))
		return
	}

	dict := &models.Dictionary{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
		FieldID:     fieldID,
	}
	if err := h.dictionaries.Create(r.Context(), dict); err != nil {
		h.logger.Error("Failed to create dictionary", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: dict}))
}

func (h *DictionariesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid dictionary ID"))
		return
	}
	dict, err := h.dictionaries.GetByID(r.Context(), id)
	if err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: dict}))
}

func (h *DictionariesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid dictionary ID"))
		return
	}
	var req UpdateDictionaryRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	fieldID, err := optionalUUID(req.FieldID)
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid field_id"))
		return
	}
	if err := h.dictionaries.Update(r.Context(), id, req.Name, req.Description, fieldID); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Dictionary updated"}))
}

func (h *DictionariesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid dictionary ID"))
		return
	}
	if err := h.dictionaries.Delete(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Dictionary deleted"}))
}

func (h *DictionariesHandler) ReplaceItems(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid dictionary ID"))
		return
	}
	var req ReplaceDictionaryItemsRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}

	// Items arrive complete; the repository swaps the set atomically.
	if _, err := h.dictionaries.GetByID(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	items := make([]*models.DictionaryItem, 0, len(req.Items))
	for _, it := range req.Items {
		if strings.TrimSpace(it.Value) == "" {
			h.write(ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", "Item value is required"))
			return
		}
		items = append(items, &models.DictionaryItem{Value: it.Value, Label: it.Label, SortOrder: it.SortOrder})
	}
	if err := h.dictionaries.ReplaceItems(r.Context(), id, items); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: items}))
}

func (h *DictionariesHandler) write(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// optionalUUID parses an optional UUID string, returning nil for empty.
func optionalUUID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
