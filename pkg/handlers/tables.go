package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/auth"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// UpdateTableRequest is the PATCH body for table metadata curation.
type UpdateTableRequest struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description"`
}

// UpdateFieldRequest is the PATCH body for field curation.
type UpdateFieldRequest struct {
	BusinessMeaning string `json:"business_meaning"`
	IsSensitive     bool   `json:"is_sensitive"`
}

// CreateRelationRequest adds a curated join path.
type CreateRelationRequest struct {
	FromTableID  string `json:"from_table_id"`
	FromField    string `json:"from_field"`
	ToTableID    string `json:"to_table_id"`
	ToField      string `json:"to_field"`
	RelationType string `json:"relation_type"`
}

func (req *CreateRelationRequest) toModel(datasourceID uuid.UUID) (*models.TableRelation, error) {
	fromID, err := uuid.Parse(req.FromTableID)
	if err != nil {
		return nil, errors.New("invalid from_table_id")
	}
	toID, err := uuid.Parse(req.ToTableID)
	if err != nil {
		return nil, errors.New("invalid to_table_id")
	}
	if req.FromField == "" || req.ToField == "" {
		return nil, errors.New("from_field and to_field are required")
	}
	relType := req.RelationType
	if relType == "" {
		relType = models.RelationTypeOneToMany
	}
	return &models.TableRelation{
		DatasourceID: datasourceID,
		FromTableID:  fromID,
		FromField:    req.FromField,
		ToTableID:    toID,
		ToField:      req.ToField,
		RelationType: relType,
	}, nil
}

// TablesHandler serves cached table metadata and its curation endpoints.
type TablesHandler struct {
	tables repositories.TableRepository
	logger *zap.Logger
}

// NewTablesHandler creates a tables handler.
func NewTablesHandler(tables repositories.TableRepository, logger *zap.Logger) *TablesHandler {
	return &TablesHandler{tables: tables, logger: logger}
}

// RegisterRoutes registers cached table metadata routes.
func (h *TablesHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware) {
	mux.HandleFunc("GET /api/datasources/{id}/tables", authMW.RequireAuth(h.ListByDatasource))
	mux.HandleFunc("GET /api/tables/{id}", authMW.RequireAuth(h.Get))
	mux.HandleFunc("PATCH /api/tables/{id}", authMW.RequireAuth(h.UpdateMeta))
	mux.HandleFunc("DELETE /api/tables/{id}", authMW.RequireAuth(h.Delete))
	mux.HandleFunc("PATCH /api/fields/{id}", authMW.RequireAuth(h.UpdateField))
	mux.HandleFunc("GET /api/datasources/{id}/relations", authMW.RequireAuth(h.ListRelations))
	mux.HandleFunc("POST /api/datasources/{id}/relations", authMW.RequireAuth(h.CreateRelation))
	mux.HandleFunc("DELETE /api/relations/{id}", authMW.RequireAuth(h.DeleteRelation))
}

func (h *TablesHandler) ListByDatasource(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid datasource ID"))
		return
	}
	tables, err := h.tables.ListByDatasource(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list tables", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: tables}))
}

func (h *TablesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid table ID"))
		return
	}
	table, err := h.tables.GetByID(r.Context(), id)
	if err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: table}))
}

func (h *TablesHandler) UpdateMeta(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid table ID"))
		return
	}
	var req UpdateTableRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	if err := h.tables.UpdateMeta(r.Context(), id, req.DisplayName, req.Description); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Table updated"}))
}

func (h *TablesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid table ID"))
		return
	}
	if err := h.tables.Delete(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Table removed from cache"}))
}

func (h *TablesHandler) UpdateField(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid field ID"))
		return
	}
	var req UpdateFieldRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	if err := h.tables.UpdateField(r.Context(), id, req.BusinessMeaning, req.IsSensitive); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Field updated"}))
}

func (h *TablesHandler) ListRelations(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid datasource ID"))
		return
	}
	relations, err := h.tables.ListRelations(r.Context(), id)
	if err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: relations}))
}

func (h *TablesHandler) CreateRelation(w http.ResponseWriter, r *http.Request) {
	datasourceID, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid datasource ID"))
		return
	}
	var req CreateRelationRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}

	rel, err := req.toModel(datasourceID)
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", err.Error()))
		return
	}
	if err := h.tables.CreateRelation(r.Context(), rel); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: rel}))
}

func (h *TablesHandler) DeleteRelation(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid relation ID"))
		return
	}
	if err := h.tables.DeleteRelation(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Relation deleted"}))
}

func (h *TablesHandler) write(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
