package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/auth"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/services"
)

// DatasourceResponse is the API shape of a datasource. Credentials in the
// config are always masked.
type DatasourceResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Config      map[string]any `json:"config"`
	Status      string         `json:"status"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
}

func toDatasourceResponse(ds *models.Datasource) DatasourceResponse {
	return DatasourceResponse{
		ID:          ds.ID.String(),
		Name:        ds.Name,
		Type:        ds.DatasourceType,
		Description: ds.Description,
		Config:      ds.MaskedConfig(),
		Status:      ds.Status,
		CreatedAt:   ds.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   ds.UpdatedAt.Format(time.RFC3339),
	}
}

// CreateDatasourceRequest is the POST body.
type CreateDatasourceRequest struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}

// UpdateDatasourceRequest is the PUT body. Nil config keeps the stored one.
type UpdateDatasourceRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Config      map[string]any `json:"config"`
}

// TestConnectionRequest probes connectivity without saving anything.
type TestConnectionRequest struct {
	Type   string         `json:"type"`
	Config map[string]any `json:"config"`
}

// DatasourcesHandler handles datasource CRUD, connection tests, and sync
// triggers.
type DatasourcesHandler struct {
	datasources services.DatasourceService
	sync        services.TableSyncService
	logger      *zap.Logger
}

// NewDatasourcesHandler creates a datasources handler.
func NewDatasourcesHandler(datasources services.DatasourceService, sync services.TableSyncService, logger *zap.Logger) *DatasourcesHandler {
	return &DatasourcesHandler{
		datasources: datasources,
		sync:        sync,
		logger:      logger,
	}
}

// RegisterRoutes registers the datasource routes.
func (h *DatasourcesHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware) {
	mux.HandleFunc("GET /api/datasources", authMW.RequireAuth(h.List))
	mux.HandleFunc("POST /api/datasources", authMW.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/datasources/{id}", authMW.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/datasources/{id}", authMW.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/datasources/{id}", authMW.RequireAuth(h.Delete))
	mux.HandleFunc("POST /api/datasources/test", authMW.RequireAuth(h.TestConnection))
	mux.HandleFunc("POST /api/datasources/{id}/sync", authMW.RequireAuth(h.TriggerSync))
}

func (h *DatasourcesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := Pagination(r)

	sources, total, err := h.datasources.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list datasources", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}

	items := make([]DatasourceResponse, len(sources))
	for i, ds := range sources {
		items[i] = toDatasourceResponse(ds)
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: Paged{Items: items, Total: total}}))
}

func (h *DatasourcesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateDatasourceRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}

	ds, err := h.datasources.Create(r.Context(), req.Name, req.Type, req.Description, req.Config)
	if err != nil {
		h.logger.Warn("Failed to create datasource", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: toDatasourceResponse(ds)}))
}

func (h *DatasourcesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid datasource ID"))
		return
	}

	ds, err := h.datasources.Get(r.Context(), id)
	if err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toDatasourceResponse(ds)}))
}

func (h *DatasourcesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid datasource ID"))
		return
	}
	var req UpdateDatasourceRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}

	ds, err := h.datasources.Update(r.Context(), id, req.Name, req.Description, req.Config)
	if err != nil {
		h.logger.Warn("Failed to update datasource",
			zap.String("datasource_id", id.String()), zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: toDatasourceResponse(ds)}))
}

func (h *DatasourcesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid datasource ID"))
		return
	}
	if err := h.datasources.Delete(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Datasource deleted"}))
}

func (h *DatasourcesHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req TestConnectionRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}

	if err := h.datasources.TestConnection(r.Context(), req.Type, req.Config); err != nil {
		h.write(WriteJSON(w, http.StatusOK, ApiResponse{
			Success: false,
			Error:   "connection_failed",
			Message: err.Error(),
		}))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Connection OK"}))
}

func (h *DatasourcesHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid datasource ID"))
		return
	}
	if err := h.sync.TriggerSync(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Message: "Sync started"}))
}

func (h *DatasourcesHandler) write(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
