package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/auth"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
	"github.com/datachat-io/datachat-engine/pkg/sqlguard"
)

// FewShotRequest is the POST/PUT body for a curated question→SQL sample.
type FewShotRequest struct {
	Question   string   `json:"question"`
	SQL        string   `json:"sql"`
	TablesUsed []string `json:"tables_used"`
	Tags       []string `json:"tags"`
	Enabled    *bool    `json:"enabled"`
}

// FewShotHandler serves few-shot sample CRUD endpoints.
type FewShotHandler struct {
	samples repositories.FewShotRepository
	logger  *zap.Logger
}

// NewFewShotHandler creates a few-shot handler.
func NewFewShotHandler(samples repositories.FewShotRepository, logger *zap.Logger) *FewShotHandler {
	return &FewShotHandler{samples: samples, logger: logger}
}

// RegisterRoutes registers few-shot sample routes.
func (h *FewShotHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware) {
	mux.HandleFunc("GET /api/datasources/{id}/fewshots", authMW.RequireAuth(h.ListByDatasource))
	mux.HandleFunc("POST /api/datasources/{id}/fewshots", authMW.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/fewshots/{id}", authMW.RequireAuth(h.Get))
	mux.HandleFunc("PUT /api/fewshots/{id}", authMW.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/fewshots/{id}", authMW.RequireAuth(h.Delete))
}

func (h *FewShotHandler) ListByDatasource(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid datasource ID"))
		return
	}
	limit, offset := Pagination(r)
	samples, total, err := h.samples.ListByDatasource(r.Context(), id, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list few-shot samples", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: Paged{Items: samples, Total: total}}))
}

func (h *FewShotHandler) Create(w http.ResponseWriter, r *http.Request) {
	datasourceID, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid datasource ID"))
		return
	}
	var req FewShotRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	sample, err := h.validate(&req)
	if err != nil {
		h.write(ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", err.Error()))
		return
	}
	sample.DatasourceID = datasourceID

	if err := h.samples.Create(r.Context(), sample); err != nil {
		h.logger.Error("Failed to create few-shot sample", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: sample}))
}

func (h *FewShotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid sample ID"))
		return
	}
	sample, err := h.samples.GetByID(r.Context(), id)
	if err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: sample}))
}

func (h *FewShotHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid sample ID"))
		return
	}
	var req FewShotRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	sample, err := h.validate(&req)
	if err != nil {
		h.write(ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", err.Error()))
		return
	}
	sample.ID = id

	if err := h.samples.Update(r.Context(), sample); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: sample}))
}

func (h *FewShotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid sample ID"))
		return
	}
	if err := h.samples.Delete(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Sample deleted"}))
}

// validate checks a sample body and normalizes the SQL through the same
// guard the pipeline uses, so curated examples can never teach the model a
// statement the executor would reject.
func (h *FewShotHandler) validate(req *FewShotRequest) (*models.FewShotSample, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, errors.New("Question is required")
	}
	result := sqlguard.ValidateAndNormalize(req.SQL)
	if result.Error != nil {
		return nil, result.Error
	}
	sample := &models.FewShotSample{
		Question:   req.Question,
		SQL:        result.NormalizedSQL,
		TablesUsed: req.TablesUsed,
		Tags:       req.Tags,
		Enabled:    true,
	}
	if req.Enabled != nil {
		sample.Enabled = *req.Enabled
	}
	return sample, nil
}

func (h *FewShotHandler) write(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
