package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/datachat-io/datachat-engine/pkg/auth"
	"github.com/datachat-io/datachat-engine/pkg/models"
	"github.com/datachat-io/datachat-engine/pkg/repositories"
)

// CreatePromptTemplateRequest is the POST body for a new template. An
// initial draft version is created when body is non-empty.
type CreatePromptTemplateRequest struct {
	Name        string `json:"name"`
	Purpose     string `json:"purpose"`
	Description string `json:"description"`
	Body        string `json:"body"`
}

// CreateVersionRequest is the POST body for a new draft version.
type CreateVersionRequest struct {
	Body string `json:"body"`
}

// StartABTestRequest names the challenger version for an experiment.
type StartABTestRequest struct {
	ChallengerVersionID string `json:"challenger_version_id"`
}

// StopABTestRequest names the winning version of an experiment.
type StopABTestRequest struct {
	WinnerVersionID string `json:"winner_version_id"`
}

// PromptTemplatesHandler serves prompt template lifecycle endpoints.
type PromptTemplatesHandler struct {
	templates repositories.PromptTemplateRepository
	history   repositories.QueryHistoryRepository
	logger    *zap.Logger
}

// NewPromptTemplatesHandler creates a prompt templates handler.
func NewPromptTemplatesHandler(templates repositories.PromptTemplateRepository, history repositories.QueryHistoryRepository, logger *zap.Logger) *PromptTemplatesHandler {
	return &PromptTemplatesHandler{templates: templates, history: history, logger: logger}
}

// RegisterRoutes registers prompt template routes.
func (h *PromptTemplatesHandler) RegisterRoutes(mux *http.ServeMux, authMW *auth.Middleware) {
	mux.HandleFunc("GET /api/prompt-templates", authMW.RequireAuth(h.List))
	mux.HandleFunc("POST /api/prompt-templates", authMW.RequireAuth(h.Create))
	mux.HandleFunc("GET /api/prompt-templates/{id}", authMW.RequireAuth(h.Get))
	mux.HandleFunc("DELETE /api/prompt-templates/{id}", authMW.RequireAuth(h.Delete))
	mux.HandleFunc("POST /api/prompt-templates/{id}/versions", authMW.RequireAuth(h.CreateVersion))
	mux.HandleFunc("POST /api/prompt-template-versions/{id}/activate", authMW.RequireAuth(h.ActivateVersion))
	mux.HandleFunc("POST /api/prompt-template-versions/{id}/archive", authMW.RequireAuth(h.ArchiveVersion))
	mux.HandleFunc("POST /api/prompt-templates/{id}/ab-test/start", authMW.RequireAuth(h.StartABTest))
	mux.HandleFunc("POST /api/prompt-templates/{id}/ab-test/stop", authMW.RequireAuth(h.StopABTest))
	mux.HandleFunc("GET /api/prompt-templates/{id}/stats", authMW.RequireAuth(h.Stats))
}

func (h *PromptTemplatesHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := Pagination(r)
	templates, total, err := h.templates.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Failed to list prompt templates", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: Paged{Items: templates, Total: total}}))
}

func (h *PromptTemplatesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePromptTemplateRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.write(ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", "Name is required"))
		return
	}
	switch req.Purpose {
	case models.TemplatePurposeSQLGeneration, models.TemplatePurposeSQLFix, models.TemplatePurposeAnalysis:
	default:
		h.write(ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", "Unknown template purpose"))
		return
	}

	tmpl := &models.PromptTemplate{Name: req.Name, Purpose: req.Purpose, Description: req.Description}
	if err := h.templates.Create(r.Context(), tmpl); err != nil {
		h.logger.Error("Failed to create prompt template", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	if req.Body != "" {
		version, err := h.templates.CreateVersion(r.Context(), tmpl.ID, req.Body)
		if err != nil {
			h.write(ServiceError(w, err))
			return
		}
		tmpl.Versions = []*models.PromptTemplateVersion{version}
	}
	h.write(WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: tmpl}))
}

func (h *PromptTemplatesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid template ID"))
		return
	}
	tmpl, err := h.templates.GetByID(r.Context(), id)
	if err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: tmpl}))
}

func (h *PromptTemplatesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid template ID"))
		return
	}
	if err := h.templates.Delete(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Template deleted"}))
}

func (h *PromptTemplatesHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid template ID"))
		return
	}
	var req CreateVersionRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		h.write(ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", "Version body is required"))
		return
	}
	version, err := h.templates.CreateVersion(r.Context(), id, req.Body)
	if err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: version}))
}

func (h *PromptTemplatesHandler) ActivateVersion(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid version ID"))
		return
	}
	if err := h.templates.ActivateVersion(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Version activated"}))
}

func (h *PromptTemplatesHandler) ArchiveVersion(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid version ID"))
		return
	}
	if err := h.templates.ArchiveVersion(r.Context(), id); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Version archived"}))
}

func (h *PromptTemplatesHandler) StartABTest(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid template ID"))
		return
	}
	var req StartABTestRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	challengerID, err := uuid.Parse(req.ChallengerVersionID)
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid challenger_version_id"))
		return
	}
	if err := h.templates.StartABTest(r.Context(), id, challengerID); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "A/B test started"}))
}

func (h *PromptTemplatesHandler) StopABTest(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid template ID"))
		return
	}
	var req StopABTestRequest
	if err := DecodeJSON(r, &req); err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Malformed JSON body"))
		return
	}
	winnerID, err := uuid.Parse(req.WinnerVersionID)
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid winner_version_id"))
		return
	}
	if err := h.templates.StopABTest(r.Context(), id, winnerID); err != nil {
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "A/B test stopped"}))
}

// Stats returns per-version query outcomes for a template, joined from
// query history. The optional since parameter (RFC 3339) defaults to the
// last 30 days.
func (h *PromptTemplatesHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, err := PathUUID(r, "id")
	if err != nil {
		h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_id", "Invalid template ID"))
		return
	}
	since := time.Now().AddDate(0, 0, -30)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			h.write(ErrorResponse(w, http.StatusBadRequest, "invalid_body", "Invalid since timestamp"))
			return
		}
		since = parsed
	}

	stats, err := h.history.StatsByTemplateVersion(r.Context(), id, since)
	if err != nil {
		h.logger.Error("Failed to load template stats", zap.Error(err))
		h.write(ServiceError(w, err))
		return
	}
	h.write(WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: stats}))
}

func (h *PromptTemplatesHandler) write(err error) {
	if err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
