package handlers

import (
	"net/http"

	"go.uber.org/zap"
)

// HealthHandler serves liveness and version info.
type HealthHandler struct {
	version string
	logger  *zap.Logger
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(version string, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{version: version, logger: logger}
}

// RegisterRoutes registers the health endpoint. It is never behind auth.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	err := WriteJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
	if err != nil {
		h.logger.Error("Failed to write health response", zap.Error(err))
	}
}
