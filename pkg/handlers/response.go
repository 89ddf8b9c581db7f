// Package handlers exposes the engine's HTTP API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/datachat-io/datachat-engine/pkg/apperrors"
)

// ApiResponse is the uniform envelope for every API reply.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes a JSON error envelope.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	return WriteJSON(w, statusCode, ApiResponse{
		Success: false,
		Error:   errorCode,
		Message: message,
	})
}

// ServiceError maps service-layer sentinel errors onto HTTP responses.
// Unrecognized errors become a 500 with a generic message so internals
// never leak to clients.
func ServiceError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", "Resource not found")
	case errors.Is(err, apperrors.ErrConflict):
		return ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrValidation):
		return ErrorResponse(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
	case errors.Is(err, apperrors.ErrSyncInProgress):
		return ErrorResponse(w, http.StatusConflict, "sync_in_progress", "A table sync is already running for this datasource")
	case errors.Is(err, apperrors.ErrConnectionLimit):
		return ErrorResponse(w, http.StatusServiceUnavailable, "connection_limit", "Datasource connection limit reached, try again shortly")
	case errors.Is(err, apperrors.ErrDatasourceUnhealthy):
		return ErrorResponse(w, http.StatusBadGateway, "datasource_unreachable", err.Error())
	case errors.Is(err, apperrors.ErrCredentialsKey):
		return ErrorResponse(w, http.StatusInternalServerError, "credentials_key_mismatch", "Stored credentials cannot be decrypted with the configured key")
	default:
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Internal server error")
	}
}

// PathUUID parses a UUID path segment.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

// Pagination reads limit/offset query params with sane bounds.
func Pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}

// DecodeJSON reads a request body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close() //nolint:errcheck
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// Paged wraps a list plus its total count.
type Paged struct {
	Items any `json:"items"`
	Total int `json:"total"`
}
