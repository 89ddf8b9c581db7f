package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

// ClaimsKey holds the validated *Claims in the request context.
const ClaimsKey contextKey = "auth_claims"

// ClaimsFromContext returns the validated claims, or nil when the request
// went through an unauthenticated route.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(ClaimsKey).(*Claims)
	return claims
}

// Middleware enforces bearer-token authentication on API routes.
type Middleware struct {
	validator TokenValidator
	enabled   bool
	logger    *zap.Logger
}

// NewMiddleware creates the auth middleware. When enabled is false every
// request passes through without claims.
func NewMiddleware(validator TokenValidator, enabled bool, logger *zap.Logger) *Middleware {
	return &Middleware{
		validator: validator,
		enabled:   enabled,
		logger:    logger.Named("auth"),
	}
}

// RequireAuth validates the Authorization header and stores claims in the
// request context.
func (m *Middleware) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	if !m.enabled {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			m.unauthorized(w, "Missing bearer token")
			return
		}
		claims, err := m.validator.ValidateToken(token)
		if err != nil {
			m.logger.Debug("token rejected", zap.Error(err))
			m.unauthorized(w, "Invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), ClaimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
