package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type stubValidator struct {
	claims *Claims
	err    error
}

func (s *stubValidator) ValidateToken(string) (*Claims, error) {
	return s.claims, s.err
}

func okHandler(called *bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	}
}

func TestRequireAuthDisabledPassesThrough(t *testing.T) {
	m := NewMiddleware(nil, false, zap.NewNop())
	var called bool

	req := httptest.NewRequest(http.MethodGet, "/api/datasources", nil)
	rec := httptest.NewRecorder()
	m.RequireAuth(okHandler(&called))(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAuthRejectsMissingToken(t *testing.T) {
	m := NewMiddleware(&stubValidator{}, true, zap.NewNop())
	var called bool

	req := httptest.NewRequest(http.MethodGet, "/api/datasources", nil)
	rec := httptest.NewRecorder()
	m.RequireAuth(okHandler(&called))(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthRejectsInvalidToken(t *testing.T) {
	m := NewMiddleware(&stubValidator{err: errors.New("expired")}, true, zap.NewNop())
	var called bool

	req := httptest.NewRequest(http.MethodGet, "/api/datasources", nil)
	req.Header.Set("Authorization", "Bearer bad-token")
	rec := httptest.NewRecorder()
	m.RequireAuth(okHandler(&called))(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthStoresClaims(t *testing.T) {
	m := NewMiddleware(&stubValidator{claims: &Claims{Email: "dev@example.com"}}, true, zap.NewNop())

	var got *Claims
	handler := func(w http.ResponseWriter, r *http.Request) {
		got = ClaimsFromContext(r.Context())
	}

	req := httptest.NewRequest(http.MethodGet, "/api/datasources", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	m.RequireAuth(handler)(httptest.NewRecorder(), req)

	assert.NotNil(t, got)
	assert.Equal(t, "dev@example.com", got.Email)
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := bearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Basic abc")
	_, ok = bearerToken(req)
	assert.False(t, ok)

	req.Header.Set("Authorization", "Bearer  tok123 ")
	tok, ok := bearerToken(req)
	assert.True(t, ok)
	assert.Equal(t, "tok123", tok)
}
