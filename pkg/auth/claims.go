// Package auth validates JWT bearer tokens against configured JWKS
// endpoints.
package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the JWT claims the engine cares about. Anything beyond the
// registered set is ignored.
type Claims struct {
	jwt.RegisteredClaims

	// Email is informational, for audit logging only.
	Email string `json:"email,omitempty"`
}

// UserID returns the stable identifier for the authenticated user.
func (c *Claims) UserID() string {
	return c.Subject
}
