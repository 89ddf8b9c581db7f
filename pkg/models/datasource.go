package models

import (
	"time"

	"github.com/google/uuid"
)

// Datasource types understood by the adapter layer.
const (
	DatasourceTypePostgres  = "postgres"
	DatasourceTypeMySQL     = "mysql"
	DatasourceTypeSQLServer = "sqlserver"
)

// Datasource connection lifecycle states.
const (
	DatasourceStatusActive   = "active"
	DatasourceStatusDisabled = "disabled"
	DatasourceStatusError    = "error"
)

// Datasource represents a configured connection to a customer database.
// The Config field holds decrypted connection details (host, port, user,
// password, database); it is encrypted at rest by the service layer and
// masked in API responses.
type Datasource struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	DatasourceType string         `json:"datasource_type"`
	Description    string         `json:"description,omitempty"`
	Config         map[string]any `json:"config"`
	Status         string         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ValidDatasourceType reports whether t names a supported driver.
func ValidDatasourceType(t string) bool {
	switch t {
	case DatasourceTypePostgres, DatasourceTypeMySQL, DatasourceTypeSQLServer:
		return true
	}
	return false
}

// sensitiveConfigKeys are masked before a config leaves the API.
var sensitiveConfigKeys = map[string]bool{
	"password": true,
	"pwd":      true,
	"secret":   true,
	"api_key":  true,
}

// MaskedConfig returns a copy of the connection config with credential
// values replaced. Safe to embed in API responses and logs.
func (d *Datasource) MaskedConfig() map[string]any {
	masked := make(map[string]any, len(d.Config))
	for k, v := range d.Config {
		if sensitiveConfigKeys[k] {
			masked[k] = "******"
		} else {
			masked[k] = v
		}
	}
	return masked
}
