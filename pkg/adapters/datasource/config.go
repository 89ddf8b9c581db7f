package datasource

import (
	"fmt"
	"net/url"
	"strconv"
)

// ConnConfig is the decrypted connection configuration of a datasource.
type ConnConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	// SSLMode applies to PostgreSQL ("disable", "require", ...).
	SSLMode string
	// Encrypt applies to SQL Server ("disable", "true", "false").
	Encrypt string
}

// ConfigFromMap builds a ConnConfig from the decrypted config blob stored
// on the datasource record.
func ConfigFromMap(m map[string]any) (ConnConfig, error) {
	cfg := ConnConfig{
		Host:     asString(m["host"]),
		User:     asString(m["user"]),
		Password: asString(m["password"]),
		Database: asString(m["database"]),
		SSLMode:  asString(m["sslmode"]),
		Encrypt:  asString(m["encrypt"]),
	}
	if cfg.Host == "" {
		return cfg, fmt.Errorf("config missing host")
	}
	if cfg.Database == "" {
		return cfg, fmt.Errorf("config missing database")
	}

	switch p := m["port"].(type) {
	case float64: // JSON numbers decode as float64
		cfg.Port = int(p)
	case int:
		cfg.Port = p
	case string:
		if p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return cfg, fmt.Errorf("invalid port %q", p)
			}
			cfg.Port = port
		}
	}
	return cfg, nil
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// postgresURL renders a postgres:// connection URL.
func (c ConnConfig) postgresURL() string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// mysqlDSN renders a go-sql-driver DSN.
func (c ConnConfig) mysqlDSN() string {
	port := c.Port
	if port == 0 {
		port = 3306
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		c.User, c.Password, c.Host, port, c.Database)
}

// mssqlURL renders a sqlserver:// connection URL.
func (c ConnConfig) mssqlURL() string {
	port := c.Port
	if port == 0 {
		port = 1433
	}
	u := url.URL{
		Scheme: "sqlserver",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, port),
	}
	q := url.Values{}
	q.Set("database", c.Database)
	if c.Encrypt != "" {
		q.Set("encrypt", c.Encrypt)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
