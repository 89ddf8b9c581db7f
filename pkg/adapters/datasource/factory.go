package datasource

import (
	"context"
	"fmt"

	"github.com/datachat-io/datachat-engine/pkg/models"
)

// New opens a connector for the given datasource type.
func New(ctx context.Context, dsType string, cfg ConnConfig, maxConns int) (Connector, error) {
	switch dsType {
	case models.DatasourceTypePostgres:
		return NewPostgresConnector(ctx, cfg, int32(maxConns))
	case models.DatasourceTypeMySQL:
		return NewMySQLConnector(cfg, maxConns)
	case models.DatasourceTypeSQLServer:
		return NewMSSQLConnector(cfg, maxConns)
	default:
		return nil, fmt.Errorf("unsupported datasource type: %q", dsType)
	}
}

// Dialect returns the SQL dialect name used in prompts for a datasource
// type.
func Dialect(dsType string) string {
	switch dsType {
	case models.DatasourceTypePostgres:
		return "PostgreSQL"
	case models.DatasourceTypeMySQL:
		return "MySQL"
	case models.DatasourceTypeSQLServer:
		return "SQL Server (T-SQL)"
	default:
		return "SQL"
	}
}
