package apperrors

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrValidation          = errors.New("validation failed")
	ErrDatasourceUnhealthy = errors.New("datasource connection unhealthy")
	ErrConnectionLimit     = errors.New("datasource connection limit reached")
	ErrCredentialsKey      = errors.New("datasource credentials were encrypted with a different key")
	ErrSyncInProgress      = errors.New("table sync already in progress")
)
