// Package repositories implements PostgreSQL data access for the engine's
// own metadata store. Each repository exposes an interface for dependency
// injection and maps database failures onto apperrors sentinels.
package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/datachat-io/datachat-engine/pkg/apperrors"
)

// Postgres error codes used for sentinel mapping.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapError converts driver errors to apperrors sentinels, passing
// everything else through.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperrors.ErrConflict
		case pgForeignKeyViolation:
			return apperrors.ErrValidation
		}
	}
	return err
}
