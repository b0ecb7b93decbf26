package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/emr/internal/platform/apierr"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
)

// MapError translates driver errors into apierr kinds: no rows becomes
// NotFound, unique violations Conflict, foreign key violations on delete
// Conflict ("still referenced").
func MapError(err error, entity string, id interface{}) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apierr.NotFound(entity, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return apierr.Conflict(entity+".duplicate", "%s already exists (%s)", entity, pgErr.ConstraintName)
		case codeForeignKeyViolation:
			return apierr.Conflict(entity+".inUse", "%s %v is still referenced (%s)", entity, id, pgErr.ConstraintName)
		}
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

// ExpectRow checks the result of a single-row UPDATE or DELETE: driver
// errors go through MapError and zero affected rows become NotFound.
func ExpectRow(tag pgconn.CommandTag, err error, entity string, id interface{}) error {
	if err != nil {
		return MapError(err, entity, id)
	}
	if tag.RowsAffected() == 0 {
		return apierr.NotFound(entity, id)
	}
	return nil
}
