// Package apierr defines the error kinds shared by every domain service and
// the single place where they are translated into HTTP responses.
package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Error kinds. Domain errors wrap exactly one of these.
var (
	ErrNotFound       = errors.New("not found")
	ErrValidation     = errors.New("validation failed")
	ErrConflict       = errors.New("conflict")
	ErrLocked         = errors.New("locked")
	ErrForbidden      = errors.New("forbidden")
	ErrAuthentication = errors.New("authentication failed")
)

// Error is a domain error carrying a kind, a stable message code and an
// optional field name.
type Error struct {
	Kind    error  `json:"-"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Kind }

func newError(kind error, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity, e.g. NotFound("patient", id).
func NotFound(entity string, id interface{}) *Error {
	return newError(ErrNotFound, entity+".notFound", "%s %v not found", entity, id)
}

// Invalid reports a rule violation on a field.
func Invalid(field, code, format string, args ...interface{}) *Error {
	e := newError(ErrValidation, code, format, args...)
	e.Field = field
	return e
}

// Conflict reports a uniqueness or referential conflict.
func Conflict(code, format string, args ...interface{}) *Error {
	return newError(ErrConflict, code, format, args...)
}

// Locked reports an operation refused because the target is locked.
func Locked(code, format string, args ...interface{}) *Error {
	return newError(ErrLocked, code, format, args...)
}

// Forbidden reports a missing privilege.
func Forbidden(privilege string) *Error {
	e := newError(ErrForbidden, "privilege.required", "privilege required: %s", privilege)
	return e
}

// Unauthenticated reports bad credentials or a locked-out account.
func Unauthenticated(code, format string, args ...interface{}) *Error {
	return newError(ErrAuthentication, code, format, args...)
}

// Status returns the HTTP status for err.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrLocked):
		return http.StatusLocked
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrAuthentication):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError converts a service error into an echo error. Internal errors
// are not echoed back to the client.
func HTTPError(err error) *echo.HTTPError {
	status := Status(err)
	if status == http.StatusInternalServerError {
		he := echo.NewHTTPError(status, "internal server error")
		he.Internal = err
		return he
	}
	var de *Error
	if errors.As(err, &de) {
		return echo.NewHTTPError(status, map[string]string{
			"code":    de.Code,
			"field":   de.Field,
			"message": de.Message,
		})
	}
	return echo.NewHTTPError(status, err.Error())
}
