// Package web holds the request parsing helpers shared by domain handlers.
package web

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/emr/internal/platform/apierr"
)

// ParamUUID parses a path parameter as a UUID.
func ParamUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, apierr.Invalid(name, "general.invalidUuid", "invalid %s", name)
	}
	return id, nil
}

// QueryUUID parses an optional query parameter as a UUID.
func QueryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil, apierr.Invalid(name, "general.invalidUuid", "invalid %s", name)
	}
	return &id, nil
}

// QueryUUIDs parses a comma separated list of UUIDs.
func QueryUUIDs(c echo.Context, name string) ([]uuid.UUID, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	var out []uuid.UUID
	for _, part := range strings.Split(v, ",") {
		id, err := uuid.Parse(strings.TrimSpace(part))
		if err != nil {
			return nil, apierr.Invalid(name, "general.invalidUuid", "invalid %s", name)
		}
		out = append(out, id)
	}
	return out, nil
}

// QueryBool reads a boolean flag such as includeVoided. Missing means false.
func QueryBool(c echo.Context, name string) bool {
	b, _ := strconv.ParseBool(c.QueryParam(name))
	return b
}

// QueryTime parses an optional RFC 3339 timestamp or yyyy-MM-dd date.
func QueryTime(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	t, err := ParseTime(v)
	if err != nil {
		return nil, apierr.Invalid(name, "general.invalidDate", "invalid %s: %s", name, v)
	}
	return &t, nil
}

// ParseTime accepts RFC 3339 timestamps and plain dates.
func ParseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", v, err)
	}
	return t, nil
}

// SearchQuery returns the trimmed q parameter. A non-empty query shorter
// than minChars is rejected.
func SearchQuery(c echo.Context, minChars int) (string, error) {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q != "" && utf8.RuneCountInString(q) < minChars {
		return "", apierr.Invalid("q", "search.minSearchCharacters", "search query must have at least %d characters", minChars)
	}
	return q, nil
}

// Bind decodes the request body and maps decode failures to a validation error.
func Bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apierr.Invalid("body", "general.invalidBody", "invalid request body")
	}
	return nil
}

// Reason reads the void / retire reason from ?reason= or a JSON body
// {"reason": "..."}.
func Reason(c echo.Context) string {
	if r := c.QueryParam("reason"); r != "" {
		return r
	}
	var body struct {
		Reason string `json:"reason"`
	}
	_ = c.Bind(&body)
	return body.Reason
}

// Fail converts a service error into the HTTP error returned by handlers.
func Fail(err error) error {
	return apierr.HTTPError(err)
}
