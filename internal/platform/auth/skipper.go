package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// openRoutes are reachable without credentials, keyed by route path and
// then method. An empty method set opens every method.
var openRoutes = map[string]map[string]bool{
	"/health":         nil,
	"/health/db":      nil,
	"/metrics":        nil,
	"/api/v1/session": {http.MethodPost: true, http.MethodGet: true},
}

// AuthSkipper reports whether a request may skip token checks. GET /session
// still authenticates when a bearer token is present so callers can read
// their own session.
func AuthSkipper(c echo.Context) bool {
	methods, ok := openRoutes[c.Path()]
	if !ok {
		return false
	}
	if methods == nil {
		return true
	}
	m := c.Request().Method
	if m == http.MethodGet && c.Request().Header.Get(echo.HeaderAuthorization) != "" {
		return false
	}
	return methods[m]
}
