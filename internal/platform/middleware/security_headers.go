package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityHeaders marks every response as uncacheable and not embeddable.
// Attachment downloads under /api/v1/storage may be framed by the same
// origin so the clinical UI can preview them.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set(echo.HeaderXContentTypeOptions, "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			if strings.HasPrefix(c.Request().URL.Path, "/api/v1/storage/") {
				h.Set(echo.HeaderXFrameOptions, "SAMEORIGIN")
				h.Set(echo.HeaderContentSecurityPolicy, "default-src 'none'; frame-ancestors 'self'")
			} else {
				h.Set(echo.HeaderXFrameOptions, "DENY")
				h.Set(echo.HeaderContentSecurityPolicy, "default-src 'none'; frame-ancestors 'none'")
			}
			return next(c)
		}
	}
}
