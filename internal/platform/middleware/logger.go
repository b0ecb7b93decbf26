package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/emr/internal/platform/auth"
)

func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			rid, _ := c.Get("request_id").(string)

			err := next(c)

			status := c.Response().Status
			evt := logger.Info()
			if err != nil {
				cause := err
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
					if he.Internal != nil {
						cause = he.Internal
					}
				} else {
					status = 500
				}
				if status >= 500 {
					evt = logger.Error().Err(cause)
				} else {
					evt = logger.Warn().Err(cause)
				}
			}

			evt.
				Str("request_id", rid).
				Str("user", auth.UserIDFromContext(req.Context())).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			return err
		}
	}
}
