package middleware

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
)

// Logger logs each request with method, path, status, and duration.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			fields := map[string]any{
				"method":   c.Request().Method,
				"path":     c.Request().URL.Path,
				"status":   c.Response().Status,
				"duration": time.Since(start).String(),
			}

			log := logger.WithContext(c.Request().Context()).WithFields(fields)
			if err != nil {
				log.WithError(err).Warn("request completed with error")
			} else {
				log.Info("request completed")
			}

			return err
		}
	}
}
