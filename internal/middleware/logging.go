package middleware

import (
	"errors"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestLogger returns an Echo middleware that logs each request with slog.
// Requests whose handler returned an error are logged at warn.
func RequestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			req := c.Request()
			res := c.Response()

			status := res.Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				status = he.Code
			}

			level := slog.LevelInfo
			if err != nil {
				level = slog.LevelWarn
			}

			logger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"route", c.Path(),
				"query", req.URL.RawQuery,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", res.Header().Get(echo.HeaderXRequestID),
				"remote_ip", c.RealIP(),
				"origin", req.Header.Get(echo.HeaderOrigin),
				"bytes_out", res.Size,
			)

			return err
		}
	}
}
