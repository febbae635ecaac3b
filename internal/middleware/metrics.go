package middleware

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"cloudshark-relay/internal/metrics"
)

// MetricsMiddleware returns an Echo middleware that records Prometheus metrics
// for each inbound request. Preflights are counted like any other request.
func MetricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()

			err := next(c)

			// A returned *echo.HTTPError has not been written yet; the
			// central error handler will use its code.
			statusCode := c.Response().Status
			var he *echo.HTTPError
			if err != nil && errors.As(err, &he) {
				statusCode = he.Code
			}

			labels := []string{
				metrics.NormalizeMethod(c.Request().Method),
				strconv.Itoa(statusCode),
				metrics.NormalizePath(c.Request().URL.Path),
			}
			m.RequestsTotal.WithLabelValues(labels...).Inc()
			m.RequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())

			return err
		}
	}
}
