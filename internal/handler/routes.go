package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, relay *RelayHandler, health *HealthHandler) {
	e.GET("/healthz", health.Healthz)
	e.GET("/relay/status", health.Status)

	for _, route := range relay.service.Routes() {
		e.GET(route.Path, relay.Handle(route))
	}
}
