package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"cloudshark-relay/internal/config"
	"cloudshark-relay/internal/service"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
	routes  []string
}

type statusResponse struct {
	Status      string   `json:"status"`
	Version     string   `json:"version"`
	UpstreamURL string   `json:"upstream_url"`
	CaptureID   string   `json:"capture_id"`
	Routes      []string `json:"routes"`
}

// NewHealthHandler creates a HealthHandler. The relay's route paths are
// captured once for the status report.
func NewHealthHandler(cfg *config.Config, v Version, relay *service.RelayService) *HealthHandler {
	var routes []string
	for _, r := range relay.Routes() {
		routes = append(routes, r.Path)
	}
	return &HealthHandler{cfg: cfg, version: v, routes: routes}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the build version, the capture the relay fronts and the
// paths it serves.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:      "ok",
		Version:     string(h.version),
		UpstreamURL: h.cfg.Upstream.BaseURL,
		CaptureID:   h.cfg.Upstream.CaptureID,
		Routes:      h.routes,
	})
}
