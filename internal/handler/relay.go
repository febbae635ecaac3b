package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"cloudshark-relay/internal/client"
	"cloudshark-relay/internal/metrics"
	"cloudshark-relay/internal/model"
	"cloudshark-relay/internal/service"
)

// RelayHandler serves the CloudShark relay routes.
type RelayHandler struct {
	service *service.RelayService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelayHandler creates a RelayHandler. m may be nil.
func NewRelayHandler(svc *service.RelayService, logger *slog.Logger, m *metrics.Metrics) *RelayHandler {
	return &RelayHandler{
		service: svc,
		logger:  logger.With("component", "relay_handler"),
		metrics: m,
	}
}

// Handle returns the echo handler for one relay route. JSON bodies are
// re-encoded from the parsed value; anything else is written byte-for-byte.
func (h *RelayHandler) Handle(route service.Route) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		rr := &model.RelayRequest{
			Ctx:   req.Context(),
			Route: route.Name,
			Query: req.URL.Query(),
		}

		resp, err := h.service.Relay(rr)
		if err != nil {
			return h.mapError(c, err)
		}

		if resp.IsJSON {
			return c.JSON(resp.StatusCode, resp.Data)
		}
		return c.Blob(resp.StatusCode, resp.ContentType, resp.Body)
	}
}

func (h *RelayHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, service.ErrResourceNotFound) {
		h.logger.Info("upstream resource not found", "path", c.Request().URL.Path)
		return h.fail(c, http.StatusNotFound, "not_found", "Resource not found")
	}

	h.logger.Error("relay error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, context.DeadlineExceeded) {
		return h.fail(c, http.StatusGatewayTimeout, "upstream_timeout", "upstream request timed out")
	}

	if errors.Is(err, context.Canceled) {
		return h.fail(c, http.StatusBadGateway, "client_canceled", "client disconnected")
	}

	if errors.Is(err, service.ErrMalformedJSON) {
		return h.fail(c, http.StatusBadGateway, "malformed_json", "upstream returned malformed JSON")
	}

	if errors.Is(err, client.ErrResponseTooLarge) {
		return h.fail(c, http.StatusBadGateway, "too_large", "upstream response too large")
	}

	if errors.Is(err, client.ErrUnsupportedEncoding) {
		return h.fail(c, http.StatusBadGateway, "unsupported_encoding", "upstream response encoding not supported")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return h.fail(c, http.StatusBadGateway, "dns", "upstream host unreachable")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return h.fail(c, http.StatusBadGateway, "connection", "upstream connection failed")
	}

	return h.fail(c, http.StatusBadGateway, "other", "upstream request failed")
}

// fail counts the failure and writes the JSON error body.
func (h *RelayHandler) fail(c echo.Context, status int, reason, msg string) error {
	if h.metrics != nil {
		h.metrics.RelayFailures.WithLabelValues(reason).Inc()
	}
	return c.JSON(status, map[string]string{"error": msg})
}
