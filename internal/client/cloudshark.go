// Package client provides the upstream HTTP client for CloudShark.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"cloudshark-relay/internal/config"
	"cloudshark-relay/internal/metrics"
	"cloudshark-relay/internal/model"
)

// ErrResponseTooLarge is returned when an upstream body exceeds upstream.max_response_bytes.
var ErrResponseTooLarge = errors.New("upstream response too large")

// CloudSharkClient sends requests to the upstream CloudShark site.
type CloudSharkClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
	maxBody    int64
}

// NewCloudSharkClient creates a CloudSharkClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewCloudSharkClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *CloudSharkClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxBody := cfg.Upstream.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = config.DefaultMaxResponseBytes
	}

	return &CloudSharkClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		logger:  logger.With("component", "cloudshark_client"),
		metrics: m,
		maxBody: maxBody,
	}
}

// Do executes an HTTP request against the upstream and reads the whole body.
// Content encodings the transport did not undo itself are decoded here, and
// the Content-Encoding and Content-Length headers are dropped afterwards.
func (c *CloudSharkClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start).Seconds()

	endpoint := metrics.NormalizeEndpoint(req.URL.Path)

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(duration)
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(endpoint).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(endpoint, status).Inc()
	}

	raw, err := readLimited(resp.Body, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}

	encoding := resp.Header.Get("Content-Encoding")
	body, err := decodeBody(encoding, raw, c.maxBody)
	if err != nil {
		return nil, fmt.Errorf("decode upstream body: %w", err)
	}
	if encoding != "" {
		resp.Header.Del("Content-Encoding")
		resp.Header.Del("Content-Length")
	}

	if c.metrics != nil {
		c.metrics.UpstreamBytes.WithLabelValues(metrics.NormalizeEncoding(encoding)).Add(float64(len(body)))
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// Get issues a body-less GET to rawURL with the given header set.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
func (c *CloudSharkClient) Get(ctx context.Context, rawURL string, header http.Header) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if header != nil {
		req.Header = header
	}

	return c.Do(req)
}

// readLimited reads r fully, failing with ErrResponseTooLarge past limit bytes.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, limit)
	}
	return b, nil
}
