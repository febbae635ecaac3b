// Package service implements the relay: URL building, header selection and
// response classification for each CloudShark route.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/dustin/go-humanize"

	"cloudshark-relay/internal/config"
	"cloudshark-relay/internal/model"
)

var (
	// ErrResourceNotFound is returned when a route that special-cases 404 gets one upstream.
	ErrResourceNotFound = errors.New("resource not found")
	// ErrMalformedJSON is returned when the upstream declares JSON but the body does not parse.
	ErrMalformedJSON = errors.New("upstream returned malformed JSON")
	// ErrUnknownRoute is returned for a route name not in the route table.
	ErrUnknownRoute = errors.New("unknown route")
)

// allowedUpstreamHosts restricts which hosts the relay will forward to.
var allowedUpstreamHosts = map[string]bool{
	"www.cloudshark.org": true,
	"cloudshark.org":     true,
}

// jsonContentType is matched exactly; a charset suffix makes the body text.
const jsonContentType = "application/json"

const defaultTextContentType = "text/plain; charset=UTF-8"

const userAgent = "cloudshark-relay/1.0"

// Upstream fetches a URL from CloudShark.
type Upstream interface {
	Get(ctx context.Context, rawURL string, header http.Header) (*model.UpstreamResponse, error)
}

// RelayService builds and issues upstream requests for the relay routes.
// It holds only configuration fixed at construction.
type RelayService struct {
	upstream  Upstream
	logger    *slog.Logger
	baseURL   *url.URL
	captureID string
	browser   http.Header
	routes    []Route
}

// NewRelayService creates a RelayService.
func NewRelayService(u Upstream, cfg *config.Config, logger *slog.Logger) (*RelayService, error) {
	s, err := NewRelayServiceForTest(u, cfg, logger)
	if err != nil {
		return nil, err
	}

	if !allowedUpstreamHosts[s.baseURL.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", s.baseURL.Hostname())
	}
	return s, nil
}

// NewRelayServiceForTest creates a RelayService without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewRelayServiceForTest(u Upstream, cfg *config.Config, logger *slog.Logger) (*RelayService, error) {
	base, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream base_url %q must be absolute", cfg.Upstream.BaseURL)
	}

	captureID := cfg.Upstream.CaptureID
	if captureID == "" {
		captureID = config.DefaultUpstreamCapture
	}

	return &RelayService{
		upstream:  u,
		logger:    logger.With("component", "relay_service"),
		baseURL:   base,
		captureID: captureID,
		browser:   browserHeaders(base, captureID, cfg.Browser),
		routes:    newRoutes(captureID),
	}, nil
}

// Routes returns the relay route table.
func (s *RelayService) Routes() []Route {
	return append([]Route(nil), s.routes...)
}

// Route looks up a route by name.
func (s *RelayService) Route(name string) (Route, error) {
	for _, r := range s.routes {
		if r.Name == name {
			return r, nil
		}
	}
	return Route{}, fmt.Errorf("%w: %q", ErrUnknownRoute, name)
}

// CaptureID returns the capture the relay is bound to.
func (s *RelayService) CaptureID() string {
	return s.captureID
}

// Relay issues the single upstream GET for rr and classifies the response.
func (s *RelayService) Relay(rr *model.RelayRequest) (*model.RelayResponse, error) {
	route, err := s.Route(rr.Route)
	if err != nil {
		return nil, err
	}

	target := s.buildUpstreamURL(route, rr.Query)
	header := s.requestHeaders(route)

	s.logger.Debug("relaying request",
		"route", route.Name,
		"target", target,
		"headers", redactHeaders(header),
	)

	resp, err := s.upstream.Get(rr.Ctx, target, header)
	if err != nil {
		return nil, fmt.Errorf("relay %s: %w", route.Name, err)
	}

	contentType := resp.Header.Get("Content-Type")
	s.logger.Debug("upstream responded",
		"route", route.Name,
		"status", resp.StatusCode,
		"content_type", contentType,
		"size", humanize.Bytes(uint64(len(resp.Body))),
	)

	if route.NotFoundIsError && resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("relay %s: %w", route.Name, ErrResourceNotFound)
	}

	return classify(resp.StatusCode, contentType, resp.Body)
}

// classify parses declared-JSON bodies and passes everything else through as text.
func classify(status int, contentType string, body []byte) (*model.RelayResponse, error) {
	if contentType == jsonContentType {
		data, err := decodeJSON(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedJSON, err)
		}
		return &model.RelayResponse{
			StatusCode:  status,
			ContentType: jsonContentType,
			Body:        body,
			IsJSON:      true,
			Data:        data,
		}, nil
	}

	if contentType == "" {
		contentType = defaultTextContentType
	}
	return &model.RelayResponse{
		StatusCode:  status,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// decodeJSON parses a single JSON document, keeping numbers exact.
func decodeJSON(body []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// buildUpstreamURL joins the base URL with the route path and assembles the
// query: fixed literals, then the re-embedded parameter, then the caller's
// parameters (first value of each key, sorted by key).
func (s *RelayService) buildUpstreamURL(route Route, query url.Values) string {
	u := *s.baseURL
	u.Path = path.Join("/", u.Path, route.Path)
	u.RawPath = ""

	var parts []string
	if route.FixedQuery != "" {
		parts = append(parts, route.FixedQuery)
	}
	if route.EmbedParam != "" {
		parts = append(parts, url.QueryEscape(route.EmbedParam)+"="+url.QueryEscape(query.Get(route.EmbedParam)))
	}
	if caller := firstValues(query).Encode(); caller != "" {
		parts = append(parts, caller)
	}
	u.RawQuery = strings.Join(parts, "&")

	return u.String()
}

// firstValues keeps only the first value of each query key.
func firstValues(query url.Values) url.Values {
	out := make(url.Values, len(query))
	for k, v := range query {
		if len(v) > 0 {
			out[k] = v[:1]
		}
	}
	return out
}

func (s *RelayService) requestHeaders(route Route) http.Header {
	if route.Browser {
		return s.browser.Clone()
	}
	h := make(http.Header)
	h.Set("User-Agent", userAgent)
	return h
}

// browserHeaders builds the header set that makes autocomplete requests look
// like they come from the capture page in a desktop Chrome.
func browserHeaders(base *url.URL, captureID string, b config.BrowserConfig) http.Header {
	referer := *base
	referer.Path = path.Join("/", base.Path, capturePath(captureID))
	referer.RawQuery = ""

	h := make(http.Header)
	set := func(key, value string) {
		if value != "" {
			h.Set(key, value)
		}
	}
	set("Accept", b.Accept)
	set("Accept-Encoding", b.AcceptEncoding)
	set("Accept-Language", b.AcceptLanguage)
	if b.SessionCookie != "" {
		h.Set("Cookie", "_session_id="+b.SessionCookie)
	}
	set("Referer", referer.String())
	set("Sec-Ch-Ua", b.SecCHUA)
	set("Sec-Ch-Ua-Mobile", b.SecCHUAMobile)
	set("Sec-Ch-Ua-Platform", b.SecCHUAPlatform)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	set("User-Agent", b.UserAgent)
	h.Set("X-Requested-With", "XMLHttpRequest")
	return h
}

// redactHeaders returns a loggable copy of h with credential values masked.
func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vals := range h {
		v := strings.Join(vals, ", ")
		if k == "Cookie" || k == "Authorization" {
			v = "[REDACTED]"
		}
		out[k] = v
	}
	return out
}
