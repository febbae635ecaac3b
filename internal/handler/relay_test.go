package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"cloudshark-relay/internal/client"
	"cloudshark-relay/internal/config"
	"cloudshark-relay/internal/metrics"
	"cloudshark-relay/internal/service"
)

// newTestRelay wires a RelayHandler against an httptest upstream.
func newTestRelay(t *testing.T, upstream *httptest.Server) *RelayHandler {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			BaseURL:         upstream.URL,
			CaptureID:       "ca3302fd7d41",
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
		Browser: config.BrowserConfig{
			SessionCookie: "86f4b1259ccebcadcf9f99c750f60be2",
			UserAgent:     config.DefaultUserAgent,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := client.NewCloudSharkClient(cfg, logger, nil)
	svc, err := service.NewRelayServiceForTest(c, cfg, logger)
	if err != nil {
		t.Fatalf("NewRelayServiceForTest: %v", err)
	}
	return NewRelayHandler(svc, logger, nil)
}

func serveRoute(t *testing.T, h *RelayHandler, name, target string) *httptest.ResponseRecorder {
	t.Helper()
	route, err := h.service.Route(name)
	if err != nil {
		t.Fatalf("Route(%q): %v", name, err)
	}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(route)(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	return rec
}

func TestRelayHandler_JSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/captures/ca3302fd7d41/tf/status" {
			t.Errorf("upstream path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("token") != "abc" {
			t.Errorf("token = %q, want %q", r.URL.Query().Get("token"), "abc")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	h := newTestRelay(t, upstream)
	rec := serveRoute(t, h, service.RouteStatus, "/captures/ca3302fd7d41/tf/status?token=abc")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(body, map[string]any{"ok": true}) {
		t.Errorf("body = %#v, want {ok:true}", body)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, echo.MIMEApplicationJSON) {
		t.Errorf("Content-Type = %q, want %q", ct, echo.MIMEApplicationJSON)
	}
}

func TestRelayHandler_JSONNumbersPreserved(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"frame":12345678901234567890}`))
	}))
	defer upstream.Close()

	h := newTestRelay(t, upstream)
	rec := serveRoute(t, h, service.RouteDecode, "/captures/ca3302fd7d41/tf/decode")

	var body map[string]json.Number
	dec := json.NewDecoder(rec.Body)
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["frame"] != "12345678901234567890" {
		t.Errorf("frame = %q, want exact integer", body["frame"])
	}
}

func TestRelayHandler_TextPassthrough(t *testing.T) {
	for _, name := range []string{service.RouteStatus, service.RoutePackets, service.RouteDecode, service.RouteFilterCheck, service.RouteFields} {
		t.Run(name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte("error"))
			}))
			defer upstream.Close()

			h := newTestRelay(t, upstream)
			route, _ := h.service.Route(name)
			rec := serveRoute(t, h, name, route.Path)

			if rec.Code != http.StatusInternalServerError {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
			}
			if rec.Body.String() != "error" {
				t.Errorf("body = %q, want %q", rec.Body.String(), "error")
			}
		})
	}
}

func TestRelayHandler_JSONWithCharsetIsText(t *testing.T) {
	const raw = `{"b": 2,  "a": 1}`
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(raw))
	}))
	defer upstream.Close()

	h := newTestRelay(t, upstream)
	rec := serveRoute(t, h, service.RoutePackets, "/captures/ca3302fd7d41/tf/packets")

	if rec.Body.String() != raw {
		t.Errorf("body = %q, want byte-for-byte %q", rec.Body.String(), raw)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want upstream value", ct)
	}
}

func TestRelayHandler_FieldsNotFound(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "foo" {
			t.Errorf("q = %q, want %q", r.URL.Query().Get("q"), "foo")
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<h1>Not Found</h1>"))
	}))
	defer upstream.Close()

	h := newTestRelay(t, upstream)
	rec := serveRoute(t, h, service.RouteFields, "/autocomplete/fields?q=foo")

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["error"] != "Resource not found" || len(body) != 1 {
		t.Errorf("body = %v, want {error: Resource not found}", body)
	}
}

func TestRelayHandler_MalformedJSON(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"truncated":`))
	}))
	defer upstream.Close()

	h := newTestRelay(t, upstream)
	rec := serveRoute(t, h, service.RouteStatus, "/captures/ca3302fd7d41/tf/status")

	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestRelayHandler_CanceledContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	h := newTestRelay(t, upstream)
	route, _ := h.service.Route(service.RouteStatus)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, route.Path, http.NoBody)
	ctx, cancel := context.WithCancel(req.Context())
	cancel()
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Handle(route)(c); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadGateway)
	}
}

func TestRelayHandler_mapError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantReason string
	}{
		{
			name:       "not found",
			err:        fmt.Errorf("relay fields: %w", service.ErrResourceNotFound),
			wantStatus: http.StatusNotFound,
			wantError:  "Resource not found",
			wantReason: "not_found",
		},
		{
			name:       "timeout",
			err:        fmt.Errorf("relay status: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantError:  "upstream request timed out",
			wantReason: "upstream_timeout",
		},
		{
			name:       "too large",
			err:        fmt.Errorf("read upstream body: %w", client.ErrResponseTooLarge),
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream response too large",
			wantReason: "too_large",
		},
		{
			name:       "unsupported encoding",
			err:        fmt.Errorf("decode upstream body: %w", client.ErrUnsupportedEncoding),
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream response encoding not supported",
			wantReason: "unsupported_encoding",
		},
		{
			name:       "dns",
			err:        fmt.Errorf("relay status: %w", &net.DNSError{Err: "no such host", Name: "www.cloudshark.org"}),
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream host unreachable",
			wantReason: "dns",
		},
		{
			name:       "url error",
			err:        fmt.Errorf("relay status: %w", &url.Error{Op: "Get", URL: "https://www.cloudshark.org", Err: fmt.Errorf("connection refused")}),
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream connection failed",
			wantReason: "connection",
		},
		{
			name:       "other",
			err:        fmt.Errorf("something else"),
			wantStatus: http.StatusBadGateway,
			wantError:  "upstream request failed",
			wantReason: "other",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			m := metrics.New()
			h := &RelayHandler{logger: logger, metrics: m}

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/captures/ca3302fd7d41/tf/status", http.NoBody)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			if err := h.mapError(c, tt.err); err != nil {
				t.Fatalf("mapError() returned error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if body["error"] != tt.wantError {
				t.Errorf("error = %q, want %q", body["error"], tt.wantError)
			}
			if got := failureCount(t, m, tt.wantReason); got != 1 {
				t.Errorf("failures{reason=%q} = %v, want 1", tt.wantReason, got)
			}
		})
	}
}

func failureCount(t *testing.T, m *metrics.Metrics, reason string) float64 {
	t.Helper()
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, f := range families {
		if f.GetName() != "cloudshark_relay_failures_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "reason" && lp.GetValue() == reason {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
