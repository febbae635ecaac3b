package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/captures/:id/tf/status", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/captures/abc/tf/status?x=1", http.NoBody)
	req.Header.Set("Origin", "https://viewer.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	out := buf.String()
	for _, want := range []string{
		"level=INFO",
		"path=/captures/abc/tf/status",
		"route=/captures/:id/tf/status",
		`query="x=1"`,
		"status=200",
		"origin=https://viewer.example",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestRequestLogger_HTTPError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := echo.New()
	e.Use(RequestLogger(logger))
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "down")
	})

	req := httptest.NewRequest(http.MethodGet, "/fail", http.NoBody)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("expected warn level, got: %s", out)
	}
	if !strings.Contains(out, "status=503") {
		t.Errorf("expected status=503, got: %s", out)
	}
}
