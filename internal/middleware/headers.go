// Package middleware provides Echo middleware for CORS, security headers,
// request logging and metrics.
package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// corsHeaders is the fixed header triple written on every response.
var corsHeaders = [][2]string{
	{echo.HeaderAccessControlAllowOrigin, "*"},
	{echo.HeaderAccessControlAllowMethods, http.MethodGet},
	{echo.HeaderAccessControlAllowHeaders, echo.HeaderContentType},
}

var securityHeaders = [][2]string{
	{echo.HeaderXContentTypeOptions, "nosniff"},
	{echo.HeaderXFrameOptions, "DENY"},
}

// hopByHopHeaders are headers that must not travel past this hop.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// CORS returns a middleware that writes the permissive CORS triple before the
// handler runs, so error responses carry it as well. Preflight OPTIONS
// requests are answered directly with 204.
func CORS() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range corsHeaders {
				h.Set(kv[0], kv[1])
			}

			if c.Request().Method == http.MethodOptions {
				return c.NoContent(http.StatusNoContent)
			}
			return next(c)
		}
	}
}

// SecurityHeaders returns a middleware that strips hop-by-hop headers from the
// inbound request and sets nosniff/frame-deny on the response.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			h := c.Response().Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			return next(c)
		}
	}
}
