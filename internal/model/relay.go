// Package model defines request-scoped types shared by the relay layers.
package model

import (
	"context"
	"net/http"
	"net/url"
)

// RelayRequest is an inbound call to one of the relay routes.
type RelayRequest struct {
	Ctx   context.Context
	Route string
	Query url.Values
}

// UpstreamResponse is a fully read, content-decoded upstream response.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RelayResponse is what gets written back to the browser.
// Data holds the parsed body when IsJSON is set; Body always holds the raw bytes.
type RelayResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
	IsJSON      bool
	Data        any
}
