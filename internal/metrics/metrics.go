// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for relay latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the relay.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamBytes     *prometheus.CounterVec

	RelayFailures *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudshark_relay_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudshark_relay_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "cloudshark_relay_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cloudshark_relay_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds by CloudShark endpoint.",
			Buckets: defaultBuckets,
		}, []string{"endpoint"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudshark_relay_upstream_responses_total",
			Help: "Total upstream responses by CloudShark endpoint and status code.",
		}, []string{"endpoint", "status_code"}),

		UpstreamBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudshark_relay_upstream_response_bytes_total",
			Help: "Decoded upstream response bytes by content encoding.",
		}, []string{"encoding"}),

		RelayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cloudshark_relay_failures_total",
			Help: "Relay requests answered with an error instead of the upstream response.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamBytes,
		m.RelayFailures,
	)

	return m
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// knownPrefixes lists the allowed path label values (bounded cardinality).
var knownPrefixes = []string{"/captures", "/autocomplete", "/healthz", "/relay/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}

// upstreamEndpoints maps the last path segment of a CloudShark URL to its label.
var upstreamEndpoints = map[string]string{
	"status":      "tf/status",
	"packets":     "tf/packets",
	"decode":      "tf/decode",
	"filtercheck": "tf/filtercheck",
	"fields":      "autocomplete/fields",
}

// NormalizeEndpoint returns a bounded label for an upstream request path.
// Capture ids are dropped so every capture shares one series per endpoint.
func NormalizeEndpoint(path string) string {
	path = strings.TrimSuffix(path, "/")
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "other"
	}
	label, ok := upstreamEndpoints[path[i+1:]]
	if !ok || !strings.HasSuffix(path, "/"+label) {
		return "other"
	}
	return label
}

// knownEncodings lists the allowed content-encoding label values.
var knownEncodings = map[string]bool{
	"identity": true, "gzip": true, "deflate": true, "br": true, "zstd": true,
}

// NormalizeEncoding returns a bounded content-encoding label. An empty
// encoding is reported as "identity".
func NormalizeEncoding(enc string) string {
	enc = strings.ToLower(strings.TrimSpace(enc))
	if enc == "" {
		return "identity"
	}
	if knownEncodings[enc] {
		return enc
	}
	return "other"
}
