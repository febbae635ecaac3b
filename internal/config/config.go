// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/alecthomas/kong"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/cloudshark-relay/config.toml",
	"configs/config.toml",
}

// reservedRoutes are path prefixes served by the relay itself.
var reservedRoutes = []string{"/captures", "/autocomplete", "/healthz", "/relay/status"}

var captureIDPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Browser identity defaults sent on the fields autocomplete route.
const (
	DefaultUserAgent        = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36"
	DefaultAccept           = "application/json, text/javascript, */*; q=0.01"
	DefaultAcceptEncoding   = "gzip, deflate, br, zstd"
	DefaultAcceptLanguage   = "zh-CN,zh;q=0.9"
	DefaultSecCHUA          = `"Chromium";v="130", "Google Chrome";v="130", "Not?A_Brand";v="99"`
	DefaultSecCHUAMobile    = "?0"
	DefaultSecCHUAPlatform  = `"macOS"`
	DefaultUpstreamBaseURL  = "https://www.cloudshark.org"
	DefaultUpstreamCapture  = "ca3302fd7d41"
	DefaultMaxResponseBytes = 32 * 1024 * 1024
)

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config        string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host          string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port          int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	CaptureID     string `kong:"help='CloudShark capture id (overrides config).',env='CAPTURE_ID'"`
	SessionCookie string `kong:"help='CloudShark _session_id cookie value (overrides config).',env='SESSION_COOKIE'"`
	LogLevel      string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`

	Version kong.VersionFlag `kong:"help='Print version and exit.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Upstream UpstreamConfig `toml:"upstream"`
	Browser  BrowserConfig  `toml:"browser"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"` // 0 means "use default" (8000)
	BodyMaxBytes int64  `toml:"body_max_bytes"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	BaseURL          string `toml:"base_url"`
	CaptureID        string `toml:"capture_id"`
	TimeoutSeconds   int    `toml:"timeout_seconds"`
	IdleConnections  int    `toml:"idle_connections"`
	MaxResponseBytes int64  `toml:"max_response_bytes"`
}

// BrowserConfig is the browser identity presented on the autocomplete route.
type BrowserConfig struct {
	SessionCookie   string `toml:"session_cookie"`
	UserAgent       string `toml:"user_agent"`
	Accept          string `toml:"accept"`
	AcceptEncoding  string `toml:"accept_encoding"`
	AcceptLanguage  string `toml:"accept_language"`
	SecCHUA         string `toml:"sec_ch_ua"`
	SecCHUAMobile   string `toml:"sec_ch_ua_mobile"`
	SecCHUAPlatform string `toml:"sec_ch_ua_platform"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/cloudshark-relay/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.CaptureID != "" {
		c.Upstream.CaptureID = cli.CaptureID
	}
	if cli.SessionCookie != "" {
		c.Browser.SessionCookie = cli.SessionCookie
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URL: optional (defaults to CloudShark) but must be HTTPS when set.
	if c.Upstream.BaseURL != "" {
		u, err := url.Parse(c.Upstream.BaseURL)
		if err != nil {
			return fmt.Errorf("upstream.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "https" {
			return fmt.Errorf("upstream.base_url must use HTTPS; got %q", c.Upstream.BaseURL)
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("upstream.base_url must not carry a query or fragment; got %q", c.Upstream.BaseURL)
		}
	}
	if c.Upstream.CaptureID != "" && !captureIDPattern.MatchString(c.Upstream.CaptureID) {
		return fmt.Errorf("upstream.capture_id must be alphanumeric; got %q", c.Upstream.CaptureID)
	}

	if strings.ContainsAny(c.Browser.SessionCookie, ";, \t\r\n") {
		return fmt.Errorf("browser.session_cookie must be a bare cookie value")
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Upstream.MaxResponseBytes < 0 {
		return fmt.Errorf("upstream.max_response_bytes must be non-negative; got %d", c.Upstream.MaxResponseBytes)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB
	}
	if c.Upstream.BaseURL == "" {
		c.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	c.Upstream.BaseURL = strings.TrimRight(c.Upstream.BaseURL, "/")
	if c.Upstream.CaptureID == "" {
		c.Upstream.CaptureID = DefaultUpstreamCapture
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.MaxResponseBytes == 0 {
		c.Upstream.MaxResponseBytes = DefaultMaxResponseBytes
	}
	c.Browser.setDefaults()
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

func (b *BrowserConfig) setDefaults() {
	if b.UserAgent == "" {
		b.UserAgent = DefaultUserAgent
	}
	if b.Accept == "" {
		b.Accept = DefaultAccept
	}
	if b.AcceptEncoding == "" {
		b.AcceptEncoding = DefaultAcceptEncoding
	}
	if b.AcceptLanguage == "" {
		b.AcceptLanguage = DefaultAcceptLanguage
	}
	if b.SecCHUA == "" {
		b.SecCHUA = DefaultSecCHUA
	}
	if b.SecCHUAMobile == "" {
		b.SecCHUAMobile = DefaultSecCHUAMobile
	}
	if b.SecCHUAPlatform == "" {
		b.SecCHUAPlatform = DefaultSecCHUAPlatform
	}
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or
// others. The file may hold the upstream session cookie.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
			"has_session_cookie", c.Browser.SessionCookie != "",
		)
	}
}
