package server

import (
	"time"

	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/mapview"
)

// Authentication types accepted on the MCP endpoints
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
)

// Config holds configuration for the web server
type Config struct {
	Addr            string        `json:"addr"`              // HTTP server address (e.g., ":7082")
	BaseURL         string        `json:"base_url"`          // Public base URL, used for MCP endpoint discovery
	DataDir         string        `json:"data_dir"`          // Directory holding the boundary files
	BoundaryBaseURL string        `json:"boundary_base_url"` // Remote boundary host; DataDir is used when empty
	SessionCapacity int           `json:"session_capacity"`  // Maximum number of open map views
	SelectWait      time.Duration `json:"select_wait"`       // How long a selection waits for its loads before redirecting
	RenderWidth     int           `json:"render_width"`      // Map image width in pixels
	RenderHeight    int           `json:"render_height"`     // Map image height in pixels
	RateLimit       float64       `json:"rate_limit"`        // Requests per second per IP (0 = disabled)
	RateBurst       int           `json:"rate_burst"`        // Burst size for rate limiter
	MaxRequestSize  int64         `json:"max_request_size"`  // Maximum request body size in bytes
	MaxHeaderBytes  int           `json:"max_header_bytes"`  // Maximum header size in bytes
	AuthType        string        `json:"auth_type"`         // MCP authentication: "bearer", "basic", "none"
	AuthToken       string        `json:"auth_token"`        // MCP authentication token
	TLSCertFile     string        `json:"tls_cert_file"`     // Path to TLS certificate file
	TLSKeyFile      string        `json:"tls_key_file"`      // Path to TLS private key file
	ForceHTTPS      bool          `json:"force_https"`       // Force HTTPS redirect for HTTP requests
	Map             mapview.Options
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Addr:            ":7082",
		DataDir:         "data",
		SessionCapacity: 256,
		SelectWait:      10 * time.Second,
		RenderWidth:     800,
		RenderHeight:    900,
		RateLimit:       10,       // 10 requests per second per IP
		RateBurst:       40,       // a page view pulls the page and its image
		MaxRequestSize:  1 << 20,  // 1 MB
		MaxHeaderBytes:  1 << 20,  // 1 MB
		AuthType:        AuthNone, // MCP endpoints are open by default
		Map:             mapview.DefaultOptions(),
	}
}

// Validate checks the configuration and fills zero values from DefaultConfig
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Addr == "" {
		c.Addr = def.Addr
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.SessionCapacity <= 0 {
		c.SessionCapacity = def.SessionCapacity
	}
	if c.SelectWait <= 0 {
		c.SelectWait = def.SelectWait
	}
	if c.RenderWidth <= 0 || c.RenderHeight <= 0 {
		c.RenderWidth, c.RenderHeight = def.RenderWidth, def.RenderHeight
	}
	if c.RenderWidth > mapview.MaxRenderSize || c.RenderHeight > mapview.MaxRenderSize {
		return core.NewValidationError(core.ErrInvalidParameter, "render size exceeds the maximum image size")
	}
	if c.MaxRequestSize <= 0 {
		c.MaxRequestSize = def.MaxRequestSize
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if c.Map.Zoom == 0 {
		c.Map = def.Map
	}

	switch c.AuthType {
	case "":
		c.AuthType = AuthNone
	case AuthNone:
	case AuthBearer, AuthBasic:
		if c.AuthToken == "" {
			return core.NewValidationError(core.ErrMissingParameter, "auth token is required for "+c.AuthType+" authentication")
		}
	default:
		return core.NewValidationError(core.ErrInvalidParameter, "unknown auth type "+c.AuthType).
			WithSuggestions(AuthNone, AuthBearer, AuthBasic)
	}

	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return core.NewValidationError(core.ErrInvalidParameter, "TLS needs both a certificate and a key file")
	}
	return nil
}

// BoundarySource names where boundary files are read from
func (c *Config) BoundarySource() string {
	if c.BoundaryBaseURL != "" {
		return c.BoundaryBaseURL
	}
	return c.DataDir
}
