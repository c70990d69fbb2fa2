// Package registration announces lkmap to a service registry and keeps the
// entry alive with heartbeats. Registration is optional: the server runs the
// same whether or not the registry answers.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/NERVsystems/lkmap/pkg/core"
)

const (
	// DefaultHeartbeatInterval is the default interval between heartbeats
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultTimeout bounds each registry request
	DefaultTimeout = 5 * time.Second
)

// Config describes the service entry
type Config struct {
	RegistryURL       string
	ServiceName       string
	ServiceType       string
	ServiceURL        string
	HealthURL         string
	InternalURL       string
	InternalHealthURL string
	Version           string
	Capabilities      []string
	Tools             []string
	Metadata          map[string]any

	HeartbeatInterval time.Duration
	Timeout           time.Duration
}

// Entry is the registry's view of a service
type Entry struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	URL            string         `json:"url"`
	HealthURL      string         `json:"health_url"`
	InternalURL    string         `json:"internal_url,omitempty"`
	InternalHealth string         `json:"internal_health_url,omitempty"`
	Version        string         `json:"version"`
	Capabilities   []string       `json:"capabilities,omitempty"`
	Tools          []string       `json:"tools,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Lease is the registry's answer to a registration
type Lease struct {
	Status          string    `json:"status"`
	Name            string    `json:"name"`
	TTLSeconds      int       `json:"ttl_seconds"`
	NextHeartbeatBy time.Time `json:"next_heartbeat_by"`
}

// Client registers the service and sends heartbeats until stopped
type Client struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.RWMutex
	registered bool
}

// NewClient creates a registration client
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ServiceType == "" {
		cfg.ServiceType = "mcp"
	}
	cfg.RegistryURL = strings.TrimSuffix(cfg.RegistryURL, "/")
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "registration"),
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) entry() Entry {
	return Entry{
		Name:           c.cfg.ServiceName,
		Type:           c.cfg.ServiceType,
		URL:            c.cfg.ServiceURL,
		HealthURL:      c.cfg.HealthURL,
		InternalURL:    c.cfg.InternalURL,
		InternalHealth: c.cfg.InternalHealthURL,
		Version:        c.cfg.Version,
		Capabilities:   c.cfg.Capabilities,
		Tools:          c.cfg.Tools,
		Metadata:       c.cfg.Metadata,
	}
}

// Start registers in the background and returns immediately
func (c *Client) Start(ctx context.Context) {
	if c.cfg.RegistryURL == "" {
		c.logger.Warn("service registration enabled but no registry URL configured")
		return
	}

	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.heartbeatLoop(ctx)
}

// Stop deregisters the service and ends the heartbeat loop
func (c *Client) Stop() {
	if c.cancel == nil {
		return
	}

	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
	defer cancel()
	if err := c.Deregister(ctx); err != nil {
		c.logger.Debug("deregistration failed (registry may be unavailable)", "error", err)
	}
}

// IsRegistered reports whether the last registration succeeded
func (c *Client) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	c.heartbeat(ctx)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.heartbeat(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	wasRegistered := c.IsRegistered()
	lease, err := c.Register(ctx)
	if err != nil {
		if wasRegistered {
			c.logger.Warn("lost registration", "error", err)
		} else {
			c.logger.Debug("registration failed (registry may be unavailable)", "error", err)
		}
		return
	}
	if !wasRegistered {
		c.logger.Info("registered with service registry",
			"name", lease.Name,
			"ttl_seconds", lease.TTLSeconds)
	}
}

// Register sends one registration or heartbeat request
func (c *Client) Register(ctx context.Context) (Lease, error) {
	body, err := json.Marshal(c.entry())
	if err != nil {
		c.setRegistered(false)
		return Lease{}, err
	}

	factory := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, c.cfg.RegistryURL+"/api/register", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	resp, err := core.WithRetryFactory(ctx, factory, c.client, core.SingleAttempt)
	if err != nil {
		c.setRegistered(false)
		return Lease{}, err
	}
	defer resp.Body.Close()

	var lease Lease
	if err := json.NewDecoder(resp.Body).Decode(&lease); err != nil {
		c.setRegistered(false)
		return Lease{}, core.NewError(core.ErrParseError, "registry returned an unreadable lease: "+err.Error())
	}

	c.setRegistered(true)
	return lease, nil
}

// Deregister removes the service entry
func (c *Client) Deregister(ctx context.Context) error {
	factory := func() (*http.Request, error) {
		return http.NewRequest(http.MethodDelete, c.cfg.RegistryURL+"/api/register/"+c.cfg.ServiceName, nil)
	}
	resp, err := core.WithRetryFactory(ctx, factory, c.client, core.SingleAttempt)
	if err != nil {
		return err
	}
	resp.Body.Close()

	c.setRegistered(false)
	c.logger.Info("deregistered from service registry", "name", c.cfg.ServiceName)
	return nil
}

func (c *Client) setRegistered(registered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = registered
}
