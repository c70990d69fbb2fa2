package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/tools"
	"github.com/NERVsystems/lkmap/pkg/version"
)

const (
	// MCPServerName is the name the MCP server announces
	MCPServerName = "lkmap"

	// SSEEndpoint and MessageEndpoint are the MCP HTTP+SSE transport paths
	SSEEndpoint     = "/mcp/sse"
	MessageEndpoint = "/mcp/message"
)

// NewMCPServer creates an MCP server with every lkmap tool registered
func NewMCPServer(registry *tools.Registry) *mcpserver.MCPServer {
	srv := mcpserver.NewMCPServer(
		MCPServerName,
		version.BuildVersion,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	registry.RegisterTools(srv)
	return srv
}

// Stdio serves an MCP server over stdin/stdout.
type Stdio struct {
	srv          *mcpserver.MCPServer
	logger       *slog.Logger
	stopCh       chan struct{}
	doneCh       chan struct{}
	running      bool
	mu           sync.Mutex
	once         sync.Once
	ctxCancel    context.CancelFunc
	ctxGoroutine sync.Once
}

// NewStdio wraps srv for the stdio transport
func NewStdio(srv *mcpserver.MCPServer, logger *slog.Logger) *Stdio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stdio{
		srv:    srv,
		logger: logger.With("component", "mcp_stdio"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Run serves until stdin closes or Shutdown is called
func (s *Stdio) Run() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.doneCh)
		err := mcpserver.ServeStdio(s.srv)
		if err != nil && err != io.EOF {
			s.logger.Error("stdio server error", "error", err)
		}

		// stdin closed: let Run return
		s.Shutdown()
	}()

	<-s.stopCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	<-s.doneCh
	return nil
}

// RunWithContext is Run with shutdown on context cancellation
func (s *Stdio) RunWithContext(ctx context.Context) error {
	s.ctxGoroutine.Do(func() {
		derived, cancel := context.WithCancel(ctx)
		s.ctxCancel = cancel

		go func() {
			select {
			case <-derived.Done():
				s.Shutdown()
			case <-s.stopCh:
			}
		}()
	})

	return s.Run()
}

// Shutdown asks Run to return. It does not block.
func (s *Stdio) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.once.Do(func() {
		close(s.stopCh)
	})

	if s.ctxCancel != nil {
		s.ctxCancel()
	}
}

// mcpAuth guards the MCP endpoints with the configured authentication
func (s *Server) mcpAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		switch s.cfg.AuthType {
		case AuthBearer:
			err = core.CheckBearer(r, s.cfg.AuthToken)
		case AuthBasic:
			err = core.CheckBasic(r, s.cfg.AuthToken)
		}

		if err != nil {
			s.logger.Warn("authentication failed",
				"remote_addr", getIP(r),
				"path", r.URL.Path,
				"auth_type", s.cfg.AuthType,
				"error", err)
			if s.cfg.AuthType == AuthBasic {
				w.Header().Set("WWW-Authenticate", `Basic realm="lkmap"`)
			} else {
				w.Header().Set("WWW-Authenticate", "Bearer")
			}
			s.writeJSONRPCError(w, -32001, "Authentication required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSONRPCError writes a JSON-RPC error response
func (s *Server) writeJSONRPCError(w http.ResponseWriter, code int, message string) {
	response := map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	}
	s.writeJSON(w, http.StatusUnauthorized, response)
}

// handleDiscovery tells MCP clients where the transport endpoints are
func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	baseURL := s.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if r.TLS != nil || s.cfg.ForceHTTPS {
			scheme = "https"
		}
		baseURL = scheme + "://" + r.Host
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"service":   MCPServerName,
		"transport": "HTTP+SSE",
		"endpoints": map[string]string{
			"sse":     baseURL + SSEEndpoint,
			"message": baseURL + MessageEndpoint,
		},
		"tools": s.tools.GetToolNames(),
		"auth": map[string]any{
			"required": s.cfg.AuthType != AuthNone,
		},
	})
}
