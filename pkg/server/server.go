// Package server provides the web surface of lkmap: the map pages, the JSON
// API, the boundary files, and the MCP HTTP+SSE transport.
package server

import (
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/mapview"
	"github.com/NERVsystems/lkmap/pkg/monitoring"
	"github.com/NERVsystems/lkmap/pkg/overlay"
	"github.com/NERVsystems/lkmap/pkg/tools"
)

// Deps are the services the web server draws on
type Deps struct {
	Registry *boundary.Registry
	Fetcher  overlay.Fetcher
	Tiles    mapview.TileSource
	Tools    *tools.Registry
	Health   *monitoring.HealthChecker

	// Data holds the boundary files served under each category prefix.
	// Defaults to the configured DataDir.
	Data fs.FS
}

// Server is the lkmap web server
type Server struct {
	cfg         Config
	logger      *slog.Logger
	registry    *boundary.Registry
	tools       *tools.Registry
	health      *monitoring.HealthChecker
	sessions    *sessions
	pages       *template.Template
	sseServer   *mcpserver.SSEServer
	rateLimiter *RateLimiter
	handler     http.Handler

	mu      sync.Mutex
	httpSrv *http.Server
}

// New creates the web server. Map views are opened lazily per browser session.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Fetcher == nil {
		return nil, core.NewValidationError(core.ErrMissingParameter, "a boundary fetcher is required")
	}
	if deps.Registry == nil {
		deps.Registry = boundary.Default()
	}
	if deps.Tools == nil {
		deps.Tools = tools.NewRegistry(logger, tools.Deps{
			Categories: deps.Registry,
			Fetcher:    deps.Fetcher,
			Tiles:      deps.Tiles,
			MapOptions: cfg.Map,
		})
	}
	if deps.Data == nil {
		deps.Data = os.DirFS(cfg.DataDir)
	}

	if cfg.AuthType != AuthNone {
		if err := core.ValidateAuthToken(cfg.AuthToken); err != nil {
			logger.Warn("weak authentication token detected", "error", err.Error())
		}
	}

	pages, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	store, err := newSessions(cfg.SessionCapacity, mapview.Config{
		Options:  cfg.Map,
		Registry: deps.Registry,
		Fetcher:  deps.Fetcher,
		Tiles:    deps.Tiles,
		Logger:   logger,
	}, logger)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: deps.Registry,
		tools:    deps.Tools,
		health:   deps.Health,
		sessions: store,
		pages:    pages,
	}
	s.sseServer = mcpserver.NewSSEServer(
		NewMCPServer(deps.Tools),
		mcpserver.WithSSEEndpoint(SSEEndpoint),
		mcpserver.WithMessageEndpoint(MessageEndpoint),
		mcpserver.WithBaseURL(cfg.BaseURL),
	)
	if cfg.RateLimit > 0 {
		s.rateLimiter = NewRateLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	s.handler = s.middleware(s.routes(deps.Data))
	return s, nil
}

func (s *Server) routes(data fs.FS) *http.ServeMux {
	mux := http.NewServeMux()

	// Pages
	mux.HandleFunc("GET /{$}", s.handleHome)
	mux.HandleFunc("GET /info", s.handleInfo)
	mux.HandleFunc("GET /map", s.handleMap)
	mux.HandleFunc("POST /map/category", s.handleSelect)
	mux.HandleFunc("POST /map/click", s.handleClick)
	mux.HandleFunc("GET /map.png", s.handleMapImage)
	mux.Handle("GET /static/", staticHandler())

	// JSON API
	mux.HandleFunc("GET /api/categories", s.handleAPICategories)
	mux.HandleFunc("GET /api/overlays", s.handleAPIOverlays)
	mux.HandleFunc("POST /api/category", s.handleAPISelect)

	// Boundary files
	s.boundaryFiles(mux, data)

	// Health check endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /live", s.handleLive)

	// MCP over HTTP+SSE
	mux.HandleFunc("GET /mcp", s.handleDiscovery)
	mux.Handle(SSEEndpoint, s.mcpAuth(s.sseServer.SSEHandler()))
	mux.Handle(MessageEndpoint, s.mcpAuth(s.sseServer.MessageHandler()))

	return mux
}

// middleware applies the shared chain, innermost first
func (s *Server) middleware(h http.Handler) http.Handler {
	if s.rateLimiter != nil {
		h = s.rateLimiter.Middleware(h)
	}
	h = s.httpsEnforcement(h)
	h = TracingMiddleware()(h)
	h = LoggingMiddleware(s.logger)(h)
	h = SecurityHeaders(h)
	h = RequestSizeLimiter(s.cfg.MaxRequestSize)(h)
	return h
}

// Handler returns the server's HTTP handler with middleware applied
func (s *Server) Handler() http.Handler {
	return s.handler
}

// httpsEnforcement redirects plain HTTP requests to HTTPS when ForceHTTPS is set.
// Health checks are always answered in place.
func (s *Server) httpsEnforcement(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.ForceHTTPS && r.TLS == nil && !isHealthPath(r.URL.Path) {
			httpsURL := "https://" + r.Host + r.RequestURI
			s.logger.Info("redirecting HTTP request to HTTPS",
				"client_ip", getIP(r),
				"redirect_url", httpsURL)
			http.Redirect(w, r, httpsURL, http.StatusMovedPermanently)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isHealthPath(path string) bool {
	return path == "/health" || path == "/ready" || path == "/live"
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.HealthHandler()(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.ReadinessHandler()(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"ready": true, "status": "ok"})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.LivenessHandler()(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"alive": true})
}

// Start begins serving HTTP requests. It blocks until the server stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.httpSrv != nil {
		s.mu.Unlock()
		return core.NewError(core.ErrInternalError, "HTTP server already started").
			WithGuidance("The HTTP server is already running. Stop it before starting again.")
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // SSE streams stay open
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    s.cfg.MaxHeaderBytes,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	tls := s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""
	s.logger.Info("starting HTTP server",
		"addr", s.cfg.Addr,
		"data_dir", s.cfg.DataDir,
		"boundary_base_url", s.cfg.BoundaryBaseURL,
		"sse_endpoint", SSEEndpoint,
		"auth_type", s.cfg.AuthType,
		"tls_enabled", tls,
		"force_https", s.cfg.ForceHTTPS)

	if tls {
		return srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	if s.cfg.ForceHTTPS {
		s.logger.Warn("HTTPS enforcement enabled but no TLS certificates provided - HTTP requests will be redirected")
	}
	return srv.ListenAndServe()
}

// Shutdown stops the server gracefully and releases every open map view
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server", "open_views", s.sessions.len())

	if err := s.sseServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown SSE server", "error", err)
	}

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.sessions.purge()
	return err
}
