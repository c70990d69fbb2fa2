package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/monitoring"
	"github.com/NERVsystems/lkmap/pkg/overlay"
	"github.com/NERVsystems/lkmap/pkg/registration"
	"github.com/NERVsystems/lkmap/pkg/server"
	"github.com/NERVsystems/lkmap/pkg/tools"
	"github.com/NERVsystems/lkmap/pkg/tracing"
	ver "github.com/NERVsystems/lkmap/pkg/version"
)

var (
	showVersionFlag bool
	debug           bool

	// Web server flags
	httpAddr        string
	httpBaseURL     string
	dataDir         string
	boundaryBaseURL string
	sessionCapacity int
	renderWidth     int
	renderHeight    int
	httpRateLimit   float64
	httpRateBurst   int
	tlsCertFile     string
	tlsKeyFile      string
	forceHTTPS      bool

	// MCP flags
	enableStdio bool
	mcpAuthType string
	mcpToken    string

	// Upstream flags
	tileURL       string
	tileRPS       float64
	tileBurst     int
	boundaryRPS   float64
	boundaryBurst int

	// Monitoring flags
	enableMonitoring bool
	monitoringAddr   string

	// Registration flags
	enableRegistration bool
	registryURL        string
	serviceURL         string
	internalURL        string
)

func init() {
	_ = godotenv.Load(".env")

	def := server.DefaultConfig()

	flag.BoolVar(&showVersionFlag, "version", false, "Display version information")
	flag.BoolVar(&debug, "debug", envBool("LKMAP_DEBUG", false), "Enable debug logging")

	flag.StringVar(&httpAddr, "http-addr", envString("LKMAP_HTTP_ADDR", def.Addr), "HTTP server address")
	flag.StringVar(&httpBaseURL, "http-base-url", envString("LKMAP_BASE_URL", ""), "Public base URL (auto-detected if empty)")
	flag.StringVar(&dataDir, "data-dir", envString("LKMAP_DATA_DIR", def.DataDir), "Directory holding the boundary files")
	flag.StringVar(&boundaryBaseURL, "boundary-base-url", envString("LKMAP_BOUNDARY_BASE_URL", ""), "Fetch boundary files from this host instead of the data directory")
	flag.IntVar(&sessionCapacity, "sessions", envInt("LKMAP_SESSIONS", def.SessionCapacity), "Maximum number of open map views")
	flag.IntVar(&renderWidth, "render-width", envInt("LKMAP_RENDER_WIDTH", def.RenderWidth), "Map image width in pixels")
	flag.IntVar(&renderHeight, "render-height", envInt("LKMAP_RENDER_HEIGHT", def.RenderHeight), "Map image height in pixels")
	flag.Float64Var(&httpRateLimit, "http-rps", envFloat("LKMAP_HTTP_RPS", def.RateLimit), "Requests per second per client IP (0 disables)")
	flag.IntVar(&httpRateBurst, "http-burst", envInt("LKMAP_HTTP_BURST", def.RateBurst), "Burst size per client IP")
	flag.StringVar(&tlsCertFile, "tls-cert", envString("LKMAP_TLS_CERT", ""), "TLS certificate file")
	flag.StringVar(&tlsKeyFile, "tls-key", envString("LKMAP_TLS_KEY", ""), "TLS private key file")
	flag.BoolVar(&forceHTTPS, "force-https", envBool("LKMAP_FORCE_HTTPS", false), "Redirect plain HTTP requests to HTTPS")

	flag.BoolVar(&enableStdio, "stdio", envBool("LKMAP_STDIO", false), "Also serve MCP over stdin/stdout")
	flag.StringVar(&mcpAuthType, "mcp-auth-type", envString("LKMAP_MCP_AUTH_TYPE", server.AuthNone), "MCP HTTP authentication: none, bearer, basic")
	flag.StringVar(&mcpToken, "mcp-token", envString("LKMAP_MCP_TOKEN", ""), "MCP token (user:password for basic)")

	flag.StringVar(&tileURL, "tile-url", envString("LKMAP_TILE_URL", core.DefaultTileURL), "Base map tile URL template")
	flag.Float64Var(&tileRPS, "tile-rps", envFloat("LKMAP_TILE_RPS", 10), "Tile server rate limit in requests per second")
	flag.IntVar(&tileBurst, "tile-burst", envInt("LKMAP_TILE_BURST", 20), "Tile server rate limit burst size")
	flag.Float64Var(&boundaryRPS, "boundary-rps", envFloat("LKMAP_BOUNDARY_RPS", 50), "Boundary host rate limit in requests per second")
	flag.IntVar(&boundaryBurst, "boundary-burst", envInt("LKMAP_BOUNDARY_BURST", 50), "Boundary host rate limit burst size")

	flag.BoolVar(&enableMonitoring, "enable-monitoring", envBool("LKMAP_MONITORING", true), "Enable Prometheus metrics and health reporting")
	flag.StringVar(&monitoringAddr, "monitoring-addr", envString("LKMAP_MONITORING_ADDR", ":9090"), "Monitoring server address")

	flag.BoolVar(&enableRegistration, "enable-registration", envBool("LKMAP_REGISTRATION", false), "Register with a service registry")
	flag.StringVar(&registryURL, "registry-url", envString("LKMAP_REGISTRY_URL", ""), "Service registry URL")
	flag.StringVar(&serviceURL, "service-url", envString("LKMAP_SERVICE_URL", ""), "External URL where this service is accessible")
	flag.StringVar(&internalURL, "internal-url", envString("LKMAP_INTERNAL_URL", ""), "Internal URL for container environments")
}

func main() {
	flag.Parse()

	if showVersionFlag {
		fmt.Println(ver.String())
		return
	}

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("lkmap failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := server.DefaultConfig()
	cfg.Addr = httpAddr
	cfg.BaseURL = httpBaseURL
	cfg.DataDir = dataDir
	cfg.BoundaryBaseURL = boundaryBaseURL
	cfg.SessionCapacity = sessionCapacity
	cfg.RenderWidth, cfg.RenderHeight = renderWidth, renderHeight
	cfg.RateLimit = httpRateLimit
	cfg.RateBurst = httpRateBurst
	cfg.AuthType = mcpAuthType
	cfg.AuthToken = mcpToken
	cfg.TLSCertFile, cfg.TLSKeyFile = tlsCertFile, tlsKeyFile
	cfg.ForceHTTPS = forceHTTPS
	cfg.Map.Tiles.URLTemplate = tileURL
	if err := cfg.Validate(); err != nil {
		return err
	}

	traceCfg := tracing.ConfigFromEnv()
	traceCfg.BoundarySource = cfg.BoundarySource()
	shutdownTracing, err := tracing.Setup(ctx, traceCfg, ver.BuildVersion)
	if err != nil {
		// tracing is not critical
		logger.Error("failed to initialize tracing", "error", err)
	} else {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logger.Error("error shutting down tracing", "error", err)
			}
		}()
		if traceCfg.Enabled() {
			logger.Info("OpenTelemetry tracing enabled",
				"endpoint", traceCfg.Endpoint,
				"sample_ratio", traceCfg.SampleRatio)
		}
	}

	tiles := core.NewTileClient(tileURL, cfg.Map.Tiles.Subdomains,
		core.WithRateLimiter(rate.NewLimiter(rate.Limit(tileRPS), tileBurst)),
	)
	defer tiles.Close()

	var fetcher overlay.Fetcher
	if cfg.BoundaryBaseURL != "" {
		fetcher = overlay.NewHTTPFetcher(cfg.BoundaryBaseURL, nil, rate.NewLimiter(rate.Limit(boundaryRPS), boundaryBurst))
	} else {
		fetcher = overlay.FSFetcher{FS: os.DirFS(cfg.DataDir)}
	}

	logger.Info("starting lkmap",
		"version", ver.BuildVersion,
		"log_level", levelName(debug),
		"http_addr", cfg.Addr,
		"boundary_source", cfg.BoundarySource(),
		"tile_url", tileURL,
		"tile_rps", tileRPS,
		"stdio", enableStdio,
		"monitoring_enabled", enableMonitoring,
		"monitoring_addr", monitoringAddr)

	var healthChecker *monitoring.HealthChecker
	if enableMonitoring {
		healthChecker = monitoring.NewHealthChecker(monitoring.ServiceName, ver.BuildVersion)
		defer healthChecker.Shutdown()

		tileMonitor := monitoring.NewConnectionMonitor("tile_server", healthChecker, tiles.CheckHealth, 60*time.Second)
		tileMonitor.Start()
		defer tileMonitor.Stop()

		startMetricsServer(ctx, logger)
	}

	registry := boundary.Default()
	toolRegistry := tools.NewRegistry(logger, tools.Deps{
		Categories: registry,
		Fetcher:    fetcher,
		Tiles:      tiles,
		MapOptions: cfg.Map,
	})

	srv, err := server.New(cfg, server.Deps{
		Registry: registry,
		Fetcher:  fetcher,
		Tiles:    tiles,
		Tools:    toolRegistry,
		Health:   healthChecker,
	}, logger)
	if err != nil {
		return err
	}

	if enableRegistration {
		regClient := registration.NewClient(registrationConfig(cfg, toolRegistry.GetToolNames()), logger)
		regClient.Start(ctx)
		defer regClient.Stop()
	}

	if enableStdio {
		stdio := server.NewStdio(server.NewMCPServer(toolRegistry), logger)
		go func() {
			logger.Info("transport_enabled", "type", "stdio", "mode", "background")
			if err := stdio.RunWithContext(ctx); err != nil {
				logger.Error("stdio transport error", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// startMetricsServer serves Prometheus metrics until ctx is done
func startMetricsServer(ctx context.Context, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	monitoringServer := &http.Server{
		Addr:              monitoringAddr,
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("starting Prometheus metrics server", "addr", monitoringAddr)
		if err := monitoringServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("monitoring server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := monitoringServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown monitoring server", "error", err)
		}
	}()
}

func registrationConfig(cfg server.Config, toolNames []string) registration.Config {
	svcURL := serviceURL
	if svcURL == "" {
		svcURL = cfg.BaseURL
	}
	if svcURL == "" {
		svcURL = "http://localhost" + cfg.Addr
	}

	rc := registration.Config{
		RegistryURL:  registryURL,
		ServiceName:  "lkmap",
		ServiceType:  "mcp",
		ServiceURL:   svcURL,
		HealthURL:    svcURL + "/health",
		Version:      ver.BuildVersion,
		Capabilities: []string{"boundaries", "mapping"},
		Tools:        toolNames,
		Metadata: map[string]any{
			"transport": map[string]bool{"stdio": enableStdio, "http": true},
		},
	}
	if internalURL != "" {
		rc.InternalURL = internalURL
		rc.InternalHealthURL = internalURL + "/health"
	}
	return rc
}

func levelName(debug bool) string {
	if debug {
		return slog.LevelDebug.String()
	}
	return slog.LevelInfo.String()
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
