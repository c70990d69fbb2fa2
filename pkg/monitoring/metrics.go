package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// ServiceName for metrics and health reports
	ServiceName = "lkmap"
)

var (
	// Boundary overlay metrics
	BoundaryFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lkmap_boundary_fetches_total",
			Help: "Total number of boundary resource loads by category and outcome",
		},
		[]string{"category", "status"},
	)

	BoundaryFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lkmap_boundary_fetch_duration_seconds",
			Help:    "Boundary resource load duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"category"},
	)

	OverlaysRendered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lkmap_overlays_rendered",
			Help: "Number of overlay layers currently attached across all map views",
		},
	)

	StaleOverlaysDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lkmap_stale_overlays_discarded_total",
			Help: "Loads that completed after their category was superseded",
		},
		[]string{"category"},
	)

	CategorySelections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lkmap_category_selections_total",
			Help: "Total number of category selections",
		},
		[]string{"category"},
	)

	OpenViews = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lkmap_open_views",
			Help: "Number of open map views",
		},
	)

	// Tile metrics
	TileRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lkmap_tile_requests_total",
			Help: "Total number of upstream tile requests",
		},
		[]string{"status"},
	)

	MapRenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lkmap_map_render_duration_seconds",
			Help:    "Map raster render duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	// MCP request metrics
	MCPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lkmap_mcp_requests_total",
			Help: "Total number of MCP requests processed",
		},
		[]string{"tool", "status"},
	)

	MCPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lkmap_mcp_request_duration_seconds",
			Help:    "MCP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
		[]string{"tool"},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lkmap_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "status"},
	)

	// Cache metrics
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lkmap_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lkmap_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lkmap_cache_size",
			Help: "Current number of items in cache",
		},
		[]string{"cache_type"},
	)

	// Error metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lkmap_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// System metrics
	SystemInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lkmap_system_info",
			Help: "System information",
		},
		[]string{"version", "go_version", "build_commit", "build_date"},
	)

	GoRoutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lkmap_goroutines",
			Help: "Number of goroutines",
		},
	)

	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lkmap_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)
)

// ServiceHealth is the body of the /health endpoint
type ServiceHealth struct {
	Service       string                 `json:"service"`
	Version       string                 `json:"version"`
	Status        string                 `json:"status"` // "healthy", "degraded", "unhealthy"
	Uptime        time.Duration          `json:"uptime"`
	UptimeSeconds int64                  `json:"uptime_seconds"`
	StartTime     time.Time              `json:"start_time,omitempty"`
	Connections   map[string]ConnStatus  `json:"connections"`
	Metrics       map[string]interface{} `json:"metrics,omitempty"`
}

// ConnStatus describes one monitored upstream
type ConnStatus struct {
	Status    string `json:"status"` // "connected", "disconnected", "error"
	Latency   int64  `json:"latency_ms,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordBoundaryFetch records one boundary resource load
func RecordBoundaryFetch(category string, duration time.Duration, success bool) {
	BoundaryFetchesTotal.WithLabelValues(category, outcome(success)).Inc()
	BoundaryFetchDuration.WithLabelValues(category).Observe(duration.Seconds())
}

// RecordStaleDiscard records a load result dropped because its selection is no longer current
func RecordStaleDiscard(category string) {
	StaleOverlaysDiscarded.WithLabelValues(category).Inc()
}

// RecordCategorySelection records a category becoming selected
func RecordCategorySelection(category string) {
	CategorySelections.WithLabelValues(category).Inc()
}

// RecordTileRequest records one upstream tile request
func RecordTileRequest(success bool) {
	TileRequestsTotal.WithLabelValues(outcome(success)).Inc()
}

// RecordMCPRequest records one MCP tool invocation
func RecordMCPRequest(tool string, duration time.Duration, success bool) {
	MCPRequestsTotal.WithLabelValues(tool, outcome(success)).Inc()
	MCPRequestDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

func RecordCacheHit(cacheType string) {
	CacheHits.WithLabelValues(cacheType).Inc()
}

func RecordCacheMiss(cacheType string) {
	CacheMisses.WithLabelValues(cacheType).Inc()
}

func UpdateCacheSize(cacheType string, size int) {
	CacheSize.WithLabelValues(cacheType).Set(float64(size))
}

func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
