package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/NERVsystems/lkmap/pkg/cache"
	"github.com/NERVsystems/lkmap/pkg/monitoring"
	"github.com/NERVsystems/lkmap/pkg/tracing"
)

const (
	// DefaultTileURL is the OpenStreetMap raster tile template
	DefaultTileURL = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"

	// DefaultTileSize is the size of OSM tiles in pixels
	DefaultTileSize = 256

	// TileCacheTTL is how long to cache tiles
	TileCacheTTL = 24 * time.Hour

	// maxTileBytes bounds a single tile download
	maxTileBytes = 2 << 20
)

// DefaultSubdomains are the {s} substitutions for the OSM tile servers
var DefaultSubdomains = []string{"a", "b", "c"}

// TileClient fetches base-map tiles with caching and client-side rate limiting
type TileClient struct {
	urlTemplate string
	subdomains  []string
	client      *http.Client
	retry       RetryOptions
	limiter     *rate.Limiter
	cache       *cache.TTLCache[string, []byte]
	logger      *slog.Logger
}

// TileClientOption configures a TileClient
type TileClientOption func(*TileClient)

// WithHTTPClient overrides the HTTP client used for tile requests
func WithHTTPClient(client *http.Client) TileClientOption {
	return func(c *TileClient) { c.client = client }
}

// WithRateLimiter throttles outbound tile requests
func WithRateLimiter(limiter *rate.Limiter) TileClientOption {
	return func(c *TileClient) { c.limiter = limiter }
}

// WithRetry sets the retry policy for tile requests
func WithRetry(options RetryOptions) TileClientOption {
	return func(c *TileClient) { c.retry = options }
}

// WithTileCache sets the tile cache size; zero disables caching
func WithTileCache(maxItems int) TileClientOption {
	return func(c *TileClient) {
		if maxItems <= 0 {
			c.cache = nil
			return
		}
		c.cache = cache.NewTTLCache[string, []byte](TileCacheTTL, time.Minute, maxItems)
	}
}

// NewTileClient creates a tile client for a {s}/{z}/{x}/{y} URL template
func NewTileClient(urlTemplate string, subdomains []string, opts ...TileClientOption) *TileClient {
	if urlTemplate == "" {
		urlTemplate = DefaultTileURL
	}
	if len(subdomains) == 0 {
		subdomains = DefaultSubdomains
	}

	c := &TileClient{
		urlTemplate: urlTemplate,
		subdomains:  subdomains,
		client:      DefaultClient,
		retry:       DefaultRetryOptions,
		logger:      slog.Default().With("service", "tile_fetcher"),
	}
	WithTileCache(1000)(c)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TileURL expands the template for a tile; the subdomain rotates with x+y
func (c *TileClient) TileURL(zoom, x, y int) string {
	s := c.subdomains[(x+y)%len(c.subdomains)]
	return strings.NewReplacer(
		"{s}", s,
		"{z}", strconv.Itoa(zoom),
		"{x}", strconv.Itoa(x),
		"{y}", strconv.Itoa(y),
	).Replace(c.urlTemplate)
}

// FetchTile retrieves a tile image, serving from cache when possible
func (c *TileClient) FetchTile(ctx context.Context, zoom, x, y int) ([]byte, error) {
	ctx, span := tracing.StartSpan(ctx, "tiles.fetch")
	defer span.End()
	span.SetAttributes(tracing.TileAttributes(zoom, x, y)...)

	n := 1 << zoom
	if zoom < 0 || x < 0 || y < 0 || x >= n || y >= n {
		return nil, NewError(ErrInvalidParameter, fmt.Sprintf("tile %d/%d/%d is out of range", zoom, x, y))
	}

	key := fmt.Sprintf("tile:%d:%d:%d", zoom, x, y)
	if c.cache != nil {
		if data, ok := c.cache.Get(key); ok {
			span.SetAttributes(tracing.CacheAttributes(tracing.CacheTypeTile, true, key)...)
			monitoring.RecordCacheHit(tracing.CacheTypeTile)
			return data, nil
		}
		span.SetAttributes(tracing.CacheAttributes(tracing.CacheTypeTile, false, key)...)
		monitoring.RecordCacheMiss(tracing.CacheTypeTile)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, NewError(ErrRateLimit, "tile rate limit wait aborted").
				WithGuidance("The request was cancelled while waiting for the tile server")
		}
	}

	tileURL := c.TileURL(zoom, x, y)
	factory := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, tileURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Referer", "https://github.com/NERVsystems/lkmap")
		return req, nil
	}

	resp, err := WithRetryFactory(ctx, factory, c.client, c.retry)
	if err != nil {
		monitoring.RecordTileRequest(false)
		tracing.RecordError(ctx, err)
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes))
	if err != nil {
		monitoring.RecordTileRequest(false)
		return nil, NewError(ErrNetworkError, "failed to read tile data")
	}
	monitoring.RecordTileRequest(true)

	if c.cache != nil {
		c.cache.Set(key, data)
		monitoring.UpdateCacheSize(tracing.CacheTypeTile, c.cache.Count())
	}

	c.logger.Debug("fetched tile", "zoom", zoom, "x", x, "y", y, "bytes", len(data))
	return data, nil
}

// CheckHealth fetches the world tile, bypassing the cache
func (c *TileClient) CheckHealth(ctx context.Context) error {
	factory := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, c.TileURL(0, 0, 0), nil)
	}
	resp, err := WithRetryFactory(ctx, factory, c.client, SingleAttempt)
	if err != nil {
		return err
	}
	return resp.Body.Close()
}

// Close releases the tile cache
func (c *TileClient) Close() {
	if c.cache != nil {
		c.cache.Stop()
	}
}

// LatLonToTile converts latitude, longitude and zoom to tile coordinates
func LatLonToTile(lat, lon float64, zoom int) (x, y int) {
	lat = math.Max(-85.05112878, math.Min(85.05112878, lat))
	n := math.Pow(2, float64(zoom))

	x = int(math.Floor((lon + 180.0) / 360.0 * n))
	y = int(math.Floor((1.0 - math.Log(math.Tan(lat*math.Pi/180.0)+1.0/math.Cos(lat*math.Pi/180.0))/math.Pi) / 2.0 * n))

	return x, y
}

// TileToLatLon converts tile coordinates to the latitude, longitude of the tile's north-west corner
func TileToLatLon(x, y, zoom int) (lat, lon float64) {
	n := math.Pow(2, float64(zoom))
	lon = float64(x)/n*360.0 - 180.0

	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))
	lat = latRad * 180.0 / math.Pi

	return lat, lon
}
