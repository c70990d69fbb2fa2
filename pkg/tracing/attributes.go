package tracing

import "go.opentelemetry.io/otel/attribute"

// Attribute keys
const (
	// MCP tool attributes
	AttrMCPToolName     = "mcp.tool.name"
	AttrMCPToolStatus   = "mcp.tool.status"
	AttrMCPToolDuration = "mcp.tool.duration_ms"
	AttrMCPResultSize   = "mcp.tool.result_size"

	// Boundary overlay attributes
	AttrCategory     = "lkmap.category"
	AttrSourcePath   = "lkmap.source.path"
	AttrSourceColor  = "lkmap.source.color"
	AttrGeneration   = "lkmap.overlay.generation"
	AttrFeatureCount = "lkmap.overlay.features"
	AttrSourceCount  = "lkmap.category.sources"

	// Tile attributes
	AttrTileZoom = "lkmap.tile.zoom"
	AttrTileX    = "lkmap.tile.x"
	AttrTileY    = "lkmap.tile.y"

	// Cache attributes
	AttrCacheType = "lkmap.cache.type"
	AttrCacheHit  = "lkmap.cache.hit"
	AttrCacheKey  = "lkmap.cache.key"

	// HTTP transport attributes
	AttrHTTPMethod     = "http.method"
	AttrHTTPStatusCode = "http.status_code"
	AttrHTTPPath       = "http.path"
	AttrHTTPSessionID  = "http.session_id"

	// Error attributes
	AttrErrorType    = "error.type"
	AttrErrorMessage = "error.message"
)

// Status values
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusDiscarded = "discarded"
)

// Cache types
const (
	CacheTypeTile = "tile"
)

// MCPToolAttributes returns attributes for MCP tool execution
func MCPToolAttributes(toolName string, status string, durationMs int64, resultSize int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrMCPToolName, toolName),
		attribute.String(AttrMCPToolStatus, status),
		attribute.Int64(AttrMCPToolDuration, durationMs),
		attribute.Int(AttrMCPResultSize, resultSize),
	}
}

// SourceAttributes returns attributes describing one layer source load
func SourceAttributes(category, path, color string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCategory, category),
		attribute.String(AttrSourcePath, path),
		attribute.String(AttrSourceColor, color),
	}
}

// TileAttributes returns attributes for a tile request
func TileAttributes(zoom, x, y int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrTileZoom, zoom),
		attribute.Int(AttrTileX, x),
		attribute.Int(AttrTileY, y),
	}
}

// CacheAttributes returns attributes for cache operations
func CacheAttributes(cacheType string, hit bool, key string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrCacheType, cacheType),
		attribute.Bool(AttrCacheHit, hit),
		attribute.String(AttrCacheKey, key),
	}
}

// ErrorAttributes returns attributes for errors
func ErrorAttributes(err error) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorType, "error"),
		attribute.String(AttrErrorMessage, err.Error()),
	}
}
