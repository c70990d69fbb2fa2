// Package tools provides the MCP tools over the Sri Lanka boundary map.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/mapview"
	"github.com/NERVsystems/lkmap/pkg/monitoring"
	"github.com/NERVsystems/lkmap/pkg/overlay"
	"github.com/NERVsystems/lkmap/pkg/tracing"
)

// Handler is the signature of an MCP tool handler
type Handler func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Deps are the services the tools draw on
type Deps struct {
	Categories *boundary.Registry
	Fetcher    overlay.Fetcher
	Tiles      mapview.TileSource
	MapOptions mapview.Options
}

// Registry contains all tool definitions and handlers
type Registry struct {
	logger *slog.Logger
	deps   Deps
}

// NewRegistry creates a new tool registry
func NewRegistry(logger *slog.Logger, deps Deps) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Categories == nil {
		deps.Categories = boundary.Default()
	}
	if deps.MapOptions.Zoom == 0 {
		deps.MapOptions = mapview.DefaultOptions()
	}
	return &Registry{
		logger: logger.With("component", "tools"),
		deps:   deps,
	}
}

// ToolDefinition represents an MCP tool definition.
type ToolDefinition struct {
	Name        string
	Description string
	Tool        mcp.Tool
	Handler     Handler
}

// GetToolDefinitions returns the list of all available tools.
func (r *Registry) GetToolDefinitions() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "get_version",
			Description: "Get the version information for this service",
			Tool:        GetVersionTool(),
			Handler:     HandleGetVersion,
		},
		{
			Name:        "list_categories",
			Description: "List the administrative boundary categories of Sri Lanka",
			Tool:        ListCategoriesTool(),
			Handler:     r.HandleListCategories,
		},
		{
			Name:        "get_category_sources",
			Description: "Get the boundary resources and colors of a category. Parameters: category (string)",
			Tool:        GetCategorySourcesTool(),
			Handler:     r.HandleGetCategorySources,
		},
		{
			Name:        "load_category",
			Description: "Load every boundary of a category as GeoJSON. Parameters: category (string)",
			Tool:        LoadCategoryTool(),
			Handler:     r.HandleLoadCategory,
		},
		{
			Name:        "render_category_map",
			Description: "Render a PNG map of Sri Lanka with a category's boundaries. Parameters: category (string), width (number), height (number)",
			Tool:        RenderCategoryMapTool(),
			Handler:     r.HandleRenderCategoryMap,
		},
	}
}

// RegisterTools registers all tools with the MCP server.
func (r *Registry) RegisterTools(mcpServer *server.MCPServer) {
	for _, def := range r.GetToolDefinitions() {
		r.logger.Info("registering tool", "name", def.Name)
		mcpServer.AddTool(def.Tool, server.ToolHandlerFunc(r.wrapWithTracing(def.Name, def.Handler)))
	}
}

// GetToolNames returns a list of all tool names.
func (r *Registry) GetToolNames() []string {
	defs := r.GetToolDefinitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	return names
}

// wrapWithTracing wraps a tool handler with a span and request metrics
func (r *Registry) wrapWithTracing(toolName string, handler Handler) Handler {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("mcp.tool.%s", toolName),
			trace.WithAttributes(
				attribute.String(tracing.AttrMCPToolName, toolName),
			),
		)
		defer span.End()

		start := time.Now()
		result, err := handler(ctx, req)
		duration := time.Since(start)

		status := tracing.StatusSuccess
		if err != nil || (result != nil && result.IsError) {
			status = tracing.StatusError
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		resultSize := 0
		if result != nil && result.Content != nil {
			if data, marshalErr := json.Marshal(result.Content); marshalErr == nil {
				resultSize = len(data)
			}
		}

		span.SetAttributes(tracing.MCPToolAttributes(toolName, status, duration.Milliseconds(), resultSize)...)
		monitoring.RecordMCPRequest(toolName, duration, status == tracing.StatusSuccess)

		r.logger.Debug("tool execution traced",
			"tool", toolName,
			"duration_ms", duration.Milliseconds(),
			"status", status,
			"result_size", resultSize,
		)

		return result, err
	}
}

// jsonResult marshals v as the text content of a tool result
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
