package tools

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/paulmach/orb"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/mapview"
)

const (
	defaultRenderWidth  = 800
	defaultRenderHeight = 600
	renderLoadTimeout   = 30 * time.Second
)

// RenderCategoryMapTool returns a tool definition for rendering a category map
func RenderCategoryMapTool() mcp.Tool {
	return mcp.NewTool("render_category_map",
		mcp.WithDescription("Render the map of Sri Lanka with a category's boundaries over OpenStreetMap tiles and return it as a PNG image"),
		mcp.WithString("category",
			mcp.Description("Category identifier, e.g. provinces, districts, ed, gnd, lg"),
			mcp.DefaultString(boundary.DefaultCategory),
		),
		mcp.WithNumber("width",
			mcp.Description(fmt.Sprintf("Image width in pixels (1-%d)", mapview.MaxRenderSize)),
			mcp.DefaultNumber(defaultRenderWidth),
		),
		mcp.WithNumber("height",
			mcp.Description(fmt.Sprintf("Image height in pixels (1-%d)", mapview.MaxRenderSize)),
			mcp.DefaultNumber(defaultRenderHeight),
		),
		mcp.WithNumber("latitude",
			mcp.Description("Optional latitude of a point; the boundary containing it is highlighted as if clicked"),
		),
		mcp.WithNumber("longitude",
			mcp.Description("Optional longitude of the highlighted point"),
		),
	)
}

// HandleRenderCategoryMap opens a short-lived view on the category, waits for
// its boundaries and renders it
func (r *Registry) HandleRenderCategoryMap(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category, verr := r.requireCategory(req, boundary.DefaultCategory)
	if verr != nil {
		return verr.ToMCPResult(), nil
	}
	width := int(mcp.ParseFloat64(req, "width", defaultRenderWidth))
	height := int(mcp.ParseFloat64(req, "height", defaultRenderHeight))
	if width < 1 || height < 1 || width > mapview.MaxRenderSize || height > mapview.MaxRenderSize {
		return core.NewValidationError(core.ErrInvalidParameter,
			fmt.Sprintf("width and height must be between 1 and %d", mapview.MaxRenderSize)).ToMCPResult(), nil
	}
	lat, lon, highlight, err := core.ParseOptionalCoords(req, "latitude", "longitude")
	if err != nil {
		var mcpErr *core.MCPError
		if errors.As(err, &mcpErr) {
			return mcpErr.ToMCPResult(), nil
		}
		return core.NewError(core.ErrInvalidParameter, err.Error()).ToMCPResult(), nil
	}
	if r.deps.Fetcher == nil {
		return core.NewError(core.ErrServiceUnavailable, "no boundary source configured").ToMCPResult(), nil
	}

	cfg := mapview.Config{
		Options:         r.deps.MapOptions,
		Registry:        r.deps.Categories,
		Fetcher:         r.deps.Fetcher,
		Tiles:           r.deps.Tiles,
		InitialCategory: category,
		Logger:          r.logger,
	}

	var (
		png     []byte
		summary strings.Builder
	)
	err = mapview.WithView(ctx, cfg, func(v *mapview.View) error {
		waitCtx, cancel := context.WithTimeout(ctx, renderLoadTimeout)
		defer cancel()

		report, err := v.Wait(waitCtx)
		if err != nil {
			return core.NewError(core.ErrServiceTimeout, "boundaries did not load in time")
		}

		hit := highlight && v.Click(orb.Point{lon, lat})

		png, err = v.RenderPNG(ctx, width, height)
		if err != nil {
			return err
		}

		fmt.Fprintf(&summary, "Category: %s\n", category)
		fmt.Fprintf(&summary, "Overlays rendered: %d of %d\n", report.Rendered, report.Requested)
		for _, f := range report.Failed {
			fmt.Fprintf(&summary, "Failed: %s\n", f.Path)
		}
		switch {
		case hit:
			fmt.Fprintf(&summary, "Highlighted the boundary at %.5f, %.5f\n", lat, lon)
		case highlight:
			fmt.Fprintf(&summary, "No boundary at %.5f, %.5f\n", lat, lon)
		}
		fmt.Fprintf(&summary, "Attribution: %s", cfg.Options.Tiles.Attribution)
		return nil
	})
	if err != nil {
		var mcpErr *core.MCPError
		if errors.As(err, &mcpErr) {
			return mcpErr.ToMCPResult(), nil
		}
		return core.NewError(core.ErrInternalError, err.Error()).ToMCPResult(), nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewImageContent(base64.StdEncoding.EncodeToString(png), "image/png"),
			mcp.NewTextContent(summary.String()),
		},
	}, nil
}
