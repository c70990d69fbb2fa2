package tools

import (
	"context"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/overlay"
)

// FailedSource names a source that could not be loaded
type FailedSource struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// LoadCategoryTool returns a tool definition for loading a category as GeoJSON
func LoadCategoryTool() mcp.Tool {
	return mcp.NewTool("load_category",
		mcp.WithDescription("Fetch every boundary resource of a category and return the polygons as a GeoJSON FeatureCollection. Each feature carries its source path and color."),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Category identifier, e.g. provinces, districts, ed, gnd, lg"),
		),
	)
}

// HandleLoadCategory loads all sources of a category concurrently. A failed
// source is reported and does not affect the others.
func (r *Registry) HandleLoadCategory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category, verr := r.requireCategory(req, "")
	if verr != nil {
		return verr.ToMCPResult(), nil
	}
	if r.deps.Fetcher == nil {
		return core.NewError(core.ErrServiceUnavailable, "no boundary source configured").ToMCPResult(), nil
	}

	sources := r.deps.Categories.SourcesFor(category)
	loader := overlay.NewLoader(r.deps.Fetcher, r.logger)
	overlays := make([]*overlay.Overlay, len(sources))

	var (
		mu     sync.Mutex
		failed []FailedSource
		g      errgroup.Group
	)
	for i, src := range sources {
		g.Go(func() error {
			ov, err := loader.Load(ctx, category, src)
			if err != nil {
				mu.Lock()
				failed = append(failed, FailedSource{Path: src.Path, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			overlays[i] = ov
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return core.NewError(core.ErrServiceTimeout, "load cancelled").ToMCPResult(), nil
	}

	fc := geojson.NewFeatureCollection()
	for _, ov := range overlays {
		if ov == nil {
			continue
		}
		for _, f := range ov.Features.Features {
			f.Properties["source"] = ov.Source.Path
			f.Properties["color"] = ov.Style.Color
			f.Properties["weight"] = ov.Style.Weight
			f.Properties["fillOpacity"] = ov.Style.FillOpacity
			fc.Append(f)
		}
	}

	return jsonResult(struct {
		Category string                     `json:"category"`
		Loaded   int                        `json:"loaded"`
		Failed   []FailedSource             `json:"failed,omitempty"`
		Features *geojson.FeatureCollection `json:"features"`
	}{
		Category: category,
		Loaded:   len(sources) - len(failed),
		Failed:   failed,
		Features: fc,
	})
}
