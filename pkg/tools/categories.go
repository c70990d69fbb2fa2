package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/core"
)

// CategorySummary describes one category without its sources
type CategorySummary struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	SourceCount int    `json:"source_count"`
}

// ListCategoriesTool returns a tool definition for listing boundary categories
func ListCategoriesTool() mcp.Tool {
	return mcp.NewTool("list_categories",
		mcp.WithDescription("List the administrative boundary categories that can be shown on the map"),
	)
}

// HandleListCategories lists every category in display order
func (r *Registry) HandleListCategories(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	categories := r.deps.Categories.Categories()
	out := struct {
		Default    string            `json:"default"`
		Categories []CategorySummary `json:"categories"`
	}{
		Default:    boundary.DefaultCategory,
		Categories: make([]CategorySummary, 0, len(categories)),
	}
	for _, c := range categories {
		out.Categories = append(out.Categories, CategorySummary{
			ID:          c.ID,
			Label:       c.Label,
			SourceCount: len(c.Sources),
		})
	}
	return jsonResult(out)
}

// GetCategorySourcesTool returns a tool definition for listing a category's sources
func GetCategorySourcesTool() mcp.Tool {
	return mcp.NewTool("get_category_sources",
		mcp.WithDescription("List the boundary resources of a category, in load order, with the color each is drawn in"),
		mcp.WithString("category",
			mcp.Required(),
			mcp.Description("Category identifier, e.g. provinces, districts, ed, gnd, lg"),
		),
	)
}

// HandleGetCategorySources returns the layer sources of a category. An
// unknown category has no sources; it is not an error.
func (r *Registry) HandleGetCategorySources(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := mcp.ParseString(req, "category", "")
	if category == "" {
		return core.NewValidationError(core.ErrMissingParameter, "category is required").ToMCPResult(), nil
	}

	sources := r.deps.Categories.SourcesFor(category)
	if sources == nil {
		sources = []boundary.LayerSource{}
	}
	return jsonResult(struct {
		Category string                 `json:"category"`
		Sources  []boundary.LayerSource `json:"sources"`
	}{category, sources})
}

// requireCategory reads and checks the category argument
func (r *Registry) requireCategory(req mcp.CallToolRequest, fallback string) (string, *core.MCPError) {
	category := mcp.ParseString(req, "category", fallback)
	if category == "" {
		return "", core.NewValidationError(core.ErrMissingParameter, "category is required")
	}
	if !r.deps.Categories.Known(category) {
		var ids []string
		for _, c := range r.deps.Categories.Categories() {
			ids = append(ids, c.ID)
		}
		return "", core.NewValidationError(core.ErrInvalidInput, "unknown category "+category).
			WithSuggestions(ids...)
	}
	return category, nil
}
