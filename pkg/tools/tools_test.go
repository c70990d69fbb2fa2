package tools

import (
	"bytes"
	"context"
	"encoding/base64"
	"image/png"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/lkmap/pkg/core"
)

func TestRegisterTools(t *testing.T) {
	r := NewRegistry(nil, Deps{Fetcher: testFetcher()})
	srv := server.NewMCPServer("lkmap-test", "0.0.0", server.WithToolCapabilities(false))
	r.RegisterTools(srv)

	want := []string{"get_version", "list_categories", "get_category_sources", "load_category", "render_category_map"}
	got := r.GetToolNames()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("tool names = %v, want %v", got, want)
	}
	for _, def := range r.GetToolDefinitions() {
		if def.Tool.Name != def.Name {
			t.Errorf("definition %s wraps tool %s", def.Name, def.Tool.Name)
		}
	}
}

func TestHandleListCategories(t *testing.T) {
	r := NewRegistry(nil, Deps{})

	result, err := r.HandleListCategories(context.Background(), newRequest("list_categories", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSuccessResult(t, result, "list_categories failed")

	var out struct {
		Default    string            `json:"default"`
		Categories []CategorySummary `json:"categories"`
	}
	parseResultJSON(t, result, &out)

	if out.Default != "provinces" {
		t.Errorf("default = %q", out.Default)
	}
	if len(out.Categories) != 5 {
		t.Fatalf("expected 5 categories, got %d", len(out.Categories))
	}
	if out.Categories[0] != (CategorySummary{ID: "provinces", Label: "Provinces", SourceCount: 9}) {
		t.Errorf("first category = %+v", out.Categories[0])
	}
}

func TestHandleGetCategorySources(t *testing.T) {
	r := NewRegistry(nil, Deps{})

	tests := []struct {
		name     string
		args     map[string]any
		wantLen  int
		wantCode core.ErrorCode
	}{
		{"provinces", map[string]any{"category": "provinces"}, 9, ""},
		{"electoral districts", map[string]any{"category": "ed"}, 22, ""},
		{"unknown is empty", map[string]any{"category": "wards"}, 0, ""},
		{"missing", map[string]any{}, 0, core.ErrMissingParameter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := r.HandleGetCategorySources(context.Background(), newRequest("get_category_sources", tt.args))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantCode != "" {
				assertErrorCode(t, result, tt.wantCode)
				return
			}
			assertSuccessResult(t, result, "get_category_sources failed")

			var out struct {
				Sources []struct {
					Path  string `json:"path"`
					Color string `json:"color"`
				} `json:"sources"`
			}
			parseResultJSON(t, result, &out)
			if out.Sources == nil {
				t.Fatal("sources should be an empty list, not null")
			}
			if len(out.Sources) != tt.wantLen {
				t.Errorf("expected %d sources, got %d", tt.wantLen, len(out.Sources))
			}
		})
	}
}

func TestHandleLoadCategory(t *testing.T) {
	r := NewRegistry(nil, Deps{Fetcher: testFetcher("/provinces/LK-4.json")})

	result, err := r.HandleLoadCategory(context.Background(), newRequest("load_category", map[string]any{"category": "provinces"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSuccessResult(t, result, "load_category failed")

	var out struct {
		Loaded   int            `json:"loaded"`
		Failed   []FailedSource `json:"failed"`
		Features struct {
			Type     string `json:"type"`
			Features []struct {
				Properties map[string]any `json:"properties"`
			} `json:"features"`
		} `json:"features"`
	}
	parseResultJSON(t, result, &out)

	if out.Loaded != 8 {
		t.Errorf("expected 8 loaded sources, got %d", out.Loaded)
	}
	if len(out.Failed) != 1 || out.Failed[0].Path != "/provinces/LK-4.json" {
		t.Errorf("expected LK-4 to fail, got %+v", out.Failed)
	}
	if out.Features.Type != "FeatureCollection" || len(out.Features.Features) != 8 {
		t.Fatalf("expected 8 features, got %d", len(out.Features.Features))
	}
	// sources load concurrently but are emitted in registry order
	first := out.Features.Features[0].Properties
	if first["source"] != "/provinces/LK-1.json" || first["color"] != "red" || first["fillOpacity"] != 0.1 {
		t.Errorf("unexpected first feature properties %v", first)
	}
}

func TestHandleLoadCategoryUnknown(t *testing.T) {
	r := NewRegistry(nil, Deps{Fetcher: testFetcher()})

	result, err := r.HandleLoadCategory(context.Background(), newRequest("load_category", map[string]any{"category": "wards"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertErrorCode(t, result, core.ErrInvalidInput)
}

func TestHandleRenderCategoryMap(t *testing.T) {
	r := NewRegistry(nil, Deps{Fetcher: testFetcher()})

	req := newRequest("render_category_map", map[string]any{"category": "districts", "width": 120.0, "height": 90.0})
	result, err := r.HandleRenderCategoryMap(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSuccessResult(t, result, "render_category_map failed")

	if len(result.Content) != 2 {
		t.Fatalf("expected image and text content, got %d items", len(result.Content))
	}
	img, ok := result.Content[0].(mcp.ImageContent)
	if !ok {
		t.Fatalf("first content is %T, want mcp.ImageContent", result.Content[0])
	}
	data, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		t.Fatalf("decode base64: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if b := decoded.Bounds(); b.Dx() != 120 || b.Dy() != 90 {
		t.Errorf("image size = %v, want 120x90", b)
	}

	text := resultText(result)
	if !strings.Contains(text, "Overlays rendered: 25 of 25") {
		t.Errorf("unexpected summary %q", text)
	}
}

func TestHandleRenderCategoryMapValidation(t *testing.T) {
	r := NewRegistry(nil, Deps{Fetcher: testFetcher()})

	result, _ := r.HandleRenderCategoryMap(context.Background(), newRequest("render_category_map", map[string]any{"width": 0.0}))
	assertErrorCode(t, result, core.ErrInvalidParameter)

	result, _ = r.HandleRenderCategoryMap(context.Background(), newRequest("render_category_map", map[string]any{"category": "wards"}))
	assertErrorCode(t, result, core.ErrInvalidInput)
}

func TestWrapWithTracingPassesThrough(t *testing.T) {
	r := NewRegistry(nil, Deps{})
	handler := r.wrapWithTracing("list_categories", r.HandleListCategories)

	result, err := handler(context.Background(), newRequest("list_categories", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSuccessResult(t, result, "wrapped handler failed")
}

func TestHandleGetVersion(t *testing.T) {
	result, err := HandleGetVersion(context.Background(), newRequest("get_version", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var info map[string]string
	parseResultJSON(t, result, &info)
	if info["version"] == "" || info["go_version"] == "" {
		t.Errorf("incomplete version info %v", info)
	}
}

func TestHandleRenderCategoryMapHighlight(t *testing.T) {
	r := NewRegistry(nil, Deps{Fetcher: testFetcher()})

	req := newRequest("render_category_map", map[string]any{
		"width": 100.0, "height": 100.0, "latitude": 7.87, "longitude": 80.77,
	})
	result, _ := r.HandleRenderCategoryMap(context.Background(), req)
	assertSuccessResult(t, result, "render with highlight failed")
	if text := resultText(result); !strings.Contains(text, "Highlighted the boundary at 7.87000, 80.77000") {
		t.Errorf("unexpected summary %q", text)
	}

	req = newRequest("render_category_map", map[string]any{
		"width": 100.0, "height": 100.0, "latitude": 6.0, "longitude": 81.5,
	})
	result, _ = r.HandleRenderCategoryMap(context.Background(), req)
	assertSuccessResult(t, result, "render with miss failed")
	if text := resultText(result); !strings.Contains(text, "No boundary at") {
		t.Errorf("unexpected summary %q", text)
	}

	result, _ = r.HandleRenderCategoryMap(context.Background(), newRequest("render_category_map", map[string]any{"latitude": 7.0}))
	assertErrorCode(t, result, core.ErrMissingParameter)

	result, _ = r.HandleRenderCategoryMap(context.Background(), newRequest("render_category_map", map[string]any{"latitude": 97.0, "longitude": 80.0}))
	assertErrorCode(t, result, core.ErrInvalidParameter)
}
