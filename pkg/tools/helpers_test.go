package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/overlay"
)

const testRing = `[[[80.7,7.8],[80.85,7.8],[80.85,7.95],[80.7,7.95]]]`

// testFetcher serves testRing for every path except those in missing
func testFetcher(missing ...string) overlay.Fetcher {
	gone := make(map[string]bool)
	for _, p := range missing {
		gone[p] = true
	}
	return overlay.FetcherFunc(func(ctx context.Context, path string) ([]byte, error) {
		if gone[path] {
			return nil, core.ServiceError("boundaries", 404, "not found")
		}
		return []byte(testRing), nil
	})
}

func newRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

// assertSuccessResult fails the test if result is an error result
func assertSuccessResult(t *testing.T, result *mcp.CallToolResult, message string) {
	t.Helper()
	if result == nil {
		t.Fatalf("%s: nil result", message)
	}
	if result.IsError {
		t.Fatalf("%s. Got error: %s", message, resultText(result))
	}
}

// assertErrorCode fails the test unless result is an error carrying code
func assertErrorCode(t *testing.T, result *mcp.CallToolResult, code core.ErrorCode) {
	t.Helper()
	if result == nil || !result.IsError {
		t.Fatalf("expected %s error result, got %+v", code, result)
	}
	var mcpErr core.MCPError
	if err := json.Unmarshal([]byte(resultText(result)), &mcpErr); err != nil {
		t.Fatalf("error result is not JSON: %v", err)
	}
	if mcpErr.Code != string(code) {
		t.Errorf("error code = %s, want %s", mcpErr.Code, code)
	}
}

func resultText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if text, ok := c.(mcp.TextContent); ok {
			return text.Text
		}
	}
	return ""
}

// parseResultJSON parses the JSON text content of a result
func parseResultJSON(t *testing.T, result *mcp.CallToolResult, out any) {
	t.Helper()
	if err := json.Unmarshal([]byte(resultText(result)), out); err != nil {
		t.Fatalf("parse result: %v", err)
	}
}
