package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordBoundaryFetch(t *testing.T) {
	BoundaryFetchesTotal.Reset()

	RecordBoundaryFetch("provinces", 20*time.Millisecond, true)
	RecordBoundaryFetch("provinces", 30*time.Millisecond, true)
	RecordBoundaryFetch("provinces", 5*time.Millisecond, false)

	if got := testutil.ToFloat64(BoundaryFetchesTotal.WithLabelValues("provinces", "success")); got != 2 {
		t.Errorf("expected 2 successful fetches, got %v", got)
	}
	if got := testutil.ToFloat64(BoundaryFetchesTotal.WithLabelValues("provinces", "error")); got != 1 {
		t.Errorf("expected 1 failed fetch, got %v", got)
	}
}

func TestRecordStaleDiscard(t *testing.T) {
	StaleOverlaysDiscarded.Reset()

	RecordStaleDiscard("districts")

	if got := testutil.ToFloat64(StaleOverlaysDiscarded.WithLabelValues("districts")); got != 1 {
		t.Errorf("expected 1 discard, got %v", got)
	}
}

func TestRecordCategorySelection(t *testing.T) {
	CategorySelections.Reset()

	for i := 0; i < 3; i++ {
		RecordCategorySelection("ed")
	}

	if got := testutil.ToFloat64(CategorySelections.WithLabelValues("ed")); got != 3 {
		t.Errorf("expected 3 selections, got %v", got)
	}
}

func TestRecordMCPRequest(t *testing.T) {
	MCPRequestsTotal.Reset()

	RecordMCPRequest("list_categories", 100*time.Millisecond, true)
	RecordMCPRequest("list_categories", 200*time.Millisecond, false)

	if got := testutil.ToFloat64(MCPRequestsTotal.WithLabelValues("list_categories", "success")); got != 1 {
		t.Errorf("expected 1 successful request, got %v", got)
	}
	if got := testutil.ToFloat64(MCPRequestsTotal.WithLabelValues("list_categories", "error")); got != 1 {
		t.Errorf("expected 1 failed request, got %v", got)
	}
}

func TestCacheMetrics(t *testing.T) {
	CacheHits.Reset()
	CacheMisses.Reset()
	CacheSize.Reset()

	RecordCacheHit("tile")
	RecordCacheHit("tile")
	RecordCacheMiss("tile")
	UpdateCacheSize("tile", 12)

	if got := testutil.ToFloat64(CacheHits.WithLabelValues("tile")); got != 2 {
		t.Errorf("expected 2 cache hits, got %v", got)
	}
	if got := testutil.ToFloat64(CacheMisses.WithLabelValues("tile")); got != 1 {
		t.Errorf("expected 1 cache miss, got %v", got)
	}
	if got := testutil.ToFloat64(CacheSize.WithLabelValues("tile")); got != 12 {
		t.Errorf("expected cache size 12, got %v", got)
	}
}

func TestRecordTileRequestAndErrors(t *testing.T) {
	TileRequestsTotal.Reset()
	ErrorsTotal.Reset()

	RecordTileRequest(false)
	RecordError("tiles", "fetch")

	if got := testutil.ToFloat64(TileRequestsTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("expected 1 failed tile request, got %v", got)
	}
	if got := testutil.ToFloat64(ErrorsTotal.WithLabelValues("tiles", "fetch")); got != 1 {
		t.Errorf("expected 1 error, got %v", got)
	}
}
