package overlay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/NERVsystems/lkmap/pkg/boundary"
)

func newTestManager(log *eventLog) (*Manager, *fakeRenderer, *fakeFetcher) {
	r := newFakeRenderer(log)
	f := newFakeFetcher(log)
	return NewManager(r, NewLoader(f, nil), nil), r, f
}

func waitBatch(t *testing.T, b *Batch) Report {
	t.Helper()
	select {
	case <-b.Done():
		return b.Wait()
	case <-time.After(5 * time.Second):
		t.Fatal("batch did not complete")
		return Report{}
	}
}

func TestReplaceRendersEverySource(t *testing.T) {
	m, r, f := newTestManager(nil)
	defer m.Close()

	report := waitBatch(t, m.Replace(context.Background(), "provinces", boundary.SourcesFor("provinces")))

	if report.Requested != 9 || report.Rendered != 9 || len(report.Failed) != 0 || report.Discarded != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if f.total() != 9 {
		t.Errorf("expected 9 fetches, got %d", f.total())
	}
	if f.calls["/provinces/LK-1.json"] != 1 || f.calls["/provinces/LK-5.json"] != 1 {
		t.Errorf("expected LK-1 and LK-5 to be fetched once, got %v", f.calls)
	}

	colors := r.colors()
	if colors["red"] != 1 || colors["purple"] != 1 {
		t.Errorf("expected one red and one purple overlay, got %v", colors)
	}
	for id, l := range r.layers {
		if l.style.Weight != 2 || l.style.FillOpacity != 0.1 {
			t.Errorf("layer %s style = %+v, want weight 2 fillOpacity 0.1", id, l.style)
		}
		if len(l.fc.Features) != 1 {
			t.Errorf("layer %s has %d features, want 1", id, len(l.fc.Features))
		}
	}
	if got := len(m.Active()); got != 9 {
		t.Errorf("expected 9 active layers, got %d", got)
	}
}

func TestReplaceIsolatesFailures(t *testing.T) {
	m, r, f := newTestManager(nil)
	defer m.Close()
	f.fail["/provinces/LK-3.json"] = true

	report := waitBatch(t, m.Replace(context.Background(), "provinces", boundary.SourcesFor("provinces")))

	if report.Rendered != 8 {
		t.Errorf("expected 8 rendered overlays, got %d", report.Rendered)
	}
	if len(report.Failed) != 1 || report.Failed[0].Path != "/provinces/LK-3.json" {
		t.Fatalf("expected LK-3 to fail, got %+v", report.Failed)
	}
	if report.Failed[0].Category != "provinces" {
		t.Errorf("failure category = %q", report.Failed[0].Category)
	}
	if r.colors()["gold"] != 0 {
		t.Error("failed source must not produce an overlay")
	}
}

func TestReplaceMalformedSourceIsIsolated(t *testing.T) {
	m, r, _ := newTestManager(nil)
	defer m.Close()

	sources := []boundary.LayerSource{
		{Path: "/demo/good.json", Color: "red"},
		{Path: "/demo/broken.bad", Color: "green"},
	}
	report := waitBatch(t, m.Replace(context.Background(), "demo", sources))

	if report.Rendered != 1 || len(report.Failed) != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if !strings.Contains(report.Failed[0].Error(), "MALFORMED_BOUNDARY") {
		t.Errorf("expected malformed boundary error, got %v", report.Failed[0].Error())
	}
	if r.count() != 1 {
		t.Errorf("expected 1 overlay, got %d", r.count())
	}
}

func TestReplaceRemovesBeforeDispatch(t *testing.T) {
	log := &eventLog{}
	m, r, f := newTestManager(log)
	defer m.Close()

	waitBatch(t, m.Replace(context.Background(), "provinces", boundary.SourcesFor("provinces")))
	old := m.Active()

	f.fail["/districts/LK-92.json"] = true
	log.mu.Lock()
	log.events = nil
	log.mu.Unlock()

	report := waitBatch(t, m.Replace(context.Background(), "districts", boundary.SourcesFor("districts")))
	if report.Rendered != 24 {
		t.Errorf("expected 24 district overlays, got %d", report.Rendered)
	}

	events := log.snapshot()
	removes := 0
	for i, e := range events {
		if strings.HasPrefix(e, "remove ") {
			removes++
			continue
		}
		if removes != len(old) {
			t.Fatalf("event %d (%s) happened before all %d old overlays were removed", i, e, len(old))
		}
		break
	}
	for _, id := range old {
		if _, ok := r.layers[id]; ok {
			t.Errorf("old overlay %s still attached", id)
		}
	}
	if r.colors()["red"] != 3 {
		t.Errorf("expected 3 red Western province districts, got %v", r.colors())
	}
}

func TestReplaceDiscardsStaleResults(t *testing.T) {
	m, r, f := newTestManager(nil)
	defer m.Close()

	gate := f.gate("/provinces/LK-1.json")
	first := m.Replace(context.Background(), "provinces", boundary.SourcesFor("provinces"))

	// wait for the ungated provinces to land before switching
	deadline := time.Now().Add(5 * time.Second)
	for len(m.Active()) < 8 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	second := waitBatch(t, m.Replace(context.Background(), "ed", boundary.SourcesFor("ed")))
	close(gate)
	stale := waitBatch(t, first)

	if stale.Discarded != 1 || stale.Rendered != 8 {
		t.Errorf("expected the late province to be discarded, got %+v", stale)
	}
	if second.Rendered != 22 {
		t.Errorf("expected 22 electoral district overlays, got %d", second.Rendered)
	}
	if r.count() != 22 || len(m.Active()) != 22 {
		t.Errorf("expected only the 22 current overlays, renderer has %d, manager %d", r.count(), len(m.Active()))
	}
	if stale.Generation >= second.Generation {
		t.Errorf("generations out of order: %d then %d", stale.Generation, second.Generation)
	}
}

func TestReselectReloadsFromScratch(t *testing.T) {
	m, r, f := newTestManager(nil)
	defer m.Close()

	const reselections = 3
	for i := 0; i < reselections; i++ {
		waitBatch(t, m.Replace(context.Background(), "provinces", boundary.SourcesFor("provinces")))
	}

	if got := f.total(); got != reselections*9 {
		t.Errorf("expected %d fetches, got %d", reselections*9, got)
	}
	if r.count() != 9 {
		t.Errorf("expected 9 overlays after reselection, got %d", r.count())
	}
}

func TestClickHighlightsFeature(t *testing.T) {
	m, r, _ := newTestManager(nil)
	defer m.Close()

	waitBatch(t, m.Replace(context.Background(), "provinces", boundary.SourcesFor("provinces")[:1]))
	id := m.Active()[0]

	r.click(id, 0)
	r.click(id, 0)

	got := r.layers[id].styles[0]
	if got != HighlightStyle {
		t.Errorf("clicked feature style = %+v, want %+v", got, HighlightStyle)
	}
	if r.layers[id].style != SourceStyle("red") {
		t.Errorf("layer style changed to %+v", r.layers[id].style)
	}
}

func TestReplaceWithNoSources(t *testing.T) {
	m, r, _ := newTestManager(nil)
	defer m.Close()

	waitBatch(t, m.Replace(context.Background(), "provinces", boundary.SourcesFor("provinces")))
	report := waitBatch(t, m.Replace(context.Background(), "unknown", boundary.SourcesFor("unknown")))

	if report.Requested != 0 || report.Rendered != 0 {
		t.Errorf("unexpected report %+v", report)
	}
	if r.count() != 0 {
		t.Errorf("expected every overlay removed, %d remain", r.count())
	}
}

func TestCloseRemovesOverlays(t *testing.T) {
	m, r, f := newTestManager(nil)

	waitBatch(t, m.Replace(context.Background(), "provinces", boundary.SourcesFor("provinces")))
	m.Close()
	m.Close()

	if r.count() != 0 {
		t.Errorf("expected no overlays after Close, got %d", r.count())
	}

	before := f.total()
	report := waitBatch(t, m.Replace(context.Background(), "districts", boundary.SourcesFor("districts")))
	if report.Rendered != 0 || f.total() != before {
		t.Errorf("Replace after Close should do nothing, got %+v", report)
	}
}

func TestReplaceOutlivesCallerContext(t *testing.T) {
	m, r, f := newTestManager(nil)
	defer m.Close()

	gate := f.gate("/provinces/LK-2.json")
	ctx, cancel := context.WithCancel(context.Background())
	b := m.Replace(ctx, "provinces", boundary.SourcesFor("provinces"))
	cancel()
	close(gate)

	if report := waitBatch(t, b); report.Rendered != 9 {
		t.Errorf("expected all 9 overlays despite the caller going away, got %+v", report)
	}
	if r.colors()["green"] != 1 {
		t.Error("expected the gated province to render")
	}
}
