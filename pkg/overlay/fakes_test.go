package overlay

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/NERVsystems/lkmap/pkg/core"
)

const testRing = `[[[79.8,6.9],[79.9,6.9],[79.9,7.0],[79.8,7.0]]]`

// eventLog records renderer and fetcher calls in the order they happen
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeLayer struct {
	fc     *geojson.FeatureCollection
	style  Style
	styles map[int]Style
}

type fakeRenderer struct {
	log *eventLog

	mu       sync.Mutex
	next     int
	layers   map[LayerID]*fakeLayer
	handlers map[LayerID][]ClickHandler
	order    []LayerID
}

func newFakeRenderer(log *eventLog) *fakeRenderer {
	if log == nil {
		log = &eventLog{}
	}
	return &fakeRenderer{
		log:      log,
		layers:   make(map[LayerID]*fakeLayer),
		handlers: make(map[LayerID][]ClickHandler),
	}
}

func (r *fakeRenderer) CreateOverlayLayer(fc *geojson.FeatureCollection, style Style) (LayerID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	id := LayerID(fmt.Sprintf("layer-%d", r.next))
	r.layers[id] = &fakeLayer{fc: fc, style: style, styles: make(map[int]Style)}
	r.order = append(r.order, id)
	r.log.add("create %s %s", id, style.Color)
	return id, nil
}

func (r *fakeRenderer) RemoveLayer(id LayerID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.layers[id]; !ok {
		return core.NewError(core.ErrNotFound, "no such layer")
	}
	delete(r.layers, id)
	delete(r.handlers, id)
	r.log.add("remove %s", id)
	return nil
}

func (r *fakeRenderer) AddClickHandler(id LayerID, h ClickHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.layers[id]; !ok {
		return core.NewError(core.ErrNotFound, "no such layer")
	}
	r.handlers[id] = append(r.handlers[id], h)
	return nil
}

// colors returns the source colors of the attached layers
func (r *fakeRenderer) colors() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]int)
	for _, l := range r.layers {
		out[l.style.Color]++
	}
	return out
}

func (r *fakeRenderer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.layers)
}

// click simulates a click on feature idx of layer id
func (r *fakeRenderer) click(id LayerID, idx int) {
	r.mu.Lock()
	handlers := append([]ClickHandler(nil), r.handlers[id]...)
	r.mu.Unlock()

	for _, h := range handlers {
		h(&fakeHandle{r: r, id: id, idx: idx})
	}
}

type fakeHandle struct {
	r   *fakeRenderer
	id  LayerID
	idx int
}

func (h *fakeHandle) LayerID() LayerID { return h.id }
func (h *fakeHandle) Index() int       { return h.idx }

func (h *fakeHandle) Feature() *geojson.Feature {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.r.layers[h.id].fc.Features[h.idx]
}

func (h *fakeHandle) SetStyle(s Style) error {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	l, ok := h.r.layers[h.id]
	if !ok {
		return core.NewError(core.ErrNotFound, "no such layer")
	}
	l.styles[h.idx] = s
	return nil
}

// fakeFetcher serves testRing for every path except those listed in fail.
// Paths with a gate block until the gate is closed, ignoring cancellation,
// like a response already on the wire.
type fakeFetcher struct {
	log  *eventLog
	fail map[string]bool

	mu    sync.Mutex
	calls map[string]int
	gates map[string]chan struct{}
}

func newFakeFetcher(log *eventLog) *fakeFetcher {
	if log == nil {
		log = &eventLog{}
	}
	return &fakeFetcher{
		log:   log,
		fail:  make(map[string]bool),
		calls: make(map[string]int),
		gates: make(map[string]chan struct{}),
	}
}

func (f *fakeFetcher) gate(path string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[path] = ch
	return ch
}

func (f *fakeFetcher) Fetch(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	f.calls[path]++
	gate := f.gates[path]
	f.mu.Unlock()
	f.log.add("fetch %s", path)

	if gate != nil {
		<-gate
	}
	if f.fail[path] {
		return nil, core.ServiceError("boundaries", 404, "not found")
	}
	if strings.HasSuffix(path, ".bad") {
		return []byte(`{"not":"rings"}`), nil
	}
	return []byte(testRing), nil
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}
