// Package mapview is the in-process map engine behind the web and MCP
// surfaces: one base tile layer, any number of vector overlay layers, click
// hit-testing, and PNG rendering. It also holds the per-session view that
// ties the map to the category selector.
package mapview

import (
	"context"
	"fmt"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/overlay"
)

// TileLayerOptions describes the base tile layer
type TileLayerOptions struct {
	URLTemplate string   `json:"url"`
	Subdomains  []string `json:"subdomains"`
	MaxZoom     int      `json:"maxZoom"`
	Attribution string   `json:"attribution"`
}

// Options configures a map
type Options struct {
	Center orb.Point        `json:"center"`
	Zoom   float64          `json:"zoom"`
	Tiles  TileLayerOptions `json:"tiles"`
}

// DefaultOptions centers the map on Sri Lanka over OpenStreetMap tiles
func DefaultOptions() Options {
	return Options{
		Center: orb.Point{80.7718, 7.8731},
		Zoom:   7.5,
		Tiles: TileLayerOptions{
			URLTemplate: core.DefaultTileURL,
			Subdomains:  core.DefaultSubdomains,
			MaxZoom:     18,
			Attribution: "© OpenStreetMap contributors",
		},
	}
}

// TileSource supplies encoded base-map tiles
type TileSource interface {
	FetchTile(ctx context.Context, zoom, x, y int) ([]byte, error)
}

// bboxEpsilon keeps degenerate feature bounds indexable (~11 m at the equator)
const bboxEpsilon = 0.0001

type layer struct {
	id       overlay.LayerID
	seq      int
	features []*indexedFeature
	handlers []overlay.ClickHandler
}

// indexedFeature wraps a polygon feature for R-tree storage
type indexedFeature struct {
	layer   *layer
	index   int
	feature *geojson.Feature
	polygon orb.Polygon
	bound   orb.Bound
	style   overlay.Style
}

// Bounds implements rtreego.Spatial
func (f *indexedFeature) Bounds() rtreego.Rect {
	point := rtreego.Point{f.bound.Min.Lon(), f.bound.Min.Lat()}

	lonLength := f.bound.Max.Lon() - f.bound.Min.Lon()
	latLength := f.bound.Max.Lat() - f.bound.Min.Lat()
	if lonLength < bboxEpsilon {
		lonLength = bboxEpsilon
	}
	if latLength < bboxEpsilon {
		latLength = bboxEpsilon
	}

	rect, _ := rtreego.NewRect(point, []float64{lonLength, latLength})
	return rect
}

// Map holds the layers of one map instance. It implements overlay.Renderer.
type Map struct {
	opts  Options
	tiles TileSource

	mu     sync.RWMutex
	closed bool
	seq    int
	layers map[overlay.LayerID]*layer
	order  []overlay.LayerID
	index  *rtreego.Rtree
}

var _ overlay.Renderer = (*Map)(nil)

// New creates a map. tiles may be nil, in which case only overlays are drawn.
func New(opts Options, tiles TileSource) *Map {
	if opts.Tiles.MaxZoom <= 0 {
		opts.Tiles.MaxZoom = DefaultOptions().Tiles.MaxZoom
	}
	return &Map{
		opts:   opts,
		tiles:  tiles,
		layers: make(map[overlay.LayerID]*layer),
		index:  rtreego.NewTree(2, 25, 50),
	}
}

// Options returns the options the map was created with
func (m *Map) Options() Options {
	return m.opts
}

func viewClosed() error {
	return core.NewError(core.ErrViewClosed, "map has been removed").
		WithGuidance("Open a new view to continue")
}

// CreateOverlayLayer attaches a vector layer drawn above the base tiles and
// every earlier overlay. Non-polygon geometries are kept but not drawn.
func (m *Map) CreateOverlayLayer(fc *geojson.FeatureCollection, style overlay.Style) (overlay.LayerID, error) {
	if fc == nil {
		return "", core.NewValidationError(core.ErrInvalidParameter, "feature collection is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", viewClosed()
	}

	m.seq++
	l := &layer{
		id:  overlay.LayerID(uuid.NewString()),
		seq: m.seq,
	}
	for i, f := range fc.Features {
		entry := &indexedFeature{layer: l, index: i, feature: f, style: style}
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			entry.polygon = g
		case orb.Ring:
			entry.polygon = orb.Polygon{g}
		}
		l.features = append(l.features, entry)

		if len(entry.polygon) > 0 && len(entry.polygon[0]) > 0 {
			entry.bound = entry.polygon.Bound()
			m.index.Insert(entry)
		}
	}

	m.layers[l.id] = l
	m.order = append(m.order, l.id)
	return l.id, nil
}

// RemoveLayer detaches an overlay layer
func (m *Map) RemoveLayer(id overlay.LayerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return viewClosed()
	}
	l, ok := m.layers[id]
	if !ok {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("layer %s is not attached", id))
	}

	for _, f := range l.features {
		if len(f.polygon) > 0 && len(f.polygon[0]) > 0 {
			m.index.Delete(f)
		}
	}
	delete(m.layers, id)
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// AddClickHandler registers handler for clicks on any feature of the layer
func (m *Map) AddClickHandler(id overlay.LayerID, handler overlay.ClickHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return viewClosed()
	}
	l, ok := m.layers[id]
	if !ok {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("layer %s is not attached", id))
	}
	l.handlers = append(l.handlers, handler)
	return nil
}

// Click dispatches a click at pt to the topmost feature containing it and
// reports whether any feature was hit.
func (m *Map) Click(pt orb.Point) bool {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return false
	}

	query, _ := rtreego.NewRect(rtreego.Point{pt.Lon(), pt.Lat()}, []float64{bboxEpsilon / 10, bboxEpsilon / 10})
	var hit *indexedFeature
	for _, s := range m.index.SearchIntersect(query) {
		f := s.(*indexedFeature)
		if !planar.PolygonContains(f.polygon, pt) {
			continue
		}
		if hit == nil || f.layer.seq > hit.layer.seq ||
			(f.layer.seq == hit.layer.seq && f.index > hit.index) {
			hit = f
		}
	}

	var handlers []overlay.ClickHandler
	if hit != nil {
		handlers = append(handlers, hit.layer.handlers...)
	}
	m.mu.RUnlock()

	if hit == nil {
		return false
	}

	// handlers run unlocked so they can restyle the feature
	h := &featureHandle{m: m, f: hit}
	for _, handler := range handlers {
		handler(h)
	}
	return true
}

type featureHandle struct {
	m *Map
	f *indexedFeature
}

func (h *featureHandle) LayerID() overlay.LayerID  { return h.f.layer.id }
func (h *featureHandle) Index() int                { return h.f.index }
func (h *featureHandle) Feature() *geojson.Feature { return h.f.feature }

func (h *featureHandle) SetStyle(s overlay.Style) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()

	if h.m.closed {
		return viewClosed()
	}
	if _, ok := h.m.layers[h.f.layer.id]; !ok {
		return core.NewError(core.ErrNotFound, fmt.Sprintf("layer %s is not attached", h.f.layer.id))
	}
	h.f.style = s
	return nil
}

// LayerCount returns the number of attached overlay layers
func (m *Map) LayerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// FeatureCollection snapshots every overlay feature in draw order. Each
// feature carries its layer and current style as properties.
func (m *Map) FeatureCollection() *geojson.FeatureCollection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fc := geojson.NewFeatureCollection()
	for _, id := range m.order {
		for _, f := range m.layers[id].features {
			out := geojson.NewFeature(f.feature.Geometry)
			for k, v := range f.feature.Properties {
				out.Properties[k] = v
			}
			out.Properties["layer"] = string(id)
			out.Properties["color"] = f.style.Color
			out.Properties["weight"] = f.style.Weight
			out.Properties["fillOpacity"] = f.style.FillOpacity
			fc.Append(out)
		}
	}
	return fc
}

// Remove releases the map. Every later mutation fails with VIEW_CLOSED.
func (m *Map) Remove() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.layers = nil
	m.order = nil
	m.index = nil
}

// Closed reports whether the map has been removed
func (m *Map) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
