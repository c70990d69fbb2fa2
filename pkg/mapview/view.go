package mapview

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/monitoring"
	"github.com/NERVsystems/lkmap/pkg/overlay"
)

// Config holds what a view needs to open
type Config struct {
	Options         Options
	Registry        *boundary.Registry
	Fetcher         overlay.Fetcher
	Tiles           TileSource
	InitialCategory string
	Logger          *slog.Logger
}

// View is one user's map: a map instance, the overlays of the selected
// category, and the selector. Exactly one category is selected at a time.
type View struct {
	id       string
	registry *boundary.Registry
	m        *Map
	manager  *overlay.Manager
	panel    *Panel
	logger   *slog.Logger

	mu       sync.Mutex
	selected string
	batch    *overlay.Batch
	closed   bool
}

// Open creates the map and starts loading the initial category
func Open(ctx context.Context, cfg Config) (*View, error) {
	if cfg.Fetcher == nil {
		return nil, core.NewValidationError(core.ErrMissingParameter, "a boundary fetcher is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = boundary.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Options.Zoom == 0 && cfg.Options.Center == (orb.Point{}) {
		cfg.Options = DefaultOptions()
	}
	initial := cfg.InitialCategory
	if initial == "" {
		initial = boundary.DefaultCategory
	}
	if !cfg.Registry.Known(initial) {
		return nil, core.NewValidationError(core.ErrInvalidParameter, fmt.Sprintf("unknown initial category %q", initial))
	}

	id := uuid.NewString()
	logger := cfg.Logger.With("view", id)
	m := New(cfg.Options, cfg.Tiles)

	v := &View{
		id:       id,
		registry: cfg.Registry,
		m:        m,
		manager:  overlay.NewManager(m, overlay.NewLoader(cfg.Fetcher, logger), logger),
		logger:   logger,
	}
	v.panel = NewPanel(cfg.Registry, func(ctx context.Context, category string) {
		if _, err := v.selectCategory(ctx, category); err != nil {
			logger.Debug("selection on a closed view", "category", category)
		}
	})

	monitoring.OpenViews.Inc()
	if err := v.panel.Choose(ctx, initial); err != nil {
		v.Close()
		return nil, err
	}

	logger.Debug("view opened", "category", initial)
	return v, nil
}

// WithView opens a view, runs fn, and always releases the view afterwards
func WithView(ctx context.Context, cfg Config, fn func(*View) error) error {
	v, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer v.Close()
	return fn(v)
}

// ID identifies the view
func (v *View) ID() string {
	return v.id
}

// Panel returns the category selector
func (v *View) Panel() *Panel {
	return v.panel
}

// Map returns the underlying map instance
func (v *View) Map() *Map {
	return v.m
}

// Select makes category the selected one and reloads its overlays. Choosing
// the already selected category reloads it as well. The returned batch is
// the one this call started, even when other selections race with it.
func (v *View) Select(ctx context.Context, category string) (*overlay.Batch, error) {
	if err := v.panel.Validate(category); err != nil {
		return nil, err
	}
	return v.selectCategory(ctx, category)
}

func (v *View) selectCategory(ctx context.Context, category string) (*overlay.Batch, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, viewClosed()
	}
	v.selected = category
	v.batch = v.manager.Replace(ctx, category, v.registry.SourcesFor(category))
	monitoring.RecordCategorySelection(category)
	v.logger.Info("category selected", "category", category, "generation", v.manager.Generation())
	return v.batch, nil
}

// Selected returns the selected category
func (v *View) Selected() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.selected
}

// Wait blocks until the loads of the latest selection have completed
func (v *View) Wait(ctx context.Context) (overlay.Report, error) {
	v.mu.Lock()
	b := v.batch
	v.mu.Unlock()

	if b == nil {
		return overlay.Report{}, viewClosed()
	}
	select {
	case <-b.Done():
		return b.Wait(), nil
	case <-ctx.Done():
		return overlay.Report{}, ctx.Err()
	}
}

// Click dispatches a click at a geographic point
func (v *View) Click(pt orb.Point) bool {
	return v.m.Click(pt)
}

// ClickPixel dispatches a click at pixel (x, y) of a width×height render
func (v *View) ClickPixel(x, y float64, width, height int) bool {
	return v.m.ClickPixel(x, y, width, height)
}

// Render draws the current state of the map
func (v *View) Render(ctx context.Context, width, height int) (*image.RGBA, error) {
	return v.m.Render(ctx, width, height)
}

// RenderPNG draws and encodes the current state of the map
func (v *View) RenderPNG(ctx context.Context, width, height int) ([]byte, error) {
	return v.m.RenderPNG(ctx, width, height)
}

// Overlays snapshots the rendered overlays as GeoJSON
func (v *View) Overlays() *geojson.FeatureCollection {
	return v.m.FeatureCollection()
}

// Close removes every overlay and releases the map. It is idempotent.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.manager.Close()
	v.m.Remove()
	monitoring.OpenViews.Dec()
	v.logger.Debug("view closed")
}
