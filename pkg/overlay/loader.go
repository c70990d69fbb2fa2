package overlay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/geojson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/monitoring"
	"github.com/NERVsystems/lkmap/pkg/tracing"
)

// Overlay is a loaded, not yet rendered, source
type Overlay struct {
	Category string
	Source   boundary.LayerSource
	Features *geojson.FeatureCollection
	Style    Style
}

// SourceError reports a source that could not be loaded
type SourceError struct {
	Category string `json:"category"`
	Path     string `json:"path"`
	Err      error  `json:"-"`
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("load %s (%s): %v", e.Path, e.Category, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// Loader turns layer sources into overlays
type Loader struct {
	fetcher Fetcher
	logger  *slog.Logger
}

// NewLoader creates a loader over fetcher
func NewLoader(fetcher Fetcher, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		fetcher: fetcher,
		logger:  logger.With("component", "overlay_loader"),
	}
}

// Load fetches and decodes one source. Fetch failures and malformed bodies
// are both returned as *SourceError.
func (l *Loader) Load(ctx context.Context, category string, src boundary.LayerSource) (*Overlay, error) {
	ctx, span := tracing.StartSpan(ctx, "overlay.load",
		trace.WithAttributes(tracing.SourceAttributes(category, src.Path, src.Color)...))
	defer span.End()

	start := time.Now()
	fc, err := l.fetchFeatures(ctx, src.Path)
	monitoring.RecordBoundaryFetch(category, time.Since(start), err == nil)
	tracing.Finish(span, err)
	if err != nil {
		return nil, &SourceError{Category: category, Path: src.Path, Err: err}
	}

	span.SetAttributes(attribute.Int(tracing.AttrFeatureCount, len(fc.Features)))
	l.logger.Debug("loaded source", "category", category, "path", src.Path, "features", len(fc.Features))

	return &Overlay{
		Category: category,
		Source:   src,
		Features: fc,
		Style:    SourceStyle(src.Color),
	}, nil
}

func (l *Loader) fetchFeatures(ctx context.Context, path string) (*geojson.FeatureCollection, error) {
	body, err := l.fetcher.Fetch(ctx, path)
	if err != nil {
		return nil, err
	}
	return boundary.Decode(body)
}
