package overlay

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/monitoring"
	"github.com/NERVsystems/lkmap/pkg/tracing"
)

// Report summarizes a finished batch
type Report struct {
	Category   string        `json:"category"`
	Generation uint64        `json:"generation"`
	Requested  int           `json:"requested"`
	Rendered   int           `json:"rendered"`
	Failed     []SourceError `json:"failed,omitempty"`
	Discarded  int           `json:"discarded"`
}

// Batch is the set of loads dispatched for one selection
type Batch struct {
	done   chan struct{}
	report Report
}

// Done is closed once every load of the batch has completed
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch completes and returns its report
func (b *Batch) Wait() Report {
	<-b.done
	return b.report
}

func finishedBatch(r Report) *Batch {
	b := &Batch{done: make(chan struct{}), report: r}
	close(b.done)
	return b
}

// Manager keeps the overlays on a renderer in step with the selected
// category. Each Replace starts a new generation; results that complete
// after a newer generation has started are dropped.
type Manager struct {
	renderer Renderer
	loader   *Loader
	logger   *slog.Logger

	mu         sync.Mutex
	generation uint64
	active     []LayerID
	cancel     context.CancelFunc
	closed     bool
}

// NewManager creates a lifecycle manager drawing on renderer
func NewManager(renderer Renderer, loader *Loader, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		renderer: renderer,
		loader:   loader,
		logger:   logger.With("component", "overlay_manager"),
	}
}

// Replace removes every overlay currently attached and then loads sources
// for category, one independent load per source. Removal always happens
// before any load is dispatched, so a failing load never leaves the
// previous category's overlays behind.
//
// Loads outlive ctx's cancellation (a request that triggered the selection
// may end first) but are cancelled when a later Replace or Close supersedes them.
func (m *Manager) Replace(ctx context.Context, category string, sources []boundary.LayerSource) *Batch {
	m.mu.Lock()
	if m.closed {
		gen := m.generation
		m.mu.Unlock()
		return finishedBatch(Report{Category: category, Generation: gen})
	}

	m.generation++
	gen := m.generation
	if m.cancel != nil {
		m.cancel()
	}
	m.removeAllLocked()

	batchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancel = cancel
	m.mu.Unlock()

	batchCtx, span := tracing.StartSpan(batchCtx, "overlay.replace",
		trace.WithAttributes(
			attribute.String(tracing.AttrCategory, category),
			attribute.Int64(tracing.AttrGeneration, int64(gen)),
			attribute.Int(tracing.AttrSourceCount, len(sources)),
		))

	b := &Batch{
		done: make(chan struct{}),
		report: Report{
			Category:   category,
			Generation: gen,
			Requested:  len(sources),
		},
	}

	var g errgroup.Group
	for _, src := range sources {
		g.Go(func() error {
			ov, err := m.loader.Load(batchCtx, category, src)
			m.commit(b, ov, err)
			// a failed source never stops its siblings
			return nil
		})
	}

	go func() {
		defer close(b.done)
		_ = g.Wait()
		cancel()

		span.SetAttributes(
			attribute.Int("lkmap.overlay.rendered", b.report.Rendered),
			attribute.Int("lkmap.overlay.failed", len(b.report.Failed)),
			attribute.Int("lkmap.overlay.discarded", b.report.Discarded),
		)
		span.End()

		m.logger.Debug("batch complete",
			"category", category,
			"generation", gen,
			"rendered", b.report.Rendered,
			"failed", len(b.report.Failed),
			"discarded", b.report.Discarded)
	}()

	return b
}

// commit renders a finished load if its batch is still the current generation
func (m *Manager) commit(b *Batch, ov *Overlay, loadErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	category := b.report.Category
	if m.closed || b.report.Generation != m.generation {
		b.report.Discarded++
		monitoring.RecordStaleDiscard(category)
		m.logger.Debug("discarding stale result",
			"category", category,
			"generation", b.report.Generation,
			"current", m.generation)
		return
	}

	if loadErr != nil {
		m.fail(b, loadErr)
		return
	}

	id, err := m.renderer.CreateOverlayLayer(ov.Features, ov.Style)
	if err != nil {
		m.fail(b, &SourceError{Category: category, Path: ov.Source.Path, Err: err})
		return
	}
	if err := m.renderer.AddClickHandler(id, highlight); err != nil {
		m.logger.Warn("failed to attach click handler", "category", category, "path", ov.Source.Path, "error", err)
	}

	m.active = append(m.active, id)
	monitoring.OverlaysRendered.Inc()
	b.report.Rendered++
}

func (m *Manager) fail(b *Batch, err error) {
	var se *SourceError
	if !errors.As(err, &se) {
		se = &SourceError{Category: b.report.Category, Err: err}
	}
	b.report.Failed = append(b.report.Failed, *se)
	monitoring.RecordError("overlay", "load")
	m.logger.Warn("failed to load boundary source",
		"category", se.Category,
		"path", se.Path,
		"error", se.Err)
}

func highlight(h FeatureHandle) {
	if err := h.SetStyle(HighlightStyle); err != nil {
		slog.Default().Debug("highlight failed", "layer", h.LayerID(), "feature", h.Index(), "error", err)
	}
}

// removeAllLocked detaches every active overlay. Caller holds m.mu.
func (m *Manager) removeAllLocked() {
	for _, id := range m.active {
		if err := m.renderer.RemoveLayer(id); err != nil {
			m.logger.Warn("failed to remove overlay", "layer", id, "error", err)
		}
		monitoring.OverlaysRendered.Dec()
	}
	m.active = nil
}

// Active returns the layers rendered for the current generation, in commit order
func (m *Manager) Active() []LayerID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LayerID(nil), m.active...)
}

// Generation returns the current generation token
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Close removes every overlay and cancels in-flight loads. Later Replace
// calls do nothing. Close is idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	m.removeAllLocked()
}
