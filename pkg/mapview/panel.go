package mapview

import (
	"context"
	"fmt"

	"github.com/NERVsystems/lkmap/pkg/boundary"
	"github.com/NERVsystems/lkmap/pkg/core"
)

// Option is one entry of the category selector
type Option struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Panel is the category selector shown beside the map. Its options are
// static and do not reflect load state.
type Panel struct {
	registry         *boundary.Registry
	options          []Option
	onCategoryChange func(ctx context.Context, id string)
}

// NewPanel lists every category of registry; onCategoryChange is called
// synchronously for each accepted choice
func NewPanel(registry *boundary.Registry, onCategoryChange func(ctx context.Context, id string)) *Panel {
	p := &Panel{registry: registry, onCategoryChange: onCategoryChange}
	for _, c := range registry.Categories() {
		p.options = append(p.options, Option{ID: c.ID, Label: c.Label})
	}
	return p
}

// Options returns the selector entries in display order
func (p *Panel) Options() []Option {
	return append([]Option(nil), p.options...)
}

// Validate rejects identifiers the panel does not offer
func (p *Panel) Validate(id string) error {
	if !p.registry.Known(id) {
		return core.NewValidationError(core.ErrInvalidInput, fmt.Sprintf("unknown category %q", id)).
			WithSuggestions(p.ids()...)
	}
	return nil
}

// Choose selects a category. Identifiers the panel does not offer are rejected.
func (p *Panel) Choose(ctx context.Context, id string) error {
	if err := p.Validate(id); err != nil {
		return err
	}
	if p.onCategoryChange != nil {
		p.onCategoryChange(ctx, id)
	}
	return nil
}

func (p *Panel) ids() []string {
	ids := make([]string, len(p.options))
	for i, o := range p.options {
		ids[i] = o.ID
	}
	return ids
}
