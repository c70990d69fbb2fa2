// Package boundary holds the Sri Lanka boundary category table and the
// decoding of raw boundary resources into GeoJSON features.
package boundary

import (
	"fmt"
	"slices"
	"sync"

	"github.com/NERVsystems/lkmap/pkg/core"
)

// LayerSource identifies one boundary resource and the color its overlay is drawn in
type LayerSource struct {
	Path  string `json:"path"`
	Color string `json:"color"`
}

// Category is a named administrative division kind and its ordered sources
type Category struct {
	ID      string        `json:"id"`
	Label   string        `json:"label"`
	Sources []LayerSource `json:"sources"`
}

// DefaultCategory is the category selected when a view opens
const DefaultCategory = "provinces"

// Registry maps category identifiers to their layer sources. It is immutable
// after construction and safe for concurrent use.
type Registry struct {
	byID  map[string]Category
	order []string
}

// NewRegistry builds a registry from categories in display order
func NewRegistry(categories ...Category) (*Registry, error) {
	r := &Registry{byID: make(map[string]Category, len(categories))}
	for _, c := range categories {
		if c.ID == "" {
			return nil, core.NewError(core.ErrInvalidParameter, fmt.Sprintf("category with label %q has no id", c.Label))
		}
		if _, dup := r.byID[c.ID]; dup {
			return nil, core.NewError(core.ErrInvalidParameter, fmt.Sprintf("duplicate category %q", c.ID))
		}
		c.Sources = slices.Clone(c.Sources)
		r.byID[c.ID] = c
		r.order = append(r.order, c.ID)
	}
	return r, nil
}

// SourcesFor returns the ordered layer sources of a category. Unknown
// categories yield an empty list, never an error.
func (r *Registry) SourcesFor(category string) []LayerSource {
	c, ok := r.byID[category]
	if !ok {
		return nil
	}
	return slices.Clone(c.Sources)
}

// Lookup returns a copy of the named category
func (r *Registry) Lookup(id string) (Category, bool) {
	c, ok := r.byID[id]
	if !ok {
		return Category{}, false
	}
	c.Sources = slices.Clone(c.Sources)
	return c, true
}

// Known reports whether id names a category
func (r *Registry) Known(id string) bool {
	_, ok := r.byID[id]
	return ok
}

// Categories returns all categories in display order
func (r *Registry) Categories() []Category {
	out := make([]Category, 0, len(r.order))
	for _, id := range r.order {
		c, _ := r.Lookup(id)
		out = append(out, c)
	}
	return out
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the built-in Sri Lanka registry
func Default() *Registry {
	defaultOnce.Do(func() {
		r, err := NewRegistry(builtinCategories()...)
		if err != nil {
			panic(err)
		}
		defaultRegistry = r
	})
	return defaultRegistry
}

// SourcesFor looks up a category in the built-in registry
func SourcesFor(category string) []LayerSource {
	return Default().SourcesFor(category)
}
