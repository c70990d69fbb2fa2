package overlay

import "github.com/paulmach/orb/geojson"

// LayerID identifies an overlay layer attached to a renderer
type LayerID string

// FeatureHandle is the feature a click landed on
type FeatureHandle interface {
	LayerID() LayerID
	Index() int
	Feature() *geojson.Feature
	SetStyle(Style) error
}

// ClickHandler is invoked with the clicked feature
type ClickHandler func(FeatureHandle)

// Renderer is the capability the lifecycle needs from a map engine. The base
// tile layer is not reachable through it.
type Renderer interface {
	CreateOverlayLayer(fc *geojson.FeatureCollection, style Style) (LayerID, error)
	RemoveLayer(id LayerID) error
	AddClickHandler(id LayerID, handler ClickHandler) error
}
