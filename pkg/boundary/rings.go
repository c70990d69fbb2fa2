package boundary

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/NERVsystems/lkmap/pkg/core"
)

// minRingPositions is the fewest positions that can enclose an area
const minRingPositions = 3

// ParseRings decodes a boundary resource: a JSON array of rings, each an
// array of [longitude, latitude] pairs. Coordinates are kept exactly as
// given; rings are not closed or reoriented.
func ParseRings(body []byte) ([]orb.Ring, error) {
	var raw [][][]float64
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, malformed("body is not an array of coordinate rings: %v", err)
	}

	rings := make([]orb.Ring, 0, len(raw))
	for i, positions := range raw {
		if len(positions) < minRingPositions {
			return nil, malformed("ring %d has %d positions, need at least %d", i, len(positions), minRingPositions)
		}

		ring := make(orb.Ring, 0, len(positions))
		for j, pos := range positions {
			if len(pos) != 2 {
				return nil, malformed("ring %d position %d has %d values, want [longitude, latitude]", i, j, len(pos))
			}
			ring = append(ring, orb.Point{pos[0], pos[1]})
		}
		rings = append(rings, ring)
	}

	return rings, nil
}

func malformed(format string, args ...any) error {
	return core.NewError(core.ErrMalformedBoundary, fmt.Sprintf(format, args...)).
		WithGuidance("Boundary files must contain [[[lon, lat], ...], ...]")
}

// FeatureCollection wraps each ring as a Polygon feature with the ring as its
// only boundary and no properties
func FeatureCollection(rings []orb.Ring) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, ring := range rings {
		fc.Append(geojson.NewFeature(orb.Polygon{ring}))
	}
	return fc
}

// Decode parses a boundary resource straight into a feature collection
func Decode(body []byte) (*geojson.FeatureCollection, error) {
	rings, err := ParseRings(body)
	if err != nil {
		return nil, err
	}
	return FeatureCollection(rings), nil
}
