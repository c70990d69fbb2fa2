package boundary

import (
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// The repository ships coarse province outlines so a fresh checkout shows
// overlays without further setup.
func TestShippedProvinceData(t *testing.T) {
	data := os.DirFS("../../data")

	var central orb.Polygon
	for _, src := range SourcesFor("provinces") {
		body, err := fs.ReadFile(data, strings.TrimPrefix(src.Path, "/"))
		if err != nil {
			t.Errorf("%s: %v", src.Path, err)
			continue
		}
		fc, err := Decode(body)
		if err != nil {
			t.Errorf("%s: %v", src.Path, err)
			continue
		}
		if len(fc.Features) == 0 {
			t.Errorf("%s has no features", src.Path)
			continue
		}
		if src.Path == "/provinces/LK-2.json" {
			central = fc.Features[0].Geometry.(orb.Polygon)
		}
	}

	if central == nil {
		t.Fatal("central province outline missing")
	}
	if !planar.PolygonContains(central, orb.Point{80.7718, 7.8731}) {
		t.Error("the default map center should fall inside the central province")
	}
}
