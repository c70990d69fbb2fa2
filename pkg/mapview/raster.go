package mapview

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/image/colornames"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/vector"
	"golang.org/x/sync/errgroup"

	"github.com/NERVsystems/lkmap/pkg/core"
	"github.com/NERVsystems/lkmap/pkg/monitoring"
	"github.com/NERVsystems/lkmap/pkg/overlay"
	"github.com/NERVsystems/lkmap/pkg/tracing"
)

const (
	// MaxRenderSize bounds either side of a rendered image
	MaxRenderSize = 2048

	maxLatitude = 85.05112878

	// concurrent tile downloads per render
	tileFetchLimit = 8
)

var (
	backgroundColor = color.RGBA{0xdd, 0xdd, 0xdd, 0xff}
	fallbackColor   = color.RGBA{0x33, 0x88, 0xff, 0xff}
)

// viewport maps lon/lat to pixels of a width×height image centred on the map centre
type viewport struct {
	zoom          float64
	width, height int
	originX       float64
	originY       float64
}

func worldPixel(pt orb.Point, zoom float64) (x, y float64) {
	scale := core.DefaultTileSize * math.Exp2(zoom)
	lat := math.Max(-maxLatitude, math.Min(maxLatitude, pt.Lat()))
	sin := math.Sin(lat * math.Pi / 180)

	x = (pt.Lon() + 180) / 360 * scale
	y = (0.5 - math.Log((1+sin)/(1-sin))/(4*math.Pi)) * scale
	return x, y
}

func newViewport(center orb.Point, zoom float64, width, height int) viewport {
	cx, cy := worldPixel(center, zoom)
	return viewport{
		zoom:    zoom,
		width:   width,
		height:  height,
		originX: cx - float64(width)/2,
		originY: cy - float64(height)/2,
	}
}

func (v viewport) project(pt orb.Point) (x, y float64) {
	wx, wy := worldPixel(pt, v.zoom)
	return wx - v.originX, wy - v.originY
}

func (v viewport) unproject(x, y float64) orb.Point {
	scale := core.DefaultTileSize * math.Exp2(v.zoom)
	wx := (x + v.originX) / scale
	wy := (y + v.originY) / scale

	lon := wx*360 - 180
	lat := math.Atan(math.Sinh(math.Pi*(1-2*wy))) * 180 / math.Pi
	return orb.Point{lon, lat}
}

// Project converts a lon/lat point to pixel coordinates of a width×height render
func (m *Map) Project(pt orb.Point, width, height int) (x, y float64) {
	return newViewport(m.opts.Center, m.opts.Zoom, width, height).project(pt)
}

// Unproject converts pixel coordinates of a width×height render to lon/lat
func (m *Map) Unproject(x, y float64, width, height int) orb.Point {
	return newViewport(m.opts.Center, m.opts.Zoom, width, height).unproject(x, y)
}

// ClickPixel dispatches a click at pixel (x, y) of a width×height render
func (m *Map) ClickPixel(x, y float64, width, height int) bool {
	return m.Click(m.Unproject(x, y, width, height))
}

type drawable struct {
	polygon orb.Polygon
	style   overlay.Style
}

// snapshot copies what Render needs so drawing happens without the lock
func (m *Map) snapshot() ([]drawable, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, viewClosed()
	}

	var out []drawable
	for _, id := range m.order {
		for _, f := range m.layers[id].features {
			if len(f.polygon) == 0 {
				continue
			}
			out = append(out, drawable{polygon: f.polygon, style: f.style})
		}
	}
	return out, nil
}

// Render draws the base tiles, every overlay in insertion order and the
// attribution. Tiles that cannot be fetched leave the background visible.
func (m *Map) Render(ctx context.Context, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 || width > MaxRenderSize || height > MaxRenderSize {
		return nil, core.NewValidationError(core.ErrInvalidParameter,
			fmt.Sprintf("render size %dx%d must be within 1..%d", width, height, MaxRenderSize))
	}

	ctx, span := tracing.StartSpan(ctx, "mapview.render")
	defer span.End()
	span.SetAttributes(attribute.Int("lkmap.render.width", width), attribute.Int("lkmap.render.height", height))

	start := time.Now()
	defer func() { monitoring.MapRenderDuration.Observe(time.Since(start).Seconds()) }()

	shapes, err := m.snapshot()
	if err != nil {
		return nil, err
	}

	vp := newViewport(m.opts.Center, m.opts.Zoom, width, height)
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: backgroundColor}, image.Point{}, draw.Src)

	if m.tiles != nil {
		m.drawTiles(ctx, img, vp)
	}

	z := vector.NewRasterizer(width, height)
	for _, s := range shapes {
		drawPolygon(img, z, vp, s)
	}

	drawAttribution(img, m.opts.Tiles.Attribution)
	return img, nil
}

// RenderPNG renders and encodes the map
func (m *Map) RenderPNG(ctx context.Context, width, height int) ([]byte, error) {
	img, err := m.Render(ctx, width, height)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, core.NewError(core.ErrInternalError, fmt.Sprintf("encode png: %v", err))
	}
	return buf.Bytes(), nil
}

type tileImage struct {
	dst image.Rectangle
	img image.Image
}

// drawTiles fetches the tiles covering the viewport at the nearest lower
// integer zoom and scales them to the fractional zoom
func (m *Map) drawTiles(ctx context.Context, img *image.RGBA, vp viewport) {
	tz := int(math.Floor(vp.zoom))
	if tz < 0 {
		tz = 0
	}
	if tz > m.opts.Tiles.MaxZoom {
		tz = m.opts.Tiles.MaxZoom
	}
	n := 1 << tz
	size := core.DefaultTileSize * math.Exp2(vp.zoom-float64(tz))

	minX := int(math.Floor(vp.originX / size))
	maxX := int(math.Floor((vp.originX + float64(vp.width)) / size))
	minY := max(0, int(math.Floor(vp.originY/size)))
	maxY := min(n-1, int(math.Floor((vp.originY+float64(vp.height))/size)))

	var coords [][2]int
	for ty := minY; ty <= maxY; ty++ {
		for tx := minX; tx <= maxX; tx++ {
			coords = append(coords, [2]int{tx, ty})
		}
	}

	tiles := make([]tileImage, len(coords))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tileFetchLimit)
	for i, c := range coords {
		g.Go(func() error {
			tx, ty := c[0], c[1]
			wrapped := ((tx % n) + n) % n

			data, err := m.tiles.FetchTile(gctx, tz, wrapped, ty)
			if err != nil {
				slog.Debug("tile unavailable", "zoom", tz, "x", wrapped, "y", ty, "error", err)
				return nil
			}
			decoded, _, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				slog.Debug("tile decode failed", "zoom", tz, "x", wrapped, "y", ty, "error", err)
				return nil
			}

			x0 := float64(tx)*size - vp.originX
			y0 := float64(ty)*size - vp.originY
			tiles[i] = tileImage{
				dst: image.Rect(int(math.Floor(x0)), int(math.Floor(y0)), int(math.Ceil(x0+size)), int(math.Ceil(y0+size))),
				img: decoded,
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, t := range tiles {
		if t.img == nil {
			continue
		}
		draw.ApproxBiLinear.Scale(img, t.dst, t.img, t.img.Bounds(), draw.Over, nil)
	}
}

func drawPolygon(img *image.RGBA, z *vector.Rasterizer, vp viewport, s drawable) {
	base := parseColor(s.style.Color)
	bounds := img.Bounds()

	if s.style.FillOpacity > 0 {
		z.Reset(bounds.Dx(), bounds.Dy())
		for _, ring := range s.polygon {
			if len(ring) < 3 {
				continue
			}
			x, y := vp.project(ring[0])
			z.MoveTo(float32(x), float32(y))
			for _, pt := range ring[1:] {
				x, y = vp.project(pt)
				z.LineTo(float32(x), float32(y))
			}
			z.ClosePath()
		}
		fill := color.NRGBA{base.R, base.G, base.B, uint8(math.Round(255 * math.Min(1, s.style.FillOpacity)))}
		z.Draw(img, bounds, image.NewUniform(fill), image.Point{})
	}

	if s.style.Weight > 0 {
		z.Reset(bounds.Dx(), bounds.Dy())
		for _, ring := range s.polygon {
			strokeRing(z, vp, ring, s.style.Weight)
		}
		z.Draw(img, bounds, image.NewUniform(base), image.Point{})
	}
}

// strokeRing adds one quad per closed-ring segment. All quads share a
// winding, so overlaps at the joints saturate rather than cancel.
func strokeRing(z *vector.Rasterizer, vp viewport, ring orb.Ring, weight float64) {
	if len(ring) < 2 {
		return
	}
	half := weight / 2
	for i := range ring {
		ax, ay := vp.project(ring[i])
		bx, by := vp.project(ring[(i+1)%len(ring)])

		dx, dy := bx-ax, by-ay
		length := math.Hypot(dx, dy)
		if length == 0 {
			continue
		}
		nx, ny := -dy/length*half, dx/length*half

		z.MoveTo(float32(ax+nx), float32(ay+ny))
		z.LineTo(float32(bx+nx), float32(by+ny))
		z.LineTo(float32(bx-nx), float32(by-ny))
		z.LineTo(float32(ax-nx), float32(ay-ny))
		z.ClosePath()
	}
}

// parseColor accepts SVG color names and #rgb / #rrggbb
func parseColor(s string) color.RGBA {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := colornames.Map[s]; ok {
		return c
	}

	hex := strings.TrimPrefix(s, "#")
	if hex == s {
		return fallbackColor
	}
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) != 6 {
		return fallbackColor
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return fallbackColor
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 0xff}
}

func drawAttribution(img *image.RGBA, text string) {
	if text == "" {
		return
	}
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	bounds := img.Bounds()

	const pad = 3
	box := image.Rect(bounds.Max.X-width-2*pad, bounds.Max.Y-face.Height-pad, bounds.Max.X, bounds.Max.Y)
	draw.Draw(img, box, &image.Uniform{C: color.NRGBA{0xff, 0xff, 0xff, 0xb0}}, image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{0x33, 0x33, 0x33, 0xff}),
		Face: face,
		Dot:  fixed.P(box.Min.X+pad, bounds.Max.Y-pad-face.Descent),
	}
	d.DrawString(text)
}
