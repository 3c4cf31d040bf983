// Package raster draws a top-down preview of classified features, optionally
// over the ground imagery, so a scene can be checked without a 3D viewer.
package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/osmscene/internal/geo"
	"github.com/MeKo-Tech/osmscene/internal/style"
	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb"
	"golang.org/x/image/draw"
	"golang.org/x/image/vector"
)

const (
	// MaxCanvasSize bounds both preview dimensions.
	MaxCanvasSize = 8192

	maxZoom = 19

	// equatorial meters per pixel at zoom 0 for 256px tiles
	metersPerPixelZ0 = 156543.03392
)

// ErrCanvasTooLarge is returned when the bounds need a canvas beyond MaxCanvasSize.
var ErrCanvasTooLarge = errors.New("preview canvas too large")

// PaperColor is the background used without ground imagery.
var PaperColor = color.NRGBA{R: 238, G: 236, B: 230, A: 255}

type Renderer struct {
	style    *style.Style
	zoom     int
	tileSize int
	offsetX  float64 // global pixel space
	offsetY  float64 // global pixel space
	canvasW  int
	canvasH  int
	// latitude used for the meters-per-pixel scale of road widths
	refLat float64
}

// NewRenderer creates a renderer that maps lon/lat to a pixel canvas.
// offsetX/offsetY are the top-left pixel of the canvas in global pixel coordinates at the given zoom.
func NewRenderer(st *style.Style, zoom, tileSize, canvasW, canvasH int, offsetX, offsetY float64) *Renderer {
	if st == nil {
		st = style.Default()
	}
	return &Renderer{
		style:    st,
		zoom:     zoom,
		tileSize: tileSize,
		offsetX:  offsetX,
		offsetY:  offsetY,
		canvasW:  canvasW,
		canvasH:  canvasH,
	}
}

// ForBounds creates a renderer whose canvas covers exactly b at zoom.
func ForBounds(st *style.Style, b types.BoundingBox, zoom, tileSize int) (*Renderer, error) {
	w, h, left, top := canvasFor(b, zoom, tileSize)
	if w > MaxCanvasSize || h > MaxCanvasSize {
		return nil, fmt.Errorf("%w: %dx%d at zoom %d", ErrCanvasTooLarge, w, h, zoom)
	}
	r := NewRenderer(st, zoom, tileSize, w, h, left, top)
	r.refLat, _ = b.Center()
	return r, nil
}

// FitZoom returns the highest zoom at which b fits in a maxSize x maxSize canvas.
func FitZoom(b types.BoundingBox, tileSize, maxSize int) int {
	for z := maxZoom; z > 0; z-- {
		w, h, _, _ := canvasFor(b, z, tileSize)
		if w <= maxSize && h <= maxSize {
			return z
		}
	}
	return 0
}

func canvasFor(b types.BoundingBox, zoom, tileSize int) (w, h int, left, top float64) {
	ts := float64(tileSize)
	fx0, fy0 := geo.TileFraction(b.MaxLat, b.MinLon, zoom)
	fx1, fy1 := geo.TileFraction(b.MinLat, b.MaxLon, zoom)
	left, top = fx0*ts, fy0*ts
	w = max(1, int(math.Ceil(fx1*ts-left)))
	h = max(1, int(math.Ceil(fy1*ts-top)))
	return w, h, left, top
}

// Size returns the canvas dimensions.
func (r *Renderer) Size() (w, h int) {
	return r.canvasW, r.canvasH
}

// Render draws fc over background, which is stretched to the canvas.
// A nil background yields a plain paper color.
// Layers are drawn bottom-up: land, water, roads, buildings.
func (r *Renderer) Render(fc types.FeatureCollection, background image.Image) *image.NRGBA {
	dst := image.NewNRGBA(image.Rect(0, 0, r.canvasW, r.canvasH))
	if background != nil {
		draw.CatmullRom.Scale(dst, dst.Bounds(), background, background.Bounds(), draw.Src, nil)
	} else {
		draw.Draw(dst, dst.Bounds(), image.NewUniform(PaperColor), image.Point{}, draw.Src)
	}

	for i := range fc.Land {
		f := &fc.Land[i]
		r.fillPolygon(dst, f.Coords, r.style.LandColor(f.LandValue).NRGBA(1))
	}
	for i := range fc.Water {
		r.fillPolygon(dst, fc.Water[i].Coords, r.style.WaterColor.NRGBA(1))
	}
	for i := range fc.Roads {
		f := &fc.Roads[i]
		c := r.style.RoadColor(f.Tags["highway"], f.IsParkingSpace()).NRGBA(1)
		r.strokeLineString(dst, f.Coords, r.strokeWidth(f.Width), c)
	}
	for i := range fc.Buildings {
		r.fillPolygon(dst, fc.Buildings[i].Coords, r.style.BuildingColor.NRGBA(1))
	}

	return dst
}

// strokeWidth converts a road width in meters into pixels, at least one pixel.
func (r *Renderer) strokeWidth(meters float64) float64 {
	mpp := metersPerPixelZ0 * math.Cos(r.refLat*math.Pi/180) / math.Exp2(float64(r.zoom))
	mpp *= 256 / float64(r.tileSize)
	if mpp <= 0 {
		return 1
	}
	return math.Max(1, meters/mpp)
}

func (r *Renderer) fillPolygon(dst *image.NRGBA, ring orb.LineString, c color.NRGBA) {
	if len(ring) < 3 {
		return
	}

	ras := vector.NewRasterizer(r.canvasW, r.canvasH)
	for i, pt := range ring {
		x, y := r.lonLatToLocalPx(pt.Lon(), pt.Lat())
		if i == 0 {
			ras.MoveTo(float32(x), float32(y))
		} else {
			ras.LineTo(float32(x), float32(y))
		}
	}
	ras.ClosePath()

	ras.Draw(dst, dst.Bounds(), image.NewUniform(c), image.Point{})
}

func (r *Renderer) strokeLineString(dst *image.NRGBA, ls orb.LineString, width float64, c color.NRGBA) {
	if len(ls) < 2 {
		return
	}
	radius := width / 2.0
	step := 0.75
	if width >= 5 {
		step = 0.9
	}

	for i := 0; i < len(ls)-1; i++ {
		x0, y0 := r.lonLatToLocalPx(ls[i].Lon(), ls[i].Lat())
		x1, y1 := r.lonLatToLocalPx(ls[i+1].Lon(), ls[i+1].Lat())

		dx := x1 - x0
		dy := y1 - y0
		segLen := math.Hypot(dx, dy)
		if segLen == 0 {
			r.drawDisc(dst, x0, y0, radius, c)
			continue
		}

		steps := int(math.Ceil(segLen / step))
		for s := 0; s <= steps; s++ {
			t := float64(s) / float64(steps)
			r.drawDisc(dst, x0+dx*t, y0+dy*t, radius, c)
		}
	}
}

func (r *Renderer) drawDisc(dst *image.NRGBA, cx, cy, radius float64, c color.NRGBA) {
	minX := max(0, int(math.Floor(cx-radius)))
	maxX := min(r.canvasW-1, int(math.Ceil(cx+radius)))
	minY := max(0, int(math.Floor(cy-radius)))
	maxY := min(r.canvasH-1, int(math.Ceil(cy+radius)))

	// Thin strokes always cover the pixel under the center.
	r2 := math.Max(radius*radius, 0.5)
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := (float64(x) + 0.5) - cx
			dy := (float64(y) + 0.5) - cy
			if dx*dx+dy*dy <= r2 {
				dst.SetNRGBA(x, y, c)
			}
		}
	}
}

// lonLatToLocalPx maps WGS84 lon/lat to local pixel coordinates on the current canvas.
// It uses WebMercator math in "global pixel" space, then applies the configured offset.
func (r *Renderer) lonLatToLocalPx(lon, lat float64) (float64, float64) {
	fx, fy := geo.TileFraction(lat, lon, r.zoom)
	ts := float64(r.tileSize)
	return fx*ts - r.offsetX, fy*ts - r.offsetY
}
