// Package geo contains the flat-earth geodesy shared by every stage of the
// scene builder: slippy-map tile indexing and the local tangent-plane projection.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

// DefaultScale converts degree offsets into scene units.
// It is a linear approximation that is only meaningful for small areas.
const DefaultScale = 2000.0

// LocalPoint is a planar offset from the scene centroid.
// X grows eastwards, Z grows northwards.
type LocalPoint struct {
	X float64
	Z float64
}

// TileIndex returns the slippy-map tile containing (lat, lon) at the given zoom.
// Latitudes close to ±90° overflow the Mercator transform; callers must clamp them.
func TileIndex(lat, lon float64, zoom int) (x, y int) {
	fx, fy := TileFraction(lat, lon, zoom)
	return int(fx), int(fy)
}

// TileFraction returns the continuous tile position of (lat, lon). The integer
// part is the tile index, the fractional part the position inside that tile.
func TileFraction(lat, lon float64, zoom int) (fx, fy float64) {
	latRad := lat * math.Pi / 180.0
	n := math.Exp2(float64(zoom))

	fx = (lon + 180.0) / 360.0 * n
	fy = (1.0 - math.Asinh(math.Tan(latRad))/math.Pi) / 2.0 * n
	return fx, fy
}

// ProjectLocal maps a geographic point into the local plane around center.
func ProjectLocal(p, center orb.Point, scale float64) LocalPoint {
	return LocalPoint{
		X: (p.Lon() - center.Lon()) * scale,
		Z: (p.Lat() - center.Lat()) * scale,
	}
}

// ProjectAll projects every point of ls, preserving order.
func ProjectAll(ls orb.LineString, center orb.Point, scale float64) []LocalPoint {
	out := make([]LocalPoint, len(ls))
	for i, p := range ls {
		out[i] = ProjectLocal(p, center, scale)
	}
	return out
}
