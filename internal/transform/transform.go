// Package transform projects classified features into the local scene frame.
package transform

import (
	"errors"

	"github.com/MeKo-Tech/osmscene/internal/geo"
	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb"
)

// ErrNoCoordinates is returned when there is nothing to center the scene on.
var ErrNoCoordinates = errors.New("no coordinates to compute a centroid from")

// Centroid returns the arithmetic mean of every coordinate of every feature.
// Points shared by several features are counted once per occurrence.
func Centroid(fc types.FeatureCollection) (orb.Point, error) {
	var sumLon, sumLat float64
	n := 0
	for _, group := range [][]types.Feature{fc.Buildings, fc.Water, fc.Land, fc.Roads} {
		for _, f := range group {
			for _, p := range f.Coords {
				sumLon += p.Lon()
				sumLat += p.Lat()
				n++
			}
		}
	}
	if n == 0 {
		return orb.Point{}, ErrNoCoordinates
	}
	return orb.Point{sumLon / float64(n), sumLat / float64(n)}, nil
}

// Project maps coords into the local plane around center, preserving order.
func Project(coords orb.LineString, center orb.Point, scale float64) []geo.LocalPoint {
	return geo.ProjectAll(coords, center, scale)
}

// ProjectBounds returns the south-west and north-east corners of b in the local plane.
func ProjectBounds(b types.BoundingBox, center orb.Point, scale float64) (sw, ne geo.LocalPoint) {
	sw = geo.ProjectLocal(orb.Point{b.MinLon, b.MinLat}, center, scale)
	ne = geo.ProjectLocal(orb.Point{b.MaxLon, b.MaxLat}, center, scale)
	return sw, ne
}
