package transform

import (
	"errors"
	"testing"

	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCentroid(t *testing.T) {
	fc := types.FeatureCollection{
		Buildings: []types.Feature{{Coords: orb.LineString{{0, 0}, {2, 0}}}},
		Roads:     []types.Feature{{Coords: orb.LineString{{2, 4}}}},
		Water:     []types.Feature{{Coords: orb.LineString{{0, 4}}}},
	}

	c, err := Centroid(fc)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, c.Lon(), 1e-12)
	assert.InDelta(t, 2.0, c.Lat(), 1e-12)
}

func TestCentroid_CountsEveryOccurrence(t *testing.T) {
	// A closed ring repeats its first point, which pulls the mean towards it.
	fc := types.FeatureCollection{
		Land: []types.Feature{{Coords: orb.LineString{{0, 0}, {3, 0}, {3, 3}, {0, 0}}}},
	}
	c, err := Centroid(fc)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, c.Lon(), 1e-12)
	assert.InDelta(t, 0.75, c.Lat(), 1e-12)
}

func TestCentroid_Empty(t *testing.T) {
	_, err := Centroid(types.FeatureCollection{})
	assert.True(t, errors.Is(err, ErrNoCoordinates))

	_, err = Centroid(types.FeatureCollection{Roads: []types.Feature{{WayID: 1}}})
	assert.True(t, errors.Is(err, ErrNoCoordinates))
}

func TestProject(t *testing.T) {
	center := orb.Point{4.79, 52.95}
	pts := Project(orb.LineString{{4.79, 52.95}, {4.791, 52.951}, {4.789, 52.95}}, center, 2000)

	require.Len(t, pts, 3)
	assert.InDelta(t, 0.0, pts[0].X, 1e-9)
	assert.InDelta(t, 2.0, pts[1].X, 1e-6)
	assert.InDelta(t, 2.0, pts[1].Z, 1e-6)
	assert.InDelta(t, -2.0, pts[2].X, 1e-6)
}

func TestProjectBounds(t *testing.T) {
	b := types.BoundingBox{MinLon: 0, MinLat: 0, MaxLon: 1, MaxLat: 2}
	sw, ne := ProjectBounds(b, orb.Point{0.5, 1}, 10)

	assert.Equal(t, -5.0, sw.X)
	assert.Equal(t, -10.0, sw.Z)
	assert.Equal(t, 5.0, ne.X)
	assert.Equal(t, 10.0, ne.Z)
}
