package datasource

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/MeKo-Tech/osmscene/internal/osmdata"
	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const firstXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6">
  <bounds minlat="52.0" minlon="9.0" maxlat="52.1" maxlon="9.1"/>
  <node id="1" lat="52.01" lon="9.01"/>
  <node id="2" lat="52.01" lon="9.02"/>
  <node id="3" lat="52.02" lon="9.02"/>
  <way id="10">
    <nd ref="1"/><nd ref="2"/><nd ref="3"/><nd ref="1"/>
    <tag k="building" v="house"/>
  </way>
</osm>`

const secondJSON = `{"elements": [
  {"type": "node", "id": 1, "lat": 10.0, "lon": 10.0},
  {"type": "node", "id": 4, "lat": 52.03, "lon": 9.03},
  {"type": "way", "id": 10, "nodes": [1, 4], "tags": {"highway": "path"}},
  {"type": "way", "id": 11, "nodes": [3, 4], "tags": {"highway": "service"}}
]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileSource_MergesFirstWins(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.osm", firstXML)
	b := writeFile(t, dir, "b.json", secondJSON)

	src := NewFileSource(nil, a, b)
	ds, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Len(t, ds.Nodes, 4)
	assert.Len(t, ds.Ways, 2)

	// Node 1 and way 10 come from the first file.
	assert.Equal(t, orb.Point{9.01, 52.01}, ds.Nodes[1].Point)
	assert.Equal(t, "house", ds.Ways[0].Tags["building"])
	assert.Equal(t, int64(11), ds.Ways[1].ID)

	require.NotNil(t, ds.Bounds)
	assert.Equal(t, 52.0, ds.Bounds.MinLat)
	assert.Equal(t, a+","+b, src.Name())
}

func TestFileSource_Errors(t *testing.T) {
	_, err := NewFileSource(nil).Load(context.Background())
	assert.Error(t, err)

	_, err = NewFileSource(nil, filepath.Join(t.TempDir(), "missing.osm")).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	wrongRoot := writeFile(t, t.TempDir(), "bad.osm", `<?xml version="1.0"?><gpx></gpx>`)
	_, err = NewFileSource(nil, wrongRoot).Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, osmdata.ErrNotOSM))
}

func TestFileSource_Cancelled(t *testing.T) {
	path := writeFile(t, t.TempDir(), "a.osm", firstXML)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileSource(nil, path).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolveBounds(t *testing.T) {
	explicit := &types.BoundingBox{MinLon: 1, MinLat: 2, MaxLon: 3, MaxLat: 4}
	declared := &types.BoundingBox{MinLon: 5, MinLat: 6, MaxLon: 7, MaxLat: 8}

	ds := osmdata.NewDataset()
	ds.Bounds = declared
	ds.AddNode(osmdata.Node{ID: 1, Point: orb.Point{10, 20}})
	ds.AddNode(osmdata.Node{ID: 2, Point: orb.Point{11, 21}})

	b, err := ResolveBounds(explicit, ds)
	require.NoError(t, err)
	assert.Equal(t, *explicit, b)

	b, err = ResolveBounds(nil, ds)
	require.NoError(t, err)
	assert.Equal(t, *declared, b)

	ds.Bounds = nil
	b, err = ResolveBounds(nil, ds)
	require.NoError(t, err)
	assert.Equal(t, types.BoundingBox{MinLon: 10, MinLat: 20, MaxLon: 11, MaxLat: 21}, b)

	_, err = ResolveBounds(nil, osmdata.NewDataset())
	assert.ErrorIs(t, err, ErrNoBounds)
}

func TestDatasetFromOverpass(t *testing.T) {
	shared := overpass.Point{Lat: 52.0, Lon: 9.0}

	building := &overpass.Way{
		Meta: overpass.Meta{ID: 20, Tags: map[string]string{"building": "yes"}},
		Geometry: []overpass.Point{
			shared,
			{Lat: 52.0, Lon: 9.001},
			{Lat: 52.001, Lon: 9.001},
			shared,
		},
	}
	road := &overpass.Way{
		Meta:     overpass.Meta{ID: 10, Tags: map[string]string{"highway": "residential"}},
		Geometry: []overpass.Point{shared, {Lat: 51.999, Lon: 8.999}},
	}
	rel := &overpass.Relation{
		Meta:    overpass.Meta{ID: 30, Tags: map[string]string{"type": "multipolygon"}},
		Members: []overpass.RelationMember{{Type: "way", Way: building, Role: "outer"}},
	}

	ds := DatasetFromOverpass(&overpass.Result{
		Ways:      map[int64]*overpass.Way{20: building, 10: road},
		Relations: map[int64]*overpass.Relation{30: rel},
	})

	require.Len(t, ds.Ways, 2)
	assert.Equal(t, int64(10), ds.Ways[0].ID, "ways are ordered by ID")
	assert.Equal(t, int64(20), ds.Ways[1].ID)

	// The shared coordinate maps to one synthetic node.
	assert.Len(t, ds.Nodes, 4)
	assert.Equal(t, ds.Ways[0].NodeRefs[0], ds.Ways[1].NodeRefs[0])
	assert.Equal(t, ds.Ways[1].NodeRefs[0], ds.Ways[1].NodeRefs[3])
	for id := range ds.Nodes {
		assert.Less(t, id, int64(0))
	}

	coords, dropped := ds.Resolve(ds.Ways[1])
	assert.Zero(t, dropped)
	assert.Equal(t, orb.Point{9.0, 52.0}, coords[0])
	assert.Equal(t, orb.Point{9.001, 52.001}, coords[2])

	require.Len(t, ds.Relations, 1)
	assert.Equal(t, osmdata.Member{Type: "way", Ref: 20, Role: "outer"}, ds.Relations[0].Members[0])

	assert.NotNil(t, DatasetFromOverpass(nil))
}

func TestBuildQuery(t *testing.T) {
	q := buildQuery(types.BoundingBox{MinLon: 9.1, MinLat: 52.3, MaxLon: 9.2, MaxLat: 52.4})

	assert.Contains(t, q, "[out:json]")
	assert.Contains(t, q, `way["building"](52.300000,9.100000,52.400000,9.200000);`)
	assert.Contains(t, q, `way["amenity"="parking_space"]`)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(q), "out geom;"))
}

func TestOverpassSource_InvalidBounds(t *testing.T) {
	src := NewOverpassSource("", types.BoundingBox{MinLon: 2, MaxLon: 1, MinLat: 0, MaxLat: 1}, nil)
	_, err := src.Load(context.Background())
	assert.Error(t, err)
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in -short mode")
	}
	if os.Getenv("OSMSCENE_INTEGRATION") != "1" {
		t.Skip("skipping integration test (set OSMSCENE_INTEGRATION=1 to enable)")
	}
}

func TestOverpassSource_Live(t *testing.T) {
	requireIntegration(t)

	// Central Hanover around the Kröpcke.
	bounds := types.BoundingBox{MinLon: 9.735, MinLat: 52.372, MaxLon: 9.742, MaxLat: 52.376}
	src := NewOverpassSource("", bounds, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	start := time.Now()
	ds, err := src.Load(ctx)
	require.NoError(t, err)
	t.Logf("Fetched %+v in %v", ds.Stats(), time.Since(start))

	assert.NotEmpty(t, ds.Ways)
	require.NotNil(t, ds.Bounds)
	assert.Equal(t, bounds, *ds.Bounds)
}
