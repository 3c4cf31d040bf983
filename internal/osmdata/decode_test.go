package osmdata

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<osm version="0.6" generator="test">
  <bounds minlat="52.94853" minlon="4.77914" maxlat="52.96715" maxlon="4.80407"/>
  <node id="1" lat="52.950" lon="4.780" version="2" changeset="10" user="alice" uid="7" timestamp="2023-01-02T03:04:05Z"/>
  <node id="2" lat="52.950" lon="4.781"/>
  <node id="3" lat="52.951" lon="4.781"/>
  <node id="4" lat="52.951" lon="4.780">
    <tag k="entrance" v="main"/>
  </node>
  <way id="100">
    <nd ref="1"/>
    <nd ref="2"/>
    <nd ref="3"/>
    <nd ref="4"/>
    <nd ref="1"/>
    <tag k="building" v="yes"/>
    <tag k="building:levels" v="3"/>
  </way>
  <way id="101">
    <nd ref="1"/>
    <nd ref="999"/>
    <nd ref="3"/>
    <tag k="highway" v="residential"/>
  </way>
  <relation id="500">
    <member type="way" ref="100" role="outer"/>
    <tag k="type" v="multipolygon"/>
  </relation>
</osm>`

const sampleJSON = `{
  "version": 0.6,
  "elements": [
    {"type": "node", "id": 1, "lat": 52.950, "lon": 4.780},
    {"type": "node", "id": 2, "lat": 52.950, "lon": 4.781, "visible": false},
    {"type": "node", "id": 3, "lat": 52.951, "lon": 4.781},
    {"type": "way", "id": 200, "nodes": [1, 2, 3], "tags": {"natural": "water"}},
    {"type": "way", "id": 201, "nodes": [7, 8],
     "geometry": [{"lat": 52.96, "lon": 4.79}, {"lat": 52.961, "lon": 4.791}],
     "tags": {"highway": "footway"}},
    {"type": "relation", "id": 300, "members": [{"type": "way", "ref": 200, "role": "outer"}], "tags": {"type": "multipolygon"}}
  ]
}`

func TestDecodeXML(t *testing.T) {
	ds, err := DecodeXML(strings.NewReader(sampleXML))
	require.NoError(t, err)

	stats := ds.Stats()
	assert.Equal(t, 4, stats.Nodes)
	assert.Equal(t, 2, stats.Ways)
	assert.Equal(t, 1, stats.Relations)

	require.NotNil(t, ds.Bounds)
	assert.InDelta(t, 4.77914, ds.Bounds.MinLon, 1e-9)
	assert.InDelta(t, 52.96715, ds.Bounds.MaxLat, 1e-9)

	n := ds.Nodes[1]
	assert.Equal(t, orb.Point{4.780, 52.950}, n.Point)
	assert.Equal(t, 2, n.Meta.Version)
	assert.Equal(t, "alice", n.Meta.User)
	assert.Equal(t, int64(10), n.Meta.Changeset)
	assert.Equal(t, 2023, n.Meta.Timestamp.Year())
	assert.True(t, n.Visible)
	assert.Equal(t, "main", ds.Nodes[4].Tags["entrance"])

	w := ds.Ways[0]
	assert.Equal(t, int64(100), w.ID)
	assert.Equal(t, []int64{1, 2, 3, 4, 1}, w.NodeRefs)
	assert.Equal(t, "3", w.Tags["building:levels"])

	rel := ds.Relations[0]
	require.Len(t, rel.Members, 1)
	assert.Equal(t, Member{Type: "way", Ref: 100, Role: "outer"}, rel.Members[0])
}

func TestDecodeXML_WrongRoot(t *testing.T) {
	_, err := DecodeXML(strings.NewReader(`<?xml version="1.0"?><gpx><trk/></gpx>`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotOSM))
}

func TestDecodeXML_Malformed(t *testing.T) {
	_, err := DecodeXML(strings.NewReader(`<osm><node id="1" lat="1" lon="2">`))
	require.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	ds, err := DecodeJSON(strings.NewReader(sampleJSON))
	require.NoError(t, err)

	assert.Nil(t, ds.Bounds)
	assert.Len(t, ds.Ways, 2)
	assert.Len(t, ds.Relations, 1)

	// Nodes 7 and 8 come from the embedded geometry of way 201.
	assert.Len(t, ds.Nodes, 5)
	assert.Equal(t, orb.Point{4.791, 52.961}, ds.Nodes[8].Point)

	assert.True(t, ds.Nodes[1].Visible)
	assert.False(t, ds.Nodes[2].Visible)

	assert.Equal(t, "water", ds.Ways[0].Tags["natural"])
}

func TestDecodeJSON_BareArray(t *testing.T) {
	ds, err := DecodeJSON(strings.NewReader(`[{"type":"node","id":1,"lat":1,"lon":2},{"type":"way","id":2,"nodes":[1]}]`))
	require.NoError(t, err)
	assert.Len(t, ds.Nodes, 1)
	assert.Len(t, ds.Ways, 1)
	assert.NotNil(t, ds.Ways[0].Tags)
}

func TestDecode_Sniff(t *testing.T) {
	ds, err := Decode(context.Background(), strings.NewReader("\n  "+sampleXML[strings.Index(sampleXML, "<osm"):]), FormatAuto)
	require.NoError(t, err)
	assert.Len(t, ds.Ways, 2)

	ds, err = Decode(context.Background(), strings.NewReader(sampleJSON), FormatAuto)
	require.NoError(t, err)
	assert.Len(t, ds.Ways, 2)

	_, err = Decode(context.Background(), strings.NewReader("hello"), FormatAuto)
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{
		"map.osm":          FormatXML,
		"extract.XML":      FormatXML,
		"den_helder.json":  FormatJSON,
		"region.osm.pbf":   FormatPBF,
		"noextension":      FormatAuto,
		"/tmp/dir.osm/map": FormatAuto,
	}
	for path, want := range tests {
		if got := FormatFromPath(path); got != want {
			t.Errorf("FormatFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestNewTags_FirstValueWins(t *testing.T) {
	tags := NewTags([]TagPair{
		{Key: "building", Value: "house"},
		{Key: "name", Value: "A"},
		{Key: "building", Value: "yes"},
	})
	assert.Equal(t, "house", tags["building"])
	assert.True(t, tags.Has("name"))
	assert.False(t, tags.Has("height"))
}

func TestResolve_DropsUnknownReferences(t *testing.T) {
	ds, err := DecodeXML(strings.NewReader(sampleXML))
	require.NoError(t, err)

	coords, dropped := ds.Resolve(ds.Ways[1])
	assert.Equal(t, 1, dropped)
	assert.Equal(t, orb.LineString{{4.780, 52.950}, {4.781, 52.951}}, coords)

	coords, dropped = ds.Resolve(Way{ID: 9, NodeRefs: []int64{42, 43}})
	assert.Equal(t, 2, dropped)
	assert.Empty(t, coords)
}

func TestMerge_FirstDefinitionWins(t *testing.T) {
	a := NewDataset()
	a.AddNode(Node{ID: 1, Point: orb.Point{1, 1}})
	a.AddWay(Way{ID: 10, NodeRefs: []int64{1}})

	b := NewDataset()
	b.AddNode(Node{ID: 1, Point: orb.Point{9, 9}})
	b.AddNode(Node{ID: 2, Point: orb.Point{2, 2}})
	b.AddWay(Way{ID: 10, NodeRefs: []int64{2}})
	b.AddWay(Way{ID: 11, NodeRefs: []int64{2}})

	a.Merge(b)

	assert.Equal(t, orb.Point{1, 1}, a.Nodes[1].Point)
	assert.Len(t, a.Nodes, 2)
	require.Len(t, a.Ways, 2)
	assert.Equal(t, []int64{1}, a.Ways[0].NodeRefs)
	assert.Equal(t, int64(11), a.Ways[1].ID)
}

func TestExtent(t *testing.T) {
	ds := NewDataset()
	_, ok := ds.Extent()
	assert.False(t, ok)

	ds.AddNode(Node{ID: 1, Point: orb.Point{4.78, 52.95}})
	ds.AddNode(Node{ID: 2, Point: orb.Point{4.80, 52.94}})
	b, ok := ds.Extent()
	require.True(t, ok)
	assert.Equal(t, 4.78, b.MinLon)
	assert.Equal(t, 4.80, b.MaxLon)
	assert.Equal(t, 52.94, b.MinLat)
	assert.Equal(t, 52.95, b.MaxLat)
}
