package geojson

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

var square = orb.LineString{{9.73, 52.37}, {9.74, 52.37}, {9.74, 52.38}, {9.73, 52.38}, {9.73, 52.37}}

func TestToGeoJSON(t *testing.T) {
	features := []types.Feature{
		{
			WayID:    12345,
			Category: types.CategoryWater,
			Coords:   square,
			Tags:     map[string]string{"natural": "water", "name": "Test Lake"},
		},
		{
			WayID:    67890,
			Category: types.CategoryRoad,
			Coords:   orb.LineString{{9.73, 52.37}, {9.74, 52.37}, {9.75, 52.38}},
			Tags:     map[string]string{"highway": "primary"},
			Width:    6,
		},
		{
			WayID:    4,
			Category: types.CategoryBuilding,
			Coords:   square,
			Tags:     map[string]string{"building": "house"},
			Height:   5,
		},
	}

	fc := ToGeoJSON(features)

	if len(fc.Features) != 3 {
		t.Fatalf("Expected 3 GeoJSON features, got %d", len(fc.Features))
	}

	// Verify first feature (polygon)
	if fc.Features[0].Geometry.GeoJSONType() != "Polygon" {
		t.Errorf("Expected Polygon, got %s", fc.Features[0].Geometry.GeoJSONType())
	}
	if fc.Features[0].Properties["natural"] != "water" {
		t.Errorf("Expected natural=water property")
	}
	if fc.Features[0].Properties["osm_id"] != int64(12345) {
		t.Errorf("Expected osm_id=12345, got %v", fc.Features[0].Properties["osm_id"])
	}
	if fc.Features[0].Properties["category"] != "water" {
		t.Errorf("Expected category=water")
	}
	if fc.Features[0].ID != "way/12345" {
		t.Errorf("Expected feature id way/12345, got %v", fc.Features[0].ID)
	}

	// Verify second feature (linestring)
	if fc.Features[1].Geometry.GeoJSONType() != "LineString" {
		t.Errorf("Expected LineString, got %s", fc.Features[1].Geometry.GeoJSONType())
	}
	if fc.Features[1].Properties["width"] != 6.0 {
		t.Errorf("Expected width=6, got %v", fc.Features[1].Properties["width"])
	}

	if fc.Features[2].Properties["height"] != 5.0 {
		t.Errorf("Expected height=5, got %v", fc.Features[2].Properties["height"])
	}
}

func TestGeometry(t *testing.T) {
	closedRoad := types.Feature{Category: types.CategoryRoad, Coords: square}
	if g := Geometry(closedRoad); g.GeoJSONType() != "LineString" {
		t.Errorf("Closed road should stay a LineString, got %s", g.GeoJSONType())
	}

	openLand := types.Feature{Category: types.CategoryLand, Coords: square[:3]}
	if g := Geometry(openLand); g.GeoJSONType() != "LineString" {
		t.Errorf("Open way should be a LineString, got %s", g.GeoJSONType())
	}

	single := types.Feature{Category: types.CategoryLand, Coords: square[:1]}
	if g := Geometry(single); g.GeoJSONType() != "Point" {
		t.Errorf("Single coordinate should be a Point, got %s", g.GeoJSONType())
	}

	if g := Geometry(types.Feature{}); g != nil {
		t.Errorf("Empty feature should have no geometry, got %v", g)
	}
}

func TestWriteFile(t *testing.T) {
	var fc types.FeatureCollection
	fc.Add(types.Feature{WayID: 1, Category: types.CategoryRoad, Coords: square[:2], Tags: map[string]string{}})
	fc.Add(types.Feature{WayID: 2, Category: types.CategoryBuilding, Coords: square, Tags: map[string]string{}})

	path := filepath.Join(t.TempDir(), "features.geojson")
	if err := WriteFile(path, fc); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}

	parsed, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		t.Fatalf("Output is not valid GeoJSON: %v", err)
	}
	if len(parsed.Features) != 2 {
		t.Fatalf("Expected 2 features, got %d", len(parsed.Features))
	}
	// Scene order puts buildings first.
	if parsed.Features[0].Properties["category"] != "building" {
		t.Errorf("Expected building first, got %v", parsed.Features[0].Properties["category"])
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	if raw["type"] != "FeatureCollection" {
		t.Errorf("Expected type FeatureCollection, got %v", raw["type"])
	}
}

func TestLayerSummary(t *testing.T) {
	var fc types.FeatureCollection
	fc.Add(types.Feature{Category: types.CategoryWater})
	fc.Add(types.Feature{Category: types.CategoryRoad})
	fc.Add(types.Feature{Category: types.CategoryRoad})

	want := "Buildings: 0, Water: 1, Land: 0, Roads: 2 (Total: 3)"
	if got := LayerSummary(fc); got != want {
		t.Errorf("LayerSummary() = %q, want %q", got, want)
	}
	if n := len(GetLayerFeatures(fc, types.CategoryRoad)); n != 2 {
		t.Errorf("Expected 2 roads, got %d", n)
	}
	if GetLayerFeatures(fc, "unknown") != nil {
		t.Error("Unknown category should return nil")
	}
}
