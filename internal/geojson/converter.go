// Package geojson exports classified features for inspection in GIS tools.
package geojson

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Geometry returns the GeoJSON geometry of f.
// Roads are always lines; other categories become polygons when their way is closed.
func Geometry(f types.Feature) orb.Geometry {
	if len(f.Coords) == 0 {
		return nil
	}
	if len(f.Coords) == 1 {
		return f.Coords[0]
	}
	if f.Category != types.CategoryRoad && isClosed(f.Coords) {
		ring := make(orb.Ring, len(f.Coords))
		copy(ring, f.Coords)
		return orb.Polygon{ring}
	}
	ls := make(orb.LineString, len(f.Coords))
	copy(ls, f.Coords)
	return ls
}

func isClosed(ls orb.LineString) bool {
	return len(ls) >= 4 && ls[0].Equal(ls[len(ls)-1])
}

// ToGeoJSON converts a slice of features to GeoJSON FeatureCollection
func ToGeoJSON(features []types.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	for _, f := range features {
		g := Geometry(f)
		if g == nil {
			continue
		}

		geoFeature := geojson.NewFeature(g)
		geoFeature.ID = f.ID()

		// Copy all tags
		for key, value := range f.Tags {
			geoFeature.Properties[key] = value
		}

		geoFeature.Properties["osm_id"] = f.WayID
		geoFeature.Properties["category"] = string(f.Category)

		switch f.Category {
		case types.CategoryBuilding:
			geoFeature.Properties["height"] = f.Height
		case types.CategoryRoad:
			geoFeature.Properties["width"] = f.Width
		case types.CategoryLand:
			geoFeature.Properties["land_key"] = f.LandKey
			geoFeature.Properties["land_value"] = f.LandValue
		}

		fc.Append(geoFeature)
	}

	return fc
}

// ToGeoJSONBytes converts features to GeoJSON bytes
func ToGeoJSONBytes(features []types.Feature) ([]byte, error) {
	data, err := json.MarshalIndent(ToGeoJSON(features), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}
	return data, nil
}

// WriteFile writes every feature of fc to path, in scene order.
func WriteFile(path string, fc types.FeatureCollection) error {
	data, err := ToGeoJSONBytes(fc.All())
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write GeoJSON: %w", err)
	}
	return nil
}

// GetLayerFeatures returns the features of one category.
func GetLayerFeatures(fc types.FeatureCollection, category types.Category) []types.Feature {
	switch category {
	case types.CategoryBuilding:
		return fc.Buildings
	case types.CategoryRoad:
		return fc.Roads
	case types.CategoryWater:
		return fc.Water
	case types.CategoryLand:
		return fc.Land
	default:
		return nil
	}
}

// LayerSummary returns a summary of features per category
func LayerSummary(fc types.FeatureCollection) string {
	return fmt.Sprintf("Buildings: %d, Water: %d, Land: %d, Roads: %d (Total: %d)",
		len(fc.Buildings), len(fc.Water), len(fc.Land), len(fc.Roads), fc.Count())
}
