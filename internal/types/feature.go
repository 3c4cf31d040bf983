package types

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Category is the semantic class a way is routed into.
type Category string

const (
	CategoryBuilding Category = "building"
	CategoryRoad     Category = "road"
	CategoryWater    Category = "water"
	CategoryLand     Category = "land"
)

// Feature is a way after classification. It is never modified after creation.
type Feature struct {
	WayID    int64
	Category Category
	Coords   orb.LineString    // resolved node coordinates, in way order
	Tags     map[string]string // normalized OSM tags

	Height    float64 // buildings: derived height in meters
	Width     float64 // roads: derived width
	LandKey   string  // land: matched key (natural, landuse, leisure)
	LandValue string  // land: matched value
}

// ID returns the OSM element ID (e.g. "way/12345").
func (f Feature) ID() string {
	return fmt.Sprintf("way/%d", f.WayID)
}

// Name returns the name tag, if any.
func (f Feature) Name() string {
	return f.Tags["name"]
}

// Bound returns the bounding box of the feature's coordinates.
func (f Feature) Bound() orb.Bound {
	return f.Coords.Bound()
}

// IsParkingSpace reports whether the feature is tagged amenity=parking_space.
func (f Feature) IsParkingSpace() bool {
	return f.Tags["amenity"] == "parking_space"
}

// FeatureCollection groups features by category
type FeatureCollection struct {
	Buildings []Feature
	Water     []Feature
	Land      []Feature
	Roads     []Feature
}

// Add appends f to the bucket of its category.
func (fc *FeatureCollection) Add(f Feature) {
	switch f.Category {
	case CategoryBuilding:
		fc.Buildings = append(fc.Buildings, f)
	case CategoryRoad:
		fc.Roads = append(fc.Roads, f)
	case CategoryWater:
		fc.Water = append(fc.Water, f)
	case CategoryLand:
		fc.Land = append(fc.Land, f)
	}
}

// All returns every feature in scene order: buildings, water, land, roads.
func (fc FeatureCollection) All() []Feature {
	out := make([]Feature, 0, fc.Count())
	out = append(out, fc.Buildings...)
	out = append(out, fc.Water...)
	out = append(out, fc.Land...)
	out = append(out, fc.Roads...)
	return out
}

// Count returns the total number of features
func (fc FeatureCollection) Count() int {
	return len(fc.Buildings) + len(fc.Water) + len(fc.Land) + len(fc.Roads)
}

// FeatureCounts returns a map of feature counts by type
func (fc FeatureCollection) FeatureCounts() map[string]int {
	return map[string]int{
		"buildings": len(fc.Buildings),
		"water":     len(fc.Water),
		"land":      len(fc.Land),
		"roads":     len(fc.Roads),
		"total":     fc.Count(),
	}
}
