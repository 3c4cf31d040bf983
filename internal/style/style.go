// Package style holds the lookup tables that turn OSM tags into scene
// attributes: building heights, road widths and the material colors.
package style

import (
	"fmt"
	"os"
	"sort"

	"github.com/MeKo-Tech/osmscene/internal/types"
	"gopkg.in/yaml.v3"
)

// LandRule lists the values of one tag key that count as land cover.
type LandRule struct {
	Key    string
	Values []string
}

// Style is the complete set of classification and material tables.
type Style struct {
	BuildingHeights       map[string]float64
	LevelHeight           float64
	DefaultBuildingHeight float64
	NoBuildingHeight      float64

	RoadWidths        map[string]float64
	DefaultRoadWidth  float64
	ParkingSpaceWidth float64

	// Land rules are evaluated in order; the first matching key wins.
	LandRules []LandRule

	BuildingColor    types.Color
	RoadColors       map[string]types.Color
	DefaultRoadColor types.Color
	ParkingColor     types.Color
	WaterColor       types.Color
	LandColors       map[string]types.Color
	DefaultLandColor types.Color
}

// Default returns the built-in tables.
func Default() *Style {
	return &Style{
		BuildingHeights: map[string]float64{
			"hotel":      12,
			"apartments": 9,
			"house":      5,
			"yes":        4,
			"commercial": 6,
			"industrial": 8,
		},
		LevelHeight:           2.8,
		DefaultBuildingHeight: 4,
		NoBuildingHeight:      2.5,

		RoadWidths: map[string]float64{
			"motorway":    8,
			"trunk":       7,
			"primary":     6,
			"secondary":   5,
			"tertiary":    4,
			"residential": 3,
			"service":     2,
			"footway":     1,
			"path":        0.5,
		},
		DefaultRoadWidth:  3,
		ParkingSpaceWidth: 2.5,

		LandRules: []LandRule{
			{Key: "natural", Values: []string{"wood", "grassland", "heath", "scrub", "forest", "beach"}},
			{Key: "landuse", Values: []string{"forest", "grass", "meadow", "recreation_ground", "park"}},
			{Key: "leisure", Values: []string{"park", "garden", "nature_reserve"}},
		},

		BuildingColor: types.Gray(0.8),
		RoadColors: map[string]types.Color{
			"motorway":    types.Gray(0.3),
			"trunk":       types.Gray(0.35),
			"primary":     types.Gray(0.4),
			"secondary":   types.Gray(0.45),
			"residential": types.Gray(0.5),
			"footway":     {R: 0.6, G: 0.6, B: 0.5},
			"path":        {R: 0.7, G: 0.7, B: 0.6},
		},
		DefaultRoadColor: types.Gray(0.5),
		ParkingColor:     types.Color{R: 0.4, G: 0.4, B: 0.5},
		WaterColor:       types.Color{R: 0.1, G: 0.3, B: 0.8},
		LandColors: map[string]types.Color{
			"forest":            {R: 0.2, G: 0.5, B: 0.2},
			"grass":             {R: 0.3, G: 0.6, B: 0.3},
			"park":              {R: 0.4, G: 0.7, B: 0.4},
			"beach":             {R: 0.9, G: 0.9, B: 0.7},
			"recreation_ground": {R: 0.5, G: 0.7, B: 0.5},
		},
		DefaultLandColor: types.Color{R: 0.4, G: 0.6, B: 0.4},
	}
}

// RoadColor returns the surface color for a road.
func (s *Style) RoadColor(highway string, parking bool) types.Color {
	if parking {
		return s.ParkingColor
	}
	if c, ok := s.RoadColors[highway]; ok {
		return c
	}
	return s.DefaultRoadColor
}

// LandColor returns the color for a matched land value.
func (s *Style) LandColor(value string) types.Color {
	if c, ok := s.LandColors[value]; ok {
		return c
	}
	return s.DefaultLandColor
}

// Overrides is the YAML representation of a style file. Every field is optional;
// map entries are merged into the defaults, scalars replace them.
type Overrides struct {
	BuildingHeights       map[string]float64    `yaml:"building_heights,omitempty"`
	LevelHeight           *float64              `yaml:"level_height,omitempty"`
	DefaultBuildingHeight *float64              `yaml:"default_building_height,omitempty"`
	NoBuildingHeight      *float64              `yaml:"no_building_height,omitempty"`
	RoadWidths            map[string]float64    `yaml:"road_widths,omitempty"`
	DefaultRoadWidth      *float64              `yaml:"default_road_width,omitempty"`
	ParkingSpaceWidth     *float64              `yaml:"parking_space_width,omitempty"`
	Land                  map[string][]string   `yaml:"land,omitempty"`
	RoadColors            map[string][3]float64 `yaml:"road_colors,omitempty"`
	LandColors            map[string][3]float64 `yaml:"land_colors,omitempty"`
	BuildingColor         *[3]float64           `yaml:"building_color,omitempty"`
	WaterColor            *[3]float64           `yaml:"water_color,omitempty"`
}

// Load reads a YAML style file and applies it on top of the defaults.
func Load(path string) (*Style, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read style file: %w", err)
	}
	return Parse(data)
}

// Parse applies YAML overrides on top of the defaults.
func Parse(data []byte) (*Style, error) {
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to parse style YAML: %w", err)
	}

	s := Default()
	if err := s.Apply(o); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply merges o into s.
func (s *Style) Apply(o Overrides) error {
	for k, v := range o.BuildingHeights {
		if v <= 0 {
			return fmt.Errorf("building height for %q must be positive", k)
		}
		s.BuildingHeights[k] = v
	}
	for k, v := range o.RoadWidths {
		if v <= 0 {
			return fmt.Errorf("road width for %q must be positive", k)
		}
		s.RoadWidths[k] = v
	}
	setPositive := func(dst *float64, v *float64, name string) error {
		if v == nil {
			return nil
		}
		if *v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
		*dst = *v
		return nil
	}
	if err := setPositive(&s.LevelHeight, o.LevelHeight, "level_height"); err != nil {
		return err
	}
	if err := setPositive(&s.DefaultBuildingHeight, o.DefaultBuildingHeight, "default_building_height"); err != nil {
		return err
	}
	if err := setPositive(&s.NoBuildingHeight, o.NoBuildingHeight, "no_building_height"); err != nil {
		return err
	}
	if err := setPositive(&s.DefaultRoadWidth, o.DefaultRoadWidth, "default_road_width"); err != nil {
		return err
	}
	if err := setPositive(&s.ParkingSpaceWidth, o.ParkingSpaceWidth, "parking_space_width"); err != nil {
		return err
	}

	// Extra land values extend an existing rule; unknown keys append a new rule.
	landKeys := make([]string, 0, len(o.Land))
	for key := range o.Land {
		landKeys = append(landKeys, key)
	}
	sort.Strings(landKeys)
	for _, key := range landKeys {
		values := o.Land[key]
		extended := false
		for i := range s.LandRules {
			if s.LandRules[i].Key == key {
				s.LandRules[i].Values = appendMissing(s.LandRules[i].Values, values)
				extended = true
				break
			}
		}
		if !extended {
			s.LandRules = append(s.LandRules, LandRule{Key: key, Values: values})
		}
	}

	for k, v := range o.RoadColors {
		s.RoadColors[k] = rgb(v)
	}
	for k, v := range o.LandColors {
		s.LandColors[k] = rgb(v)
	}
	if o.BuildingColor != nil {
		s.BuildingColor = rgb(*o.BuildingColor)
	}
	if o.WaterColor != nil {
		s.WaterColor = rgb(*o.WaterColor)
	}
	return nil
}

func rgb(v [3]float64) types.Color {
	return types.Color{R: v[0], G: v[1], B: v[2]}
}

func appendMissing(dst, values []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if !seen[v] {
			dst = append(dst, v)
			seen[v] = true
		}
	}
	return dst
}
