// Package classify routes OSM ways into buildings, roads, water and land,
// deriving building heights and road widths from their tags.
package classify

import (
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/osmscene/internal/osmdata"
	"github.com/MeKo-Tech/osmscene/internal/style"
	"github.com/MeKo-Tech/osmscene/internal/types"
)

// Classifier applies the tag heuristics of a Style to a dataset.
type Classifier struct {
	style     *style.Style
	bounds    *types.BoundingBox
	logger    *slog.Logger
	maxIssues int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithBounds restricts output to ways whose extent overlaps b.
func WithBounds(b types.BoundingBox) Option {
	return func(c *Classifier) {
		c.bounds = &b
	}
}

// WithLogger sets the logger used for the end-of-run summary.
func WithLogger(l *slog.Logger) Option {
	return func(c *Classifier) {
		c.logger = l
	}
}

// WithMaxIssues caps the number of issues kept in the report.
func WithMaxIssues(n int) Option {
	return func(c *Classifier) {
		c.maxIssues = n
	}
}

// New creates a classifier. A nil style uses the built-in tables.
func New(st *style.Style, opts ...Option) *Classifier {
	if st == nil {
		st = style.Default()
	}
	c := &Classifier{style: st, maxIssues: 100}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Style returns the tables the classifier uses.
func (c *Classifier) Style() *style.Style {
	return c.style
}

// IsBuilding reports whether the tags carry a building key, whatever its value.
func IsBuilding(tags map[string]string) bool {
	_, ok := tags["building"]
	return ok
}

// IsRoad reports whether the tags describe a highway or a parking space.
func IsRoad(tags map[string]string) bool {
	_, ok := tags["highway"]
	return ok || isParkingSpace(tags)
}

// IsWater reports whether the tags describe a water body or waterway.
func IsWater(tags map[string]string) bool {
	if tags["natural"] == "water" {
		return true
	}
	if _, ok := tags["water"]; ok {
		return true
	}
	_, ok := tags["waterway"]
	return ok
}

func isParkingSpace(tags map[string]string) bool {
	return tags["amenity"] == "parking_space"
}

// LandMatch returns the first (key, value) pair found in the land table.
func (c *Classifier) LandMatch(tags map[string]string) (key, value string, ok bool) {
	for _, rule := range c.style.LandRules {
		v, present := tags[rule.Key]
		if !present {
			continue
		}
		for _, allowed := range rule.Values {
			if v == allowed {
				return rule.Key, v, true
			}
		}
	}
	return "", "", false
}

// Category decides the single category of a way. Building is checked first,
// then road, water and land; ok is false when nothing matches.
func (c *Classifier) Category(tags map[string]string) (types.Category, bool) {
	switch {
	case IsBuilding(tags):
		return types.CategoryBuilding, true
	case IsRoad(tags):
		return types.CategoryRoad, true
	case IsWater(tags):
		return types.CategoryWater, true
	}
	if _, _, ok := c.LandMatch(tags); ok {
		return types.CategoryLand, true
	}
	return "", false
}

// BuildingHeight derives a height in meters from, in order: the height tag,
// building:levels, the building type table and finally the defaults.
func (c *Classifier) BuildingHeight(tags map[string]string) float64 {
	h, _ := c.buildingHeight(tags)
	return h
}

func (c *Classifier) buildingHeight(tags map[string]string) (float64, []string) {
	var issues []string

	if raw, ok := tags["height"]; ok {
		if h, err := parseLength(raw); err == nil {
			return h, issues
		}
		issues = append(issues, "unparseable height "+strconv.Quote(raw))
	}

	if raw, ok := tags["building:levels"]; ok {
		if levels, err := parseNumber(raw); err == nil {
			return levels * c.style.LevelHeight, issues
		}
		issues = append(issues, "unparseable building:levels "+strconv.Quote(raw))
	}

	kind, ok := tags["building"]
	if !ok {
		return c.style.NoBuildingHeight, issues
	}
	if h, ok := c.style.BuildingHeights[kind]; ok {
		return h, issues
	}
	return c.style.DefaultBuildingHeight, issues
}

// RoadWidth returns the nominal width for a road. Parking spaces take
// precedence over the highway table.
func (c *Classifier) RoadWidth(tags map[string]string) float64 {
	if isParkingSpace(tags) {
		return c.style.ParkingSpaceWidth
	}
	if w, ok := c.style.RoadWidths[tags["highway"]]; ok {
		return w
	}
	return c.style.DefaultRoadWidth
}

// Classify routes every way of ds. Ways without resolvable coordinates,
// outside the bounds or without a matching category are skipped and counted.
func (c *Classifier) Classify(ds *osmdata.Dataset) (types.FeatureCollection, *Report) {
	var fc types.FeatureCollection
	report := newReport(c.maxIssues)

	for _, w := range ds.Ways {
		report.Ways++

		category, ok := c.Category(w.Tags)
		if !ok {
			report.Discarded++
			continue
		}

		coords, dropped := ds.Resolve(w)
		if dropped > 0 {
			report.DroppedRefs += dropped
			report.addIssue(w.ID, strconv.Itoa(dropped)+" unresolved node references")
		}
		if len(coords) == 0 {
			report.Empty++
			continue
		}

		if c.bounds != nil && !c.bounds.Intersects(coords.Bound()) {
			report.OutOfBounds++
			continue
		}

		f := types.Feature{
			WayID:    w.ID,
			Category: category,
			Coords:   coords,
			Tags:     w.Tags,
		}

		switch category {
		case types.CategoryBuilding:
			h, issues := c.buildingHeight(w.Tags)
			for _, msg := range issues {
				report.addIssue(w.ID, msg)
			}
			f.Height = h
		case types.CategoryRoad:
			f.Width = c.RoadWidth(w.Tags)
		case types.CategoryLand:
			f.LandKey, f.LandValue, _ = c.LandMatch(w.Tags)
		}

		fc.Add(f)
		report.Classified[category]++
	}

	c.log().Info("Classified ways",
		"ways", report.Ways,
		"buildings", len(fc.Buildings),
		"roads", len(fc.Roads),
		"water", len(fc.Water),
		"land", len(fc.Land),
		"discarded", report.Discarded,
		"out_of_bounds", report.OutOfBounds,
		"empty", report.Empty,
	)
	for _, issue := range report.Issues {
		c.log().Debug("Way issue", "way", issue.WayID, "issue", issue.Message)
	}

	return fc, report
}

func (c *Classifier) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// parseNumber parses a plain decimal value. Non-finite values are rejected.
func parseNumber(s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrRange
	}
	return v, nil
}

// parseLength accepts a number optionally followed by a meter unit ("12", "12 m", "12m").
func parseLength(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "m")
	return parseNumber(s)
}
