package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/MeKo-Christian/go-overpass"
	"github.com/MeKo-Tech/osmscene/internal/osmdata"
	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb"
)

// DefaultOverpassEndpoint is the public Overpass API instance.
const DefaultOverpassEndpoint = "https://overpass-api.de/api/interpreter"

// OverpassSource fetches the ways of an area from the Overpass API.
type OverpassSource struct {
	client overpass.Client
	logger *slog.Logger
	bounds types.BoundingBox
}

// NewOverpassSource creates a source for bounds. An empty endpoint uses the public instance.
func NewOverpassSource(endpoint string, bounds types.BoundingBox, logger *slog.Logger) *OverpassSource {
	if endpoint == "" {
		endpoint = DefaultOverpassEndpoint
	}

	// Only 1 parallel request (API etiquette)
	client := overpass.NewWithSettings(endpoint, 1, http.DefaultClient)

	return &OverpassSource{
		client: client,
		bounds: bounds,
		logger: logger,
	}
}

// Name implements Source.
func (s *OverpassSource) Name() string {
	return "overpass " + s.bounds.String()
}

// Load runs the query and converts the response into a Dataset whose bounds are the query bounds.
func (s *OverpassSource) Load(ctx context.Context) (*osmdata.Dataset, error) {
	if err := s.bounds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid overpass bounds: %w", err)
	}

	query := buildQuery(s.bounds)
	s.log().Debug("Querying Overpass", "bounds", s.bounds.String())

	// The client does not take a context, so the query runs detached and is abandoned on cancellation.
	type queryResult struct {
		err    error
		result overpass.Result
	}
	done := make(chan queryResult, 1)
	go func() {
		res, err := s.client.Query(query)
		done <- queryResult{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case qr := <-done:
		if qr.err != nil {
			return nil, fmt.Errorf("overpass query failed: %w", qr.err)
		}
		ds := DatasetFromOverpass(&qr.result)
		b := s.bounds
		ds.Bounds = &b
		return ds, nil
	}
}

func (s *OverpassSource) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// buildQuery selects every way the classifier can use.
// Per-element bbox filters with "out geom" return the complete geometry of
// intersecting ways instead of clipping it to the bbox.
func buildQuery(bounds types.BoundingBox) string {
	bbox := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f", bounds.MinLat, bounds.MinLon, bounds.MaxLat, bounds.MaxLon)
	return fmt.Sprintf(`
[out:json][timeout:60];
(
  way["building"](%[1]s);
  way["highway"](%[1]s);
  way["amenity"="parking_space"](%[1]s);
  way["natural"](%[1]s);
  way["water"](%[1]s);
  way["waterway"](%[1]s);
  way["landuse"](%[1]s);
  way["leisure"](%[1]s);
);
out geom;
`, bbox)
}

// DatasetFromOverpass converts a geometry-bearing Overpass result into a Dataset.
// "out geom" ways carry coordinates instead of node references, so every
// distinct coordinate becomes a synthetic node with a negative ID. Ways sharing
// a coordinate share the node. Ways and relations are added in ID order.
func DatasetFromOverpass(result *overpass.Result) *osmdata.Dataset {
	ds := osmdata.NewDataset()
	if result == nil {
		return ds
	}

	nodeIDs := make(map[orb.Point]int64)
	nextID := int64(-1)
	nodeFor := func(p orb.Point) int64 {
		if id, ok := nodeIDs[p]; ok {
			return id
		}
		id := nextID
		nextID--
		nodeIDs[p] = id
		ds.AddNode(osmdata.Node{ID: id, Point: p, Tags: osmdata.Tags{}, Visible: true})
		return id
	}

	wayIDs := make([]int64, 0, len(result.Ways))
	for id := range result.Ways {
		wayIDs = append(wayIDs, id)
	}
	sort.Slice(wayIDs, func(i, j int) bool { return wayIDs[i] < wayIDs[j] })

	for _, id := range wayIDs {
		w := result.Ways[id]
		if w == nil {
			continue
		}
		refs := make([]int64, len(w.Geometry))
		for i, pt := range w.Geometry {
			refs[i] = nodeFor(orb.Point{pt.Lon, pt.Lat})
		}
		ds.AddWay(osmdata.Way{
			ID:       w.ID,
			NodeRefs: refs,
			Tags:     copyTags(w.Tags),
			Visible:  true,
		})
	}

	relIDs := make([]int64, 0, len(result.Relations))
	for id := range result.Relations {
		relIDs = append(relIDs, id)
	}
	sort.Slice(relIDs, func(i, j int) bool { return relIDs[i] < relIDs[j] })

	for _, id := range relIDs {
		rel := result.Relations[id]
		if rel == nil {
			continue
		}
		members := make([]osmdata.Member, 0, len(rel.Members))
		for _, m := range rel.Members {
			member := osmdata.Member{Type: string(m.Type), Role: m.Role}
			if m.Way != nil {
				member.Ref = m.Way.ID
			}
			members = append(members, member)
		}
		ds.AddRelation(osmdata.Relation{
			ID:      rel.ID,
			Members: members,
			Tags:    copyTags(rel.Tags),
			Visible: true,
		})
	}

	return ds
}

func copyTags(src map[string]string) osmdata.Tags {
	tags := make(osmdata.Tags, len(src))
	for k, v := range src {
		tags[k] = v
	}
	return tags
}
