// Package scene assembles classified features into a grouped set of meshes and
// materials anchored at a shared centroid, and emits it to a Sink.
package scene

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"

	"github.com/MeKo-Tech/osmscene/internal/geo"
	"github.com/MeKo-Tech/osmscene/internal/mesh"
	"github.com/MeKo-Tech/osmscene/internal/style"
	"github.com/MeKo-Tech/osmscene/internal/transform"
	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"
)

// Group names, in emission order.
const (
	GroupBuildings = "Buildings"
	GroupWater     = "Water"
	GroupLand      = "Land"
	GroupRoads     = "Roads"
	GroupGround    = "Ground"
)

// RootPath is the path of the top-level prim.
const RootPath = "/World"

// UVPrimvar is the texture coordinate set used by textured materials.
const UVPrimvar = "st"

// Sink receives a finished scene. Paths are absolute, '/' separated prim paths.
type Sink interface {
	DefineGroup(path string) error
	DefineMesh(path string, m *mesh.Mesh) error
	DefineMaterial(path string, mat mesh.Material) error
	BindMaterial(meshPath, materialPath string) error
	SetTexture(materialPath, imagePath, uvPrimvar string) error
	SetMetadata(path, name, value string) error
}

// Options controls scene construction.
type Options struct {
	Style  *style.Style
	Logger *slog.Logger

	// Bounds and GroundTexture together enable the ground quad.
	Bounds        *types.BoundingBox
	GroundTexture string

	Scale       float64
	HeightScale float64
	Workers     int

	// TrueRoadWidth offsets each road side by half its width instead of the full width.
	TrueRoadWidth bool
	// TagMetadata attaches building tags to the building meshes.
	TagMetadata bool
}

// DefaultOptions returns the options used by the command line defaults.
func DefaultOptions() Options {
	return Options{
		Style:       style.Default(),
		Scale:       geo.DefaultScale,
		HeightScale: mesh.DefaultHeightScale,
		TagMetadata: true,
	}
}

// Entry is one mesh with its material.
type Entry struct {
	Mesh     *mesh.Mesh
	Metadata map[string]string
	Name     string
	Material mesh.Material
	WayID    int64
}

// Group is a named collection of entries.
type Group struct {
	Name    string
	Entries []Entry
}

// Scene is the assembled output of a run. It is not modified after Build returns.
type Scene struct {
	Skipped map[types.Category]int
	Groups  []Group
	Center  orb.Point
}

// Build projects every feature around the shared centroid and builds its mesh.
// Features are built in parallel; output order follows the input order.
// Features with degenerate geometry are skipped and counted.
func Build(ctx context.Context, fc types.FeatureCollection, opts Options) (*Scene, error) {
	if opts.Style == nil {
		opts.Style = style.Default()
	}
	if opts.Scale <= 0 {
		opts.Scale = geo.DefaultScale
	}
	if opts.HeightScale <= 0 {
		opts.HeightScale = mesh.DefaultHeightScale
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	center, err := transform.Centroid(fc)
	if err != nil {
		return nil, err
	}

	s := &Scene{
		Center:  center,
		Skipped: make(map[types.Category]int),
	}
	b := builder{opts: opts, center: center}

	categories := []struct {
		name     string
		features []types.Feature
	}{
		{GroupBuildings, fc.Buildings},
		{GroupWater, fc.Water},
		{GroupLand, fc.Land},
		{GroupRoads, fc.Roads},
	}
	for _, c := range categories {
		entries, skipped, err := b.buildAll(ctx, c.features)
		if err != nil {
			return nil, err
		}
		s.Groups = append(s.Groups, Group{Name: c.name, Entries: entries})
		for cat, n := range skipped {
			s.Skipped[cat] += n
		}
	}

	if opts.Bounds != nil && opts.GroundTexture != "" {
		sw, ne := transform.ProjectBounds(*opts.Bounds, center, opts.Scale)
		s.Groups = append(s.Groups, Group{
			Name: GroupGround,
			Entries: []Entry{{
				Name:     "ground",
				Mesh:     mesh.Ground(sw, ne, mesh.GroundY),
				Material: mesh.GroundMaterial(opts.GroundTexture),
			}},
		})
	}

	b.log().Info("Scene built",
		"center_lon", center.Lon(),
		"center_lat", center.Lat(),
		"meshes", s.MeshCount(),
		"skipped", s.SkippedCount(),
	)
	return s, nil
}

// Group returns the group with the given name.
func (s *Scene) Group(name string) (Group, bool) {
	for _, g := range s.Groups {
		if g.Name == name {
			return g, true
		}
	}
	return Group{}, false
}

// MeshCount returns the number of meshes in all groups.
func (s *Scene) MeshCount() int {
	n := 0
	for _, g := range s.Groups {
		n += len(g.Entries)
	}
	return n
}

// SkippedCount returns the number of features dropped for degenerate geometry.
func (s *Scene) SkippedCount() int {
	n := 0
	for _, c := range s.Skipped {
		n += c
	}
	return n
}

// Emit hands the whole scene to sink in a single pass. Core groups are always
// defined, the ground group only when it has a quad.
func (s *Scene) Emit(sink Sink) error {
	if err := sink.DefineGroup(RootPath); err != nil {
		return err
	}
	for _, g := range s.Groups {
		if g.Name == GroupGround && len(g.Entries) == 0 {
			continue
		}
		groupPath := RootPath + "/" + g.Name
		if err := sink.DefineGroup(groupPath); err != nil {
			return err
		}
		for _, e := range g.Entries {
			if err := emitEntry(sink, groupPath, e); err != nil {
				return fmt.Errorf("failed to emit %s/%s: %w", g.Name, e.Name, err)
			}
		}
	}
	return nil
}

func emitEntry(sink Sink, groupPath string, e Entry) error {
	meshPath := groupPath + "/" + e.Name
	materialPath := meshPath + "/material"

	if err := sink.DefineMesh(meshPath, e.Mesh); err != nil {
		return err
	}
	if err := sink.DefineMaterial(materialPath, e.Material); err != nil {
		return err
	}
	if e.Material.Texture != "" {
		if err := sink.SetTexture(materialPath, e.Material.Texture, UVPrimvar); err != nil {
			return err
		}
	}
	if err := sink.BindMaterial(meshPath, materialPath); err != nil {
		return err
	}

	keys := make([]string, 0, len(e.Metadata))
	for k := range e.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	names := mesh.MetadataNames(keys)
	for _, k := range keys {
		if err := sink.SetMetadata(meshPath, names[k], e.Metadata[k]); err != nil {
			return err
		}
	}
	return nil
}

// primName returns a prim name for a way. Negative IDs from unsaved edits get an "n" prefix.
func primName(prefix string, id int64) string {
	if id < 0 {
		return fmt.Sprintf("%s_n%d", prefix, -id)
	}
	return fmt.Sprintf("%s_%d", prefix, id)
}

type builder struct {
	opts   Options
	center orb.Point
}

func (b builder) log() *slog.Logger {
	if b.opts.Logger != nil {
		return b.opts.Logger
	}
	return slog.Default()
}

func (b builder) buildAll(ctx context.Context, features []types.Feature) ([]Entry, map[types.Category]int, error) {
	results := make([]*Entry, len(features))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Workers)
	for i, f := range features {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			e, err := b.build(f)
			if err != nil {
				b.log().Debug("Skipping feature", "id", f.ID(), "category", f.Category, "error", err)
				return nil
			}
			results[i] = e
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	entries := make([]Entry, 0, len(features))
	skipped := make(map[types.Category]int)
	for i, e := range results {
		if e == nil {
			skipped[features[i].Category]++
			continue
		}
		entries = append(entries, *e)
	}
	return entries, skipped, nil
}

func (b builder) build(f types.Feature) (*Entry, error) {
	pts := transform.Project(f.Coords, b.center, b.opts.Scale)
	st := b.opts.Style

	e := &Entry{WayID: f.WayID}
	var err error
	switch f.Category {
	case types.CategoryBuilding:
		e.Name = primName("building", f.WayID)
		e.Mesh, err = mesh.Building(pts, f.Height, b.opts.HeightScale)
		e.Material = mesh.BuildingMaterial(st)
		if b.opts.TagMetadata {
			e.Metadata = f.Tags
		}
	case types.CategoryRoad:
		e.Name = primName("road", f.WayID)
		offset := f.Width
		if b.opts.TrueRoadWidth {
			offset = f.Width / 2
		}
		y := mesh.RoadY
		if f.IsParkingSpace() {
			y = mesh.ParkingY
		}
		e.Mesh, err = mesh.Road(pts, offset, y)
		e.Material = mesh.RoadMaterial(st, f.Tags)
	case types.CategoryWater:
		e.Name = primName("water", f.WayID)
		e.Mesh, err = mesh.Polygon(pts, mesh.WaterY)
		e.Material = mesh.WaterMaterial(st)
	case types.CategoryLand:
		e.Name = primName("land", f.WayID)
		e.Mesh, err = mesh.Polygon(pts, mesh.LandY)
		e.Material = mesh.LandMaterial(st, f.LandValue)
	default:
		return nil, fmt.Errorf("unknown category %q", f.Category)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
