// Package mesh turns projected 2D footprints into indexed polygon meshes:
// extruded prisms for buildings, ribbon strips for roads, flat n-gons for
// water and land, and the textured ground quad.
package mesh

import (
	"errors"
	"fmt"
)

// ErrDegenerate is returned when a footprint has too few usable points.
var ErrDegenerate = errors.New("degenerate geometry")

// Vec3 is a point in scene space. Y is up.
type Vec3 struct {
	X, Y, Z float64
}

// Vec2 is a texture coordinate.
type Vec2 struct {
	U, V float64
}

// Mesh is an indexed polygon mesh. Face i uses FaceVertexCounts[i] consecutive
// entries of FaceVertexIndices.
type Mesh struct {
	Points            []Vec3
	FaceVertexCounts  []int
	FaceVertexIndices []int
	UVs               []Vec2 // empty, or one per point
}

// AddFace appends a face over the given point indices.
func (m *Mesh) AddFace(indices ...int) {
	m.FaceVertexCounts = append(m.FaceVertexCounts, len(indices))
	m.FaceVertexIndices = append(m.FaceVertexIndices, indices...)
}

// FaceCount returns the number of faces.
func (m *Mesh) FaceCount() int {
	return len(m.FaceVertexCounts)
}

// Validate checks the index invariants of the mesh.
func (m *Mesh) Validate() error {
	if len(m.FaceVertexCounts) == 0 {
		return fmt.Errorf("%w: mesh has no faces", ErrDegenerate)
	}
	sum := 0
	for i, c := range m.FaceVertexCounts {
		if c < 3 {
			return fmt.Errorf("face %d has %d vertices", i, c)
		}
		sum += c
	}
	if sum != len(m.FaceVertexIndices) {
		return fmt.Errorf("face vertex counts sum to %d but there are %d indices", sum, len(m.FaceVertexIndices))
	}
	for i, idx := range m.FaceVertexIndices {
		if idx < 0 || idx >= len(m.Points) {
			return fmt.Errorf("index %d at position %d out of range [0,%d)", idx, i, len(m.Points))
		}
	}
	if len(m.UVs) != 0 && len(m.UVs) != len(m.Points) {
		return fmt.Errorf("%d texture coordinates for %d points", len(m.UVs), len(m.Points))
	}
	return nil
}

// Extent returns the axis-aligned bounds of the points.
func (m *Mesh) Extent() (lo, hi Vec3) {
	if len(m.Points) == 0 {
		return Vec3{}, Vec3{}
	}
	lo, hi = m.Points[0], m.Points[0]
	for _, p := range m.Points[1:] {
		lo.X = min(lo.X, p.X)
		lo.Y = min(lo.Y, p.Y)
		lo.Z = min(lo.Z, p.Z)
		hi.X = max(hi.X, p.X)
		hi.Y = max(hi.Y, p.Y)
		hi.Z = max(hi.Z, p.Z)
	}
	return lo, hi
}
