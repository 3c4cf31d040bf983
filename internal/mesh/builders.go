package mesh

import (
	"fmt"
	"math"

	"github.com/MeKo-Tech/osmscene/internal/geo"
)

// Scene heights.
const (
	DefaultHeightScale = 0.02

	GroundY  = -0.1
	WaterY   = -0.05
	LandY    = 0.02
	RoadY    = 0.01
	ParkingY = 0.02
)

// ring drops the closing duplicate of a closed way.
func ring(pts []geo.LocalPoint) []geo.LocalPoint {
	if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
		return pts[:len(pts)-1]
	}
	return pts
}

// Building extrudes a footprint into a closed prism. Every footprint point
// yields a ground vertex followed by a roof vertex at height*heightScale.
func Building(footprint []geo.LocalPoint, height, heightScale float64) (*Mesh, error) {
	pts := ring(footprint)
	n := len(pts)
	if n < 3 {
		return nil, fmt.Errorf("%w: building footprint has %d distinct points", ErrDegenerate, n)
	}

	roof := height * heightScale
	m := &Mesh{Points: make([]Vec3, 0, 2*n)}
	for _, p := range pts {
		m.Points = append(m.Points,
			Vec3{X: p.X, Y: 0, Z: p.Z},
			Vec3{X: p.X, Y: roof, Z: p.Z},
		)
	}

	// Bottom ring in reverse point order, stepping over the roof vertices.
	bottom := make([]int, n)
	for i := range n {
		bottom[i] = 2 * (n - 1 - i)
	}
	m.AddFace(bottom...)

	top := make([]int, n)
	for i := range n {
		top[i] = 2*i + 1
	}
	m.AddFace(top...)

	for i := range n {
		next := (i + 1) % n
		m.AddFace(2*i, 2*i+1, 2*next+1, 2*next)
	}
	return m, nil
}

// Road builds a ribbon with one quad per segment. Each side is displaced by
// offset along the segment normal; zero-length segments are skipped.
// Quads are wound so their normals point up (+Y).
func Road(centerline []geo.LocalPoint, offset, y float64) (*Mesh, error) {
	m := &Mesh{}
	for i := 0; i+1 < len(centerline); i++ {
		a, b := centerline[i], centerline[i+1]
		dx := b.X - a.X
		dz := b.Z - a.Z
		length := math.Hypot(dx, dz)
		if length == 0 {
			continue
		}
		nx := -dz * offset / length
		nz := dx * offset / length

		base := len(m.Points)
		m.Points = append(m.Points,
			Vec3{X: a.X - nx, Y: y, Z: a.Z - nz},
			Vec3{X: a.X + nx, Y: y, Z: a.Z + nz},
			Vec3{X: b.X + nx, Y: y, Z: b.Z + nz},
			Vec3{X: b.X - nx, Y: y, Z: b.Z - nz},
		)
		m.AddFace(base, base+1, base+2, base+3)
	}
	if m.FaceCount() == 0 {
		return nil, fmt.Errorf("%w: road has no segment of non-zero length", ErrDegenerate)
	}
	return m, nil
}

// Polygon builds a single flat n-gon at height y.
func Polygon(outline []geo.LocalPoint, y float64) (*Mesh, error) {
	pts := ring(outline)
	n := len(pts)
	if n < 3 {
		return nil, fmt.Errorf("%w: polygon has %d distinct points", ErrDegenerate, n)
	}

	m := &Mesh{Points: make([]Vec3, n)}
	idx := make([]int, n)
	for i, p := range pts {
		m.Points[i] = Vec3{X: p.X, Y: y, Z: p.Z}
		idx[i] = i
	}
	m.AddFace(idx...)
	return m, nil
}

// Ground builds the textured quad between the south-west and north-east corners.
// Vertices are ordered SW, SE, NE, NW.
func Ground(sw, ne geo.LocalPoint, y float64) *Mesh {
	m := &Mesh{
		Points: []Vec3{
			{X: sw.X, Y: y, Z: sw.Z},
			{X: ne.X, Y: y, Z: sw.Z},
			{X: ne.X, Y: y, Z: ne.Z},
			{X: sw.X, Y: y, Z: ne.Z},
		},
		UVs: []Vec2{
			{U: 0, V: 1},
			{U: 1, V: 1},
			{U: 1, V: 0},
			{U: 0, V: 0},
		},
	}
	m.AddFace(0, 1, 2, 3)
	return m
}
