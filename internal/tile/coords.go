package tile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/osmscene/internal/geo"
	"github.com/MeKo-Tech/osmscene/internal/types"
	"github.com/paulmach/orb/maptile"
)

// Coords represents a tile coordinate in the Web Mercator tile system (z/x/y)
type Coords struct {
	Z uint32 // Zoom level (0-19)
	X uint32 // X coordinate (column)
	Y uint32 // Y coordinate (row)
}

// NewCoords creates a new Coords from zoom, x, y values
func NewCoords(z, x, y uint32) Coords {
	return Coords{Z: z, X: x, Y: y}
}

// String returns the tile coordinate as a string in format "z{zoom}_x{x}_y{y}"
func (c Coords) String() string {
	return fmt.Sprintf("z%d_x%d_y%d", c.Z, c.X, c.Y)
}

// Path returns the file path for this tile
func (c Coords) Path(extension string) string {
	return fmt.Sprintf("%s.%s", c.String(), extension)
}

// URL expands a tile URL template containing {z}, {x} and {y} placeholders.
func (c Coords) URL(template string) string {
	r := strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(c.Z), 10),
		"{x}", strconv.FormatUint(uint64(c.X), 10),
		"{y}", strconv.FormatUint(uint64(c.Y), 10),
	)
	return r.Replace(template)
}

// Tile returns the maptile.Tile for this coordinate
func (c Coords) Tile() maptile.Tile {
	return maptile.New(c.X, c.Y, maptile.Zoom(c.Z))
}

// Bounds returns the geographic extent of this tile in WGS84.
func (c Coords) Bounds() types.BoundingBox {
	return types.BoundsFromBound(c.Tile().Bound())
}

// Valid reports whether x and y exist at the tile's zoom level.
func (c Coords) Valid() bool {
	if c.Z > 30 {
		return false
	}
	n := uint32(1) << c.Z
	return c.X < n && c.Y < n
}

// ParseCoords parses a tile string like "z13_x4297_y2754" into Coords
func ParseCoords(s string) (Coords, error) {
	var c Coords
	_, err := fmt.Sscanf(s, "z%d_x%d_y%d", &c.Z, &c.X, &c.Y)
	if err != nil {
		return c, fmt.Errorf("invalid tile coordinate format: %s", s)
	}
	return c, nil
}

// Range is an inclusive block of tiles at a single zoom level.
type Range struct {
	Zoom       uint32
	MinX, MaxX uint32
	MinY, MaxY uint32
}

// RangeForBounds returns the tiles covering b at zoom.
// The south-west corner yields (MinX, MaxY) and the north-east corner (MaxX, MinY),
// since tile rows grow southwards.
func RangeForBounds(b types.BoundingBox, zoom int) Range {
	minX, maxY := geo.TileIndex(b.MinLat, b.MinLon, zoom)
	maxX, minY := geo.TileIndex(b.MaxLat, b.MaxLon, zoom)

	if minX > maxX {
		minX, maxX = maxX, minX
	}
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	return Range{
		Zoom: uint32(zoom),
		MinX: uint32(minX),
		MaxX: uint32(maxX),
		MinY: uint32(minY),
		MaxY: uint32(maxY),
	}
}

// Cols returns the number of tile columns.
func (r Range) Cols() int {
	return int(r.MaxX-r.MinX) + 1
}

// Rows returns the number of tile rows.
func (r Range) Rows() int {
	return int(r.MaxY-r.MinY) + 1
}

// Count returns the total number of tiles in this range
func (r Range) Count() int {
	return r.Cols() * r.Rows()
}

// ForEach calls the given function for each tile in the range, column by column.
func (r Range) ForEach(fn func(Coords)) {
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			fn(NewCoords(r.Zoom, x, y))
		}
	}
}

// Tiles returns all coordinates of the range.
func (r Range) Tiles() []Coords {
	tiles := make([]Coords, 0, r.Count())
	r.ForEach(func(c Coords) {
		tiles = append(tiles, c)
	})
	return tiles
}

// Offset returns the pixel position of c inside a mosaic of the range.
func (r Range) Offset(c Coords, tileSize int) (x, y int) {
	return int(c.X-r.MinX) * tileSize, int(c.Y-r.MinY) * tileSize
}

// Bounds returns the geographic extent covered by the whole range.
func (r Range) Bounds() types.BoundingBox {
	nw := NewCoords(r.Zoom, r.MinX, r.MinY).Tile().Bound()
	se := NewCoords(r.Zoom, r.MaxX, r.MaxY).Tile().Bound()
	return types.BoundsFromBound(nw.Union(se))
}
