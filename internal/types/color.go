package types

import (
	"fmt"
	"image/color"
	"math"
)

// Color is a linear RGB triple with components in [0, 1].
type Color struct {
	R, G, B float64
}

// Gray returns a neutral color with all components set to v.
func Gray(v float64) Color {
	return Color{R: v, G: v, B: v}
}

// NRGBA converts the color to an 8-bit image color.
func (c Color) NRGBA(alpha float64) color.NRGBA {
	return color.NRGBA{R: to8(c.R), G: to8(c.G), B: to8(c.B), A: to8(alpha)}
}

func (c Color) String() string {
	return fmt.Sprintf("(%g, %g, %g)", c.R, c.G, c.B)
}

func to8(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}
