package runner

import (
	"fmt"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/colornames"
)

// ColorSpace is the encoding of a host color
type ColorSpace int

const (
	// LinearSRGB colors are already linear
	LinearSRGB ColorSpace = iota + 1
	// SRGB colors carry the sRGB transfer curve
	SRGB
)

// Color converts c to a linear RGBA float4 value. Alpha is straight, not
// premultiplied.
func Color(c color.Color, space ColorSpace) (Argument, error) {
	if c == nil {
		return Argument{}, fmt.Errorf("%w: nil color", ErrResourceCreation)
	}
	n := color.NRGBA64Model.Convert(c).(color.NRGBA64)
	rgba := [4]float32{
		float32(n.R) / 0xffff,
		float32(n.G) / 0xffff,
		float32(n.B) / 0xffff,
		float32(n.A) / 0xffff,
	}

	switch space {
	case LinearSRGB:
	case SRGB:
		for i := 0; i < 3; i++ {
			rgba[i] = srgbToLinear(rgba[i])
		}
	default:
		return Argument{}, fmt.Errorf("%w: unknown color space %d", ErrResourceCreation, int(space))
	}
	return Vector(rgba[:]...), nil
}

// ColorNamed resolves an SVG 1.1 color name such as "cornflowerblue"
func ColorNamed(name string, space ColorSpace) (Argument, error) {
	c, ok := colornames.Map[strings.ToLower(name)]
	if !ok {
		return Argument{}, fmt.Errorf("%w: unknown color %q", ErrResourceCreation, name)
	}
	return Color(c, space)
}

func srgbToLinear(v float32) float32 {
	if v <= 0.04045 {
		return v / 12.92
	}
	return float32(math.Pow((float64(v)+0.055)/1.055, 2.4))
}
