package ogimage

import (
	"image/color"
	"math"
)

// hsla converts CSS-style hue (degrees), saturation and lightness
// (percent) and alpha (0..1) to a non-premultiplied color.
func hsla(h, s, l, a float64) color.NRGBA {
	s /= 100
	l /= 100
	c := (1 - math.Abs(2*l-1)) * s
	hp := math.Mod(h, 360) / 60
	x := c * (1 - math.Abs(math.Mod(hp, 2)-1))

	var r, g, b float64
	switch {
	case hp < 1:
		r, g = c, x
	case hp < 2:
		r, g = x, c
	case hp < 3:
		g, b = c, x
	case hp < 4:
		g, b = x, c
	case hp < 5:
		r, b = x, c
	default:
		r, b = c, x
	}
	m := l - c/2
	return color.NRGBA{R: unit(r + m), G: unit(g + m), B: unit(b + m), A: unit(a)}
}

func hsl(h, s, l float64) color.NRGBA { return hsla(h, s, l, 1) }

func unit(v float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// lerp mixes a and b; t=0 is a.
func lerp(a, b color.NRGBA, t float64) color.NRGBA {
	mix := func(x, y uint8) uint8 { return uint8(math.Round(float64(x) + (float64(y)-float64(x))*t)) }
	return color.NRGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: mix(a.A, b.A)}
}

var (
	bgTop      = hsl(20, 20, 10)
	bgBottom   = hsl(20, 18, 14)
	primary    = hsl(12, 76, 61)
	secondary  = hsl(32, 95, 68)
	foreground = hsl(40, 20, 95)
	muted      = hsl(40, 10, 60)
	border     = hsla(20, 15, 25, 0.6)
)
