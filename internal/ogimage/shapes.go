package ogimage

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

// roundedRect returns an anti-aliased coverage mask for a w×h rectangle
// with corner radius r.
func roundedRect(w, h int, r float64) *image.Alpha {
	m := image.NewAlpha(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			m.Pix[y*m.Stride+x] = coverage(rectSDF(float64(x)+0.5, float64(y)+0.5, 0, 0, float64(w), float64(h), r))
		}
	}
	return m
}

// ring is the stroke of roundedRect: outer coverage minus the rectangle
// inset by width.
func ring(w, h int, r, width float64) *image.Alpha {
	m := image.NewAlpha(image.Rect(0, 0, w, h))
	ir := math.Max(0, r-width)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			outer := coverage(rectSDF(px, py, 0, 0, float64(w), float64(h), r))
			inner := coverage(rectSDF(px, py, width, width, float64(w)-width, float64(h)-width, ir))
			if outer > inner {
				m.Pix[y*m.Stride+x] = outer - inner
			}
		}
	}
	return m
}

// radial is a circle of the given radius fading linearly from peak alpha
// at the centre to nothing at 70% of the radius.
func radial(radius int, peak float64) *image.Alpha {
	d := 2 * radius
	m := image.NewAlpha(image.Rect(0, 0, d, d))
	stop := 0.7 * float64(radius)
	for y := 0; y < d; y++ {
		for x := 0; x < d; x++ {
			dist := math.Hypot(float64(x-radius)+0.5, float64(y-radius)+0.5)
			if dist >= stop {
				continue
			}
			m.Pix[y*m.Stride+x] = unit(peak * (1 - dist/stop))
		}
	}
	return m
}

// rectSDF is the signed distance from (px, py) to the rounded rectangle
// spanning (x0, y0)-(x1, y1). Negative is inside.
func rectSDF(px, py, x0, y0, x1, y1, r float64) float64 {
	cx, cy := (x0+x1)/2, (y0+y1)/2
	hw, hh := (x1-x0)/2, (y1-y0)/2
	r = math.Min(r, math.Min(hw, hh))
	qx := math.Abs(px-cx) - (hw - r)
	qy := math.Abs(py-cy) - (hh - r)
	outside := math.Hypot(math.Max(qx, 0), math.Max(qy, 0))
	inside := math.Min(math.Max(qx, qy), 0)
	return outside + inside - r
}

func coverage(sdf float64) uint8 {
	return unit(0.5 - sdf)
}

// paint composites c through mask with its top-left corner at at.
func paint(dst draw.Image, at image.Point, mask *image.Alpha, c color.Color) {
	r := mask.Bounds().Add(at)
	draw.DrawMask(dst, r, image.NewUniform(c), image.Point{}, mask, image.Point{}, draw.Over)
}

func fill(dst draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r, image.NewUniform(c), image.Point{}, draw.Over)
}

// verticalGradient fills r from top to bottom.
func verticalGradient(dst draw.Image, r image.Rectangle, top, bottom color.NRGBA) {
	span := float64(r.Dy() - 1)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		t := 0.0
		if span > 0 {
			t = float64(y-r.Min.Y) / span
		}
		draw.Draw(dst, image.Rect(r.Min.X, y, r.Max.X, y+1), image.NewUniform(lerp(top, bottom, t)), image.Point{}, draw.Src)
	}
}

// horizontalGradient returns a w×h image running from left to right.
func horizontalGradient(w, h int, left, right color.NRGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	span := float64(w - 1)
	for x := 0; x < w; x++ {
		t := 0.0
		if span > 0 {
			t = float64(x) / span
		}
		draw.Draw(img, image.Rect(x, 0, x+1, h), image.NewUniform(lerp(left, right, t)), image.Point{}, draw.Src)
	}
	return img
}
