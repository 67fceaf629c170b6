package ogimage

import (
	"image"
	"image/color"
	"strings"
	"unicode/utf8"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomedium"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const ellipsis = "…"

// fonts holds parsed typefaces. Parsed fonts are safe to share; faces
// are not, so each render builds its own.
type fonts struct {
	regular *opentype.Font
	medium  *opentype.Font
	bold    *opentype.Font
}

func loadFonts() (fonts, error) {
	var f fonts
	for _, src := range []struct {
		dst  **opentype.Font
		data []byte
	}{
		{&f.regular, goregular.TTF},
		{&f.medium, gomedium.TTF},
		{&f.bold, gobold.TTF},
	} {
		parsed, err := opentype.Parse(src.data)
		if err != nil {
			return fonts{}, err
		}
		*src.dst = parsed
	}
	return f, nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

func textWidth(face font.Face, s string) int {
	return font.MeasureString(face, s).Ceil()
}

// drawLine draws s with its baseline centred in a line box of height lh
// whose top-left corner is (x, top).
func drawLine(dst *image.RGBA, face font.Face, c color.Color, x, top, lh int, s string) {
	m := face.Metrics()
	asc, desc := m.Ascent.Ceil(), m.Descent.Ceil()
	baseline := top + (lh-(asc+desc))/2 + asc
	d := font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, baseline),
	}
	d.DrawString(s)
}

// normalize collapses whitespace and caps s at limit runes.
func normalize(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:limit])) + ellipsis
}

// wrap breaks text into lines no wider than maxW. Words wider than a line
// are split by rune. When more than maxLines result, the last kept line
// ends in an ellipsis.
func wrap(face font.Face, text string, maxW, maxLines int) []string {
	words := strings.Fields(text)
	var lines []string
	cur := ""
	for len(words) > 0 {
		w := words[0]
		cand := w
		if cur != "" {
			cand = cur + " " + w
		}
		switch {
		case textWidth(face, cand) <= maxW:
			cur, words = cand, words[1:]
		case cur != "":
			lines, cur = append(lines, cur), ""
		default:
			head, tail := splitToWidth(face, w, maxW)
			lines = append(lines, head)
			if tail == "" {
				words = words[1:]
			} else {
				words[0] = tail
			}
		}
	}
	if cur != "" {
		lines = append(lines, cur)
	}
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
		lines[maxLines-1] = ellipsize(face, lines[maxLines-1], maxW)
	}
	return lines
}

// splitToWidth returns the longest rune prefix of w that fits, never less
// than one rune.
func splitToWidth(face font.Face, w string, maxW int) (string, string) {
	r := []rune(w)
	n := 1
	for n < len(r) && textWidth(face, string(r[:n+1])) <= maxW {
		n++
	}
	return string(r[:n]), string(r[n:])
}

func ellipsize(face font.Face, line string, maxW int) string {
	r := []rune(strings.TrimSuffix(line, ellipsis))
	for len(r) > 0 && textWidth(face, strings.TrimRight(string(r), " ")+ellipsis) > maxW {
		r = r[:len(r)-1]
	}
	return strings.TrimRight(string(r), " ") + ellipsis
}
