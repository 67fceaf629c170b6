// Package ogimage renders the 1200×630 social card shown when a page is
// shared.
package ogimage

import (
	"context"
	"image"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"

	"github.com/tvdn/tvdn-web/internal/log"
	"github.com/tvdn/tvdn-web/internal/xerrors"
)

const (
	Width  = 1200
	Height = 630

	TypeArticle = "article"

	padding = 60

	titleMaxWidth = 900
	titleMaxLines = 3
	titleMaxRunes = 200
	descMaxWidth  = 750
	descMaxLines  = 3
	descMaxRunes  = 300

	iconSize   = 48
	iconRadius = 12

	siteLabel = "tvdn.me"
	tagline   = "Cyber Security Consultant"
)

// footerTop is the y of the footer's top border.
const footerTop = Height - padding - iconSize - 30 - 1

// Card is the text shown on one image.
type Card struct {
	Title       string
	Description string
	Type        string
}

type Renderer struct {
	fonts fonts
	icon  IconSource
}

// NewRenderer parses the bundled fonts. icon may be nil, in which case a
// plain tile is drawn.
func NewRenderer(icon IconSource) (*Renderer, error) {
	f, err := loadFonts()
	if err != nil {
		return nil, xerrors.Wrap(err, "load fonts")
	}
	return &Renderer{fonts: f, icon: icon}, nil
}

type faceSet struct {
	badge, title, desc, label, tagline font.Face
}

func (r *Renderer) faces(article bool) (faceSet, error) {
	titleSize := 60.0
	if article {
		titleSize = 52
	}
	var fs faceSet
	for _, s := range []struct {
		dst  *font.Face
		font *opentype.Font
		size float64
	}{
		{&fs.badge, r.fonts.medium, 18},
		{&fs.title, r.fonts.bold, titleSize},
		{&fs.desc, r.fonts.regular, 26},
		{&fs.label, r.fonts.medium, 24},
		{&fs.tagline, r.fonts.regular, 18},
	} {
		face, err := newFace(s.font, s.size)
		if err != nil {
			return faceSet{}, err
		}
		*s.dst = face
	}
	return fs, nil
}

// Render draws c. The result is always Width×Height regardless of how much
// text c carries.
func (r *Renderer) Render(ctx context.Context, c Card) (*image.RGBA, error) {
	article := c.Type == TypeArticle
	fs, err := r.faces(article)
	if err != nil {
		return nil, xerrors.Wrap(err, "build font faces")
	}

	dst := image.NewRGBA(image.Rect(0, 0, Width, Height))
	verticalGradient(dst, dst.Bounds(), bgTop, bgBottom)
	paint(dst, image.Pt(1050-250, 150-250), radial(250, 0.15), primary)
	paint(dst, image.Pt(100-200, 580-200), radial(200, 0.10), secondary)

	titleSize := 60
	if article {
		titleSize = 52
	}
	titleLH := titleSize * 6 / 5
	const descLH, badgeH, badgeGap, descGap = 39, 42, 24, 24

	title := wrap(fs.title, normalize(c.Title, titleMaxRunes), titleMaxWidth, titleMaxLines)
	desc := wrap(fs.desc, normalize(c.Description, descMaxRunes), descMaxWidth, descMaxLines)

	block := len(title) * titleLH
	if article {
		block += badgeH + badgeGap
	}
	if len(desc) > 0 {
		block += descGap + len(desc)*descLH
	}
	y := padding + max(0, (footerTop-padding-block)/2)

	if article {
		r.badge(dst, fs.badge, padding, y, badgeH)
		y += badgeH + badgeGap
	}
	for _, line := range title {
		drawLine(dst, fs.title, foreground, padding, y, titleLH, line)
		y += titleLH
	}
	if len(desc) > 0 {
		y += descGap
		for _, line := range desc {
			drawLine(dst, fs.desc, muted, padding, y, descLH, line)
			y += descLH
		}
	}

	r.footer(ctx, dst, fs)
	return dst, nil
}

func (r *Renderer) badge(dst *image.RGBA, face font.Face, x, y, h int) {
	const label = "Blog Post"
	w := textWidth(face, label) + 40
	paint(dst, image.Pt(x, y), roundedRect(w, h, 24), hsla(12, 76, 61, 0.15))
	paint(dst, image.Pt(x, y), ring(w, h, 24, 1), hsla(12, 76, 61, 0.3))
	drawLine(dst, face, primary, x+20, y, h, label)
}

func (r *Renderer) footer(ctx context.Context, dst *image.RGBA, fs faceSet) {
	fill(dst, image.Rect(padding, footerTop, Width-padding, footerTop+1), border)

	rowTop := footerTop + 1 + 30
	paint(dst, image.Pt(padding, rowTop), roundedRect(iconSize, iconSize, iconRadius), primary)
	if icon := r.loadIcon(ctx); icon != nil {
		tile := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))
		draw.CatmullRom.Scale(tile, tile.Bounds(), icon, icon.Bounds(), draw.Src, nil)
		at := image.Pt(padding, rowTop)
		mask := roundedRect(iconSize, iconSize, iconRadius)
		draw.DrawMask(dst, mask.Bounds().Add(at), tile, image.Point{}, mask, image.Point{}, draw.Over)
	}
	drawLine(dst, fs.label, foreground, padding+iconSize+16, rowTop, iconSize, siteLabel)

	tw := textWidth(fs.tagline, tagline)
	tx := Width - padding - tw
	drawLine(dst, fs.tagline, muted, tx, rowTop, iconSize, tagline)

	bar := horizontalGradient(40, 4, primary, secondary)
	at := image.Pt(tx-12-40, rowTop+iconSize/2-2)
	mask := roundedRect(40, 4, 2)
	draw.DrawMask(dst, mask.Bounds().Add(at), bar, image.Point{}, mask, image.Point{}, draw.Over)
}

// loadIcon returns nil when there is no usable icon; the primary tile
// underneath then shows through.
func (r *Renderer) loadIcon(ctx context.Context) image.Image {
	if r.icon == nil {
		return nil
	}
	img, err := r.icon.Icon(ctx)
	if err != nil {
		log.FromContext(ctx).Debug(ctx, "og icon unavailable", "err", err.Error())
		return nil
	}
	if img == nil || img.Bounds().Empty() {
		return nil
	}
	return img
}
