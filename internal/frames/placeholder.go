package frames

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Default placeholder branding.
const (
	PlaceholderTitle  = "SNAP & GO PHOTOBOOTH"
	PlaceholderFooter = "#SnapAndGo"
)

const placeholderBorder = 20

var (
	placeholderFill = color.NRGBA{R: 0xfb, G: 0xf8, B: 0xf1, A: 0xff}
	placeholderEdge = color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}
	placeholderInk  = color.NRGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}
)

// RenderPlaceholder draws stand-in artwork for a frame: a cream card with a
// white border, fully transparent windows at each slot, and the title and
// footer centred in the free bands above and below the slots.
func RenderPlaceholder(d Descriptor, title, footer string) *image.NRGBA {
	if title == "" {
		title = PlaceholderTitle
	}
	if footer == "" {
		footer = PlaceholderFooter
	}

	img := image.NewNRGBA(d.Bounds())
	draw.Draw(img, img.Bounds(), image.NewUniform(placeholderEdge), image.Point{}, draw.Src)
	inner := img.Bounds().Inset(placeholderBorder)
	if !inner.Empty() {
		draw.Draw(img, inner, image.NewUniform(placeholderFill), image.Point{}, draw.Src)
	}
	for _, s := range d.Slots {
		draw.Draw(img, s.Rect().Intersect(img.Bounds()), image.Transparent, image.Point{}, draw.Src)
	}

	top, bottom := freeBands(d)
	face := basicfont.Face7x13
	lineHeight := face.Metrics().Height.Ceil()
	if top.Dy() >= lineHeight {
		drawCentered(img, face, title, top)
		if bottom.Dy() >= lineHeight {
			drawCentered(img, face, footer, bottom)
		}
	} else if bottom.Dy() >= 2*lineHeight {
		upper, lower := splitBand(bottom)
		drawCentered(img, face, title, upper)
		drawCentered(img, face, footer, lower)
	} else if bottom.Dy() >= lineHeight {
		drawCentered(img, face, title, bottom)
	}
	return img
}

// freeBands returns the horizontal bands above the highest slot and below
// the lowest slot, excluding the border.
func freeBands(d Descriptor) (top, bottom image.Rectangle) {
	minY, maxY := d.Height, 0
	for _, s := range d.Slots {
		if s.Y < minY {
			minY = s.Y
		}
		if s.Y+s.Height > maxY {
			maxY = s.Y + s.Height
		}
	}
	top = image.Rect(placeholderBorder, placeholderBorder, d.Width-placeholderBorder, minY)
	bottom = image.Rect(placeholderBorder, maxY, d.Width-placeholderBorder, d.Height-placeholderBorder)
	return top.Canon(), bottom.Canon()
}

func splitBand(r image.Rectangle) (image.Rectangle, image.Rectangle) {
	mid := r.Min.Y + r.Dy()/2
	return image.Rect(r.Min.X, r.Min.Y, r.Max.X, mid), image.Rect(r.Min.X, mid, r.Max.X, r.Max.Y)
}

func drawCentered(dst draw.Image, face font.Face, text string, band image.Rectangle) {
	width := font.MeasureString(face, text).Ceil()
	if width > band.Dx() {
		return
	}
	m := face.Metrics()
	textHeight := (m.Ascent + m.Descent).Ceil()
	x := band.Min.X + (band.Dx()-width)/2
	y := band.Min.Y + (band.Dy()-textHeight)/2 + m.Ascent.Ceil()
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(placeholderInk),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}
