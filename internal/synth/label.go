package synth

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// labelMargin is the gap in pixels between the label and the image corner.
const labelMargin = 2

// burnLabel writes text into the top-left corner of a row-major HU plane.
// Only air pixels are touched so the anatomy and its contours stay intact.
// The text is scaled up when the image is wide enough and dropped when it
// does not fit at all.
func burnLabel(hu []int16, rows, cols int, text string) {
	face := basicfont.Face7x13
	baseWidth := font.MeasureString(face, text).Ceil()
	baseHeight := face.Height
	if baseWidth == 0 {
		return
	}

	textImg := image.NewAlpha(image.Rect(0, 0, baseWidth, baseHeight))
	drawer := &font.Drawer{
		Dst:  textImg,
		Src:  image.NewUniform(color.Alpha{A: 0xff}),
		Face: face,
		Dot:  fixed.Point26_6{Y: fixed.I(face.Ascent)},
	}
	drawer.DrawString(text)

	// Aim for a quarter of the image width, never smaller than the font.
	scale := max(float64(cols)/4/float64(baseWidth), 1)
	width := int(float64(baseWidth) * scale)
	height := int(float64(baseHeight) * scale)
	if width+labelMargin > cols || height+labelMargin > rows {
		return
	}

	scaled := image.NewAlpha(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(scaled, scaled.Bounds(), textImg, textImg.Bounds(), draw.Over, nil)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if scaled.AlphaAt(x, y).A < 0x80 {
				continue
			}
			i := (y+labelMargin)*cols + x + labelMargin
			if hu[i] == huAir {
				hu[i] = huLabel
			}
		}
	}
}
