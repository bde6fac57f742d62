package synth

import (
	"image"
	"math"
	"math/rand/v2"

	"golang.org/x/image/vector"
)

// HU values of the phantom tissues.
const (
	huAir    = -1000
	huTissue = 40
	huLung   = -800
	huCord   = 30
	huLabel  = 1000
)

// ROI names written to every structure set, in file order.
const (
	ROIBody       = "Body"
	ROILungR      = "Lung_R"
	ROILungL      = "Lung_L"
	ROISpinalCord = "SpinalCord"
)

// ROINames returns the ROI names of a phantom structure set.
func ROINames() []string {
	return []string{ROIBody, ROILungR, ROILungL, ROISpinalCord}
}

// ellipse is an axis-aligned ellipse in fractional pixel coordinates.
type ellipse struct {
	row, col   float64 // center
	aRow, aCol float64 // semi-axes
}

// distance returns the normalized radius of (r, c): below 1 inside,
// above 1 outside.
func (e ellipse) distance(r, c float64) float64 {
	dr := (r - e.row) / e.aRow
	dc := (c - e.col) / e.aCol
	return math.Sqrt(dr*dr + dc*dc)
}

// polygon returns n vertices on the ellipse as (row, col) pairs, walked
// counter-clockwise in image space.
func (e ellipse) polygon(n int) [][2]float64 {
	pts := make([][2]float64, n)
	for i := range pts {
		theta := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = [2]float64{e.row + e.aRow*math.Sin(theta), e.col + e.aCol*math.Cos(theta)}
	}
	return pts
}

// organ is one phantom structure on one slice.
type organ struct {
	name     string
	hu       int16
	shape    ellipse
	vertices int
}

// phantom describes the anatomy of a case, slice by slice.
type phantom struct {
	rows, cols, slices int
}

// organs returns the structures present on slice s, in paint order.
func (p phantom) organs(s int) []organ {
	rows, cols := float64(p.rows), float64(p.cols)
	out := []organ{
		{name: ROIBody, hu: huTissue, vertices: 48, shape: ellipse{
			row: rows / 2, col: cols / 2, aRow: 0.38 * rows, aCol: 0.45 * cols,
		}},
	}

	if p.lungsOn(s) {
		f := p.taper(s)
		aRow, aCol := 0.24*rows*f, 0.13*cols*f
		// Patient right is image left with the default orientation.
		out = append(out,
			organ{name: ROILungR, hu: huLung, vertices: 40, shape: ellipse{
				row: 0.47 * rows, col: 0.29 * cols, aRow: aRow, aCol: aCol,
			}},
			organ{name: ROILungL, hu: huLung, vertices: 40, shape: ellipse{
				row: 0.47 * rows, col: 0.71 * cols, aRow: aRow, aCol: aCol,
			}},
		)
	}

	radius := math.Max(0.035*math.Min(rows, cols), 2)
	out = append(out, organ{name: ROISpinalCord, hu: huCord, vertices: 16, shape: ellipse{
		row: 0.78 * rows, col: cols / 2, aRow: radius, aCol: radius,
	}})
	return out
}

// lungsOn reports whether slice s cuts the lungs. The apex and base slices
// of volumes with at least 3 slices carry none.
func (p phantom) lungsOn(s int) bool {
	if p.slices < 3 {
		return true
	}
	return s > 0 && s < p.slices-1
}

// taper shrinks the lungs away from the mid slice.
func (p phantom) taper(s int) float64 {
	mid := float64(p.slices-1) / 2
	if mid == 0 {
		return 1
	}
	return 1 - 0.3*math.Abs(float64(s)-mid)/mid
}

// find returns the named organ on slice s.
func (p phantom) find(name string, s int) (organ, bool) {
	for _, o := range p.organs(s) {
		if o.name == name {
			return o, true
		}
	}
	return organ{}, false
}

// paint renders slice s into hu (row-major, rows x cols). Each organ is
// filled with vector coverage thresholded at one half, so pixel (r, c) is
// inside when its center is. Tissue gets mild deterministic noise.
func (p phantom) paint(hu []int16, s int, rng *rand.Rand) {
	for i := range hu {
		hu[i] = huAir
	}

	bounds := image.Rect(0, 0, p.cols, p.rows)
	coverage := image.NewAlpha(bounds)
	z := vector.NewRasterizer(p.cols, p.rows)

	for _, o := range p.organs(s) {
		clear(coverage.Pix)
		z.Reset(p.cols, p.rows)
		for i, v := range o.shape.polygon(o.vertices) {
			// Vector coordinates address pixel corners; centers sit at +0.5.
			x, y := float32(v[1]+0.5), float32(v[0]+0.5)
			if i == 0 {
				z.MoveTo(x, y)
			} else {
				z.LineTo(x, y)
			}
		}
		z.ClosePath()
		z.Draw(coverage, bounds, image.Opaque, image.Point{})

		for r := 0; r < p.rows; r++ {
			for c := 0; c < p.cols; c++ {
				if coverage.AlphaAt(c, r).A >= 0x80 {
					hu[r*p.cols+c] = o.hu
				}
			}
		}
	}

	for i, v := range hu {
		if v != huAir {
			hu[i] = v + int16(rng.IntN(17)-8)
		}
	}
}
