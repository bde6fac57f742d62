package rtstruct

import (
	"math"
	"sort"
)

// pixel is an integer (row, col) image coordinate.
type pixel struct {
	r, c int
}

// fillPolygon rasterizes a closed polygon into plane (row-major, rows x cols).
// Interior pixels are found with an even-odd scan-line pass; boundary
// pixels are then stroked so edges and vertices are always included.
// Pixels outside the plane are clipped. It returns the number of in-plane
// pixels set.
func fillPolygon(plane []uint8, rows, cols int, poly []pixel) int {
	if len(poly) == 0 {
		return 0
	}

	minR, maxR := poly[0].r, poly[0].r
	for _, p := range poly[1:] {
		minR = min(minR, p.r)
		maxR = max(maxR, p.r)
	}
	minR = max(minR, 0)
	maxR = min(maxR, rows-1)

	var xs []float64
	for y := minR; y <= maxR; y++ {
		xs = xs[:0]
		for i := range poly {
			a, b := poly[i], poly[(i+1)%len(poly)]
			if a.r == b.r {
				continue
			}
			lo, hi := a, b
			if lo.r > hi.r {
				lo, hi = hi, lo
			}
			// Half-open on the upper end so shared vertices count once.
			if y < lo.r || y >= hi.r {
				continue
			}
			t := float64(y-lo.r) / float64(hi.r-lo.r)
			xs = append(xs, float64(lo.c)+t*float64(hi.c-lo.c))
		}
		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			x0 := max(int(math.Ceil(xs[i])), 0)
			x1 := min(int(math.Floor(xs[i+1])), cols-1)
			for x := x0; x <= x1; x++ {
				plane[y*cols+x] = 1
			}
		}
	}

	for i := range poly {
		strokeLine(plane, rows, cols, poly[i], poly[(i+1)%len(poly)])
	}

	n := 0
	for _, v := range plane {
		if v != 0 {
			n++
		}
	}
	return n
}

// strokeLine sets every pixel on the Bresenham segment from a to b.
func strokeLine(plane []uint8, rows, cols int, a, b pixel) {
	dr, dc := abs(b.r-a.r), -abs(b.c-a.c)
	sr, sc := 1, 1
	if a.r > b.r {
		sr = -1
	}
	if a.c > b.c {
		sc = -1
	}
	e := dr + dc
	r, c := a.r, a.c
	for {
		if r >= 0 && r < rows && c >= 0 && c < cols {
			plane[r*cols+c] = 1
		}
		if r == b.r && c == b.c {
			return
		}
		e2 := 2 * e
		if e2 >= dc {
			e += dc
			r += sr
		}
		if e2 <= dr {
			e += dr
			c += sc
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
