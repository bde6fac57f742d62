package rtstruct

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// ContourError describes why one contour of an ROI could not be rasterized.
type ContourError struct {
	ROI    string
	Index  int
	Reason string
}

func (e *ContourError) Error() string {
	return fmt.Sprintf("ROI %q contour %d: %s", e.ROI, e.Index, e.Reason)
}

// Result is the outcome of rasterizing one ROI: exactly one of Mask and
// Err is set.
type Result struct {
	Name string
	Mask *Mask
	Err  error
}

// OK reports whether the ROI produced a mask.
func (r Result) OK() bool { return r.Err == nil && r.Mask != nil }

// ResolveAll rasterizes every ROI of the set independently. A failing ROI
// yields a Result with Err set and never affects the others.
func (s *StructureSet) ResolveAll() []Result {
	results := make([]Result, 0, len(s.rois))
	for _, r := range s.rois {
		if r.duplicate {
			results = append(results, Result{Name: r.name, Err: fmt.Errorf("%w %q", ErrDuplicateROI, r.name)})
			continue
		}
		mask, err := s.rasterizeSafe(r)
		results = append(results, Result{Name: r.name, Mask: mask, Err: err})
	}
	return results
}

// Rasterize builds the mask of the first ROI called name.
func (s *StructureSet) Rasterize(name string) (*Mask, error) {
	r, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownROI, name)
	}
	return s.rasterizeSafe(r)
}

// rasterizeSafe converts a panic on corrupt input into an ROI error.
func (s *StructureSet) rasterizeSafe(r *roi) (mask *Mask, err error) {
	defer func() {
		if p := recover(); p != nil {
			mask, err = nil, fmt.Errorf("ROI %q: rasterization panic: %v", r.name, p)
		}
	}()
	return s.rasterize(r)
}

func (s *StructureSet) rasterize(r *roi) (*Mask, error) {
	if !r.hasContours || len(r.contours) == 0 {
		return nil, fmt.Errorf("ROI %q: %w", r.name, ErrNoContours)
	}

	shape := s.vol.Shape
	mask := NewMask(shape)
	plane := make([]uint8, shape.Rows*shape.Cols)

	for i, c := range r.contours {
		points, err := c.points()
		if err != nil {
			return nil, &ContourError{ROI: r.name, Index: i, Reason: err.Error()}
		}
		slice, err := s.placeContour(c, points)
		if err != nil {
			return nil, &ContourError{ROI: r.name, Index: i, Reason: err.Error()}
		}

		poly, err := s.toPixels(points, slice)
		if err != nil {
			return nil, &ContourError{ROI: r.name, Index: i, Reason: err.Error()}
		}

		clear(plane)
		if fillPolygon(plane, shape.Rows, shape.Cols, poly) == 0 {
			return nil, &ContourError{ROI: r.name, Index: i, Reason: "contour lies outside the image plane"}
		}
		mask.applyPlane(plane, slice, s.opts.Combine)
	}

	if err := mask.CheckShape(shape); err != nil {
		return nil, fmt.Errorf("ROI %q: %w", r.name, err)
	}
	return mask, nil
}

// points decodes ContourData into patient-space points.
func (c contour) points() ([]r3.Vec, error) {
	if c.dataErr != nil {
		return nil, c.dataErr
	}
	if len(c.data) == 0 {
		return nil, fmt.Errorf("empty contour data")
	}
	if len(c.data)%3 != 0 {
		return nil, fmt.Errorf("contour data has %d values, not a multiple of 3", len(c.data))
	}
	n := len(c.data) / 3
	if c.hasDeclared && c.declared != n {
		return nil, fmt.Errorf("contour declares %d points but holds %d", c.declared, n)
	}
	switch c.geometry {
	case "POINT":
	default:
		if n < 3 {
			return nil, fmt.Errorf("%s contour has %d points, need at least 3", geometryName(c.geometry), n)
		}
	}

	pts := make([]r3.Vec, n)
	for i := range pts {
		x, y, z := c.data[3*i], c.data[3*i+1], c.data[3*i+2]
		if math.IsNaN(x+y+z) || math.IsInf(x+y+z, 0) {
			return nil, fmt.Errorf("point %d is not finite", i)
		}
		pts[i] = r3.Vec{X: x, Y: y, Z: z}
	}
	return pts, nil
}

func geometryName(g string) string {
	if g == "" {
		return "CLOSED_PLANAR"
	}
	return g
}

// placeContour returns the slice a contour lies on. The referenced image
// wins when it is part of the series; otherwise the nearest slice plane
// is used. Either way the contour must lie within half a slice spacing.
func (s *StructureSet) placeContour(c contour, pts []r3.Vec) (int, error) {
	var centroid r3.Vec
	for _, p := range pts {
		centroid = r3.Add(centroid, p)
	}
	centroid = r3.Scale(1/float64(len(pts)), centroid)

	limit := s.vol.Spacing.Slice/2 + 1e-3
	if c.referenceSOP != "" {
		if idx, ok := s.vol.SliceBySOPInstanceUID(c.referenceSOP); ok {
			d := math.Abs(r3.Dot(r3.Sub(centroid, s.vol.Geometry.Origins[idx]), s.vol.Geometry.Normal))
			if d > limit {
				return 0, fmt.Errorf("contour is %.3f mm away from its referenced slice %d", d, idx)
			}
			return idx, nil
		}
	}

	idx, d := s.vol.NearestSlice(centroid)
	if d > limit {
		return 0, fmt.Errorf("contour at %.3f mm from the nearest slice lies on no CT slice", d)
	}
	return idx, nil
}

// toPixels maps points onto slice s and rounds them to the nearest pixel.
func (s *StructureSet) toPixels(pts []r3.Vec, slice int) ([]pixel, error) {
	shape := s.vol.Shape
	bound := float64(8 * max(shape.Rows, shape.Cols))

	poly := make([]pixel, len(pts))
	for i, p := range pts {
		row, col := s.vol.ToPixel(p, slice)
		if math.Abs(row) > bound || math.Abs(col) > bound {
			return nil, fmt.Errorf("point %d maps to pixel (%.1f, %.1f), far outside the %dx%d image",
				i, row, col, shape.Rows, shape.Cols)
		}
		poly[i] = pixel{r: int(math.Round(row)), c: int(math.Round(col))}
	}
	return poly, nil
}
