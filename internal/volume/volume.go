// Package volume loads a CT series from a directory of DICOM slices into a
// Hounsfield-Unit volume with (row, column, slice) axis order.
package volume

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Shape is the extent of a volume along its three axes.
type Shape struct {
	Rows   int
	Cols   int
	Slices int
}

// Len returns the number of voxels.
func (s Shape) Len() int { return s.Rows * s.Cols * s.Slices }

// Valid reports whether no axis is degenerate.
func (s Shape) Valid() bool { return s.Rows >= 1 && s.Cols >= 1 && s.Slices >= 1 }

// Dims returns the shape as (rows, cols, slices).
func (s Shape) Dims() [3]int { return [3]int{s.Rows, s.Cols, s.Slices} }

func (s Shape) String() string { return fmt.Sprintf("%dx%dx%d", s.Rows, s.Cols, s.Slices) }

// Spacing is the physical voxel size in mm, in axis order.
type Spacing struct {
	Row   float64 // distance between adjacent rows
	Col   float64 // distance between adjacent columns
	Slice float64 // distance between adjacent slices
}

// Array returns the spacing as (row, col, slice).
func (s Spacing) Array() [3]float64 { return [3]float64{s.Row, s.Col, s.Slice} }

// Valid reports whether every component is strictly positive and finite.
func (s Spacing) Valid() bool {
	for _, v := range s.Array() {
		if !(v > 0) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// VoxelVolume returns the volume of one voxel in mm³.
func (s Spacing) VoxelVolume() float64 { return s.Row * s.Col * s.Slice }

// Geometry is the patient-space placement of the voxel grid.
type Geometry struct {
	// RowCosine is the direction of increasing column index.
	RowCosine r3.Vec
	// ColCosine is the direction of increasing row index.
	ColCosine r3.Vec
	// Normal is RowCosine x ColCosine; slices are ordered along it.
	Normal r3.Vec
	// Origins holds the ImagePositionPatient of every slice, in slice order.
	Origins []r3.Vec
	// SOPInstanceUIDs holds the instance UID of every slice, in slice order.
	SOPInstanceUIDs []string

	SeriesInstanceUID   string
	FrameOfReferenceUID string
	StudyInstanceUID    string
}

// Volume is an immutable HU volume. The voxel at (r, c, s) is stored at
// Data[(r*Cols+c)*Slices+s].
type Volume struct {
	Shape    Shape
	Spacing  Spacing
	Data     []int16
	Geometry Geometry
}

// Index returns the offset of voxel (r, c, s) in Data.
func (v *Volume) Index(r, c, s int) int {
	return (r*v.Shape.Cols+c)*v.Shape.Slices + s
}

// At returns the HU value at (r, c, s).
func (v *Volume) At(r, c, s int) int16 {
	return v.Data[v.Index(r, c, s)]
}

// SliceBySOPInstanceUID returns the slice index of an instance.
func (v *Volume) SliceBySOPInstanceUID(uid string) (int, bool) {
	for i, u := range v.Geometry.SOPInstanceUIDs {
		if u == uid {
			return i, true
		}
	}
	return 0, false
}

// SliceOffset returns the signed distance of p from the first slice plane,
// measured along the slice normal.
func (v *Volume) SliceOffset(p r3.Vec) float64 {
	return r3.Dot(r3.Sub(p, v.Geometry.Origins[0]), v.Geometry.Normal)
}

// NearestSlice returns the slice whose plane is closest to p and the
// distance to that plane in mm.
func (v *Volume) NearestSlice(p r3.Vec) (index int, distance float64) {
	best, bestDist := 0, math.Inf(1)
	for i, o := range v.Geometry.Origins {
		d := math.Abs(r3.Dot(r3.Sub(p, o), v.Geometry.Normal))
		if d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// ToPixel maps p onto the plane of slice s and returns fractional
// (row, col) pixel coordinates.
func (v *Volume) ToPixel(p r3.Vec, s int) (row, col float64) {
	d := r3.Sub(p, v.Geometry.Origins[s])
	col = r3.Dot(d, v.Geometry.RowCosine) / v.Spacing.Col
	row = r3.Dot(d, v.Geometry.ColCosine) / v.Spacing.Row
	return row, col
}
