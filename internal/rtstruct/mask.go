package rtstruct

import (
	"fmt"

	"github.com/mrsinham/lctscprep/internal/volume"
)

// Mask is a binary voxel mask laid out like volume.Volume: the voxel at
// (r, c, s) is Data[(r*Cols+c)*Slices+s] and holds 0 or 1.
type Mask struct {
	Shape volume.Shape
	Data  []uint8
}

// NewMask returns an empty mask of the given shape.
func NewMask(shape volume.Shape) *Mask {
	return &Mask{Shape: shape, Data: make([]uint8, shape.Len())}
}

// Index returns the offset of voxel (r, c, s) in Data.
func (m *Mask) Index(r, c, s int) int {
	return (r*m.Shape.Cols+c)*m.Shape.Slices + s
}

// At returns the mask value at (r, c, s).
func (m *Mask) At(r, c, s int) uint8 { return m.Data[m.Index(r, c, s)] }

// Count returns the number of set voxels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Data {
		if v != 0 {
			n++
		}
	}
	return n
}

// SliceCount returns the number of set voxels on slice s.
func (m *Mask) SliceCount(s int) int {
	n := 0
	for i := s; i < len(m.Data); i += m.Shape.Slices {
		if m.Data[i] != 0 {
			n++
		}
	}
	return n
}

// CheckShape fails when the mask does not match the volume grid.
func (m *Mask) CheckShape(shape volume.Shape) error {
	if m.Shape != shape || len(m.Data) != shape.Len() {
		return fmt.Errorf("mask shape %s does not match volume shape %s", m.Shape, shape)
	}
	return nil
}

// applyPlane merges a filled 2D plane (row-major, rows*cols) into slice s.
func (m *Mask) applyPlane(plane []uint8, s int, mode Combine) {
	n := m.Shape.Slices
	for i, v := range plane {
		if v == 0 {
			continue
		}
		idx := i*n + s
		switch mode {
		case CombineXOR:
			m.Data[idx] ^= 1
		default:
			m.Data[idx] = 1
		}
	}
}
