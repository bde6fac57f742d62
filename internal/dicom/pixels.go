package dicom

import (
	"errors"
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrNoPixelData is returned by FrameSamples for datasets without images.
var ErrNoPixelData = errors.New("no pixel data")

// Frame is one decoded single-channel image plane. Samples are stored
// row-major and already sign-extended according to PixelRepresentation.
type Frame struct {
	Rows, Cols int
	Samples    []int32
}

// FrameSamples decodes the first native frame of ds. Encapsulated
// (compressed) transfer syntaxes are not supported.
func FrameSamples(ds *dicom.Dataset) (*Frame, error) {
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, ErrNoPixelData
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, ErrNoPixelData
	}
	fr := info.Frames[0]
	if fr.Encapsulated {
		return nil, errors.New("encapsulated pixel data is not supported")
	}

	bitsStored, ok := Int(ds, tag.BitsStored)
	if !ok {
		bitsStored, _ = Int(ds, tag.BitsAllocated)
	}
	signed := false
	if rep, ok := Int(ds, tag.PixelRepresentation); ok && rep == 1 {
		signed = true
	}
	if spp, ok := Int(ds, tag.SamplesPerPixel); ok && spp != 1 {
		return nil, fmt.Errorf("expected 1 sample per pixel, got %d", spp)
	}

	rows, okRows := Int(ds, tag.Rows)
	cols, okCols := Int(ds, tag.Columns)
	if !okRows || !okCols || rows < 1 || cols < 1 {
		return nil, errors.New("missing or invalid Rows/Columns")
	}

	var raw []uint32
	switch nf := fr.NativeData.(type) {
	case *frame.NativeFrame[uint8]:
		raw = widen(nf.RawData)
	case *frame.NativeFrame[uint16]:
		raw = widen(nf.RawData)
	case *frame.NativeFrame[uint32]:
		raw = widen(nf.RawData)
	default:
		return nil, fmt.Errorf("unsupported native frame type %T", fr.NativeData)
	}
	if len(raw) < rows*cols {
		return nil, fmt.Errorf("pixel data holds %d samples, want %d", len(raw), rows*cols)
	}

	samples := make([]int32, rows*cols)
	for i := range samples {
		samples[i] = extendSample(raw[i], bitsStored, signed)
	}
	return &Frame{Rows: rows, Cols: cols, Samples: samples}, nil
}

func widen[T uint8 | uint16 | uint32](in []T) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[i] = uint32(v)
	}
	return out
}

// extendSample masks v to its stored bits and applies two's complement
// when the pixel representation is signed.
func extendSample(v uint32, bitsStored int, signed bool) int32 {
	if bitsStored <= 0 || bitsStored > 32 {
		bitsStored = 16
	}
	if bitsStored < 32 {
		v &= (1 << bitsStored) - 1
	}
	if signed && bitsStored < 32 && v&(1<<(bitsStored-1)) != 0 {
		return int32(int64(v) - int64(1)<<bitsStored)
	}
	return int32(v)
}
