package volume

import (
	"errors"
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"

	internaldicom "github.com/mrsinham/lctscprep/internal/dicom"
)

// errNotImage marks files that parse as DICOM but carry no image.
var errNotImage = errors.New("not an image instance")

// nonImageModalities never contribute slices even when they carry pixels.
var nonImageModalities = map[string]bool{
	"RTSTRUCT": true,
	"RTPLAN":   true,
	"RTDOSE":   true,
	"SEG":      true,
	"SR":       true,
	"PR":       true,
}

// sliceFile is one parsed CT instance.
type sliceFile struct {
	path string

	seriesUID   string
	studyUID    string
	sopUID      string
	frameUID    string
	instance    int
	hasInstance bool

	rows, cols int

	position       r3.Vec
	hasPosition    bool
	rowCos, colCos r3.Vec
	hasOrientation bool

	pixelSpacing   [2]float64
	thickness      float64
	spacingBetween float64

	slope, intercept float64

	samples []int32
}

// readSlice parses one file. It returns errNotImage for DICOM files
// that are not part of an image series.
func readSlice(path string) (*sliceFile, error) {
	parsed, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	ds := &parsed

	modality := strings.ToUpper(internaldicom.String(ds, tag.Modality))
	if nonImageModalities[modality] || !internaldicom.Has(ds, tag.PixelData) {
		return nil, errNotImage
	}

	sf := &sliceFile{
		path:      path,
		seriesUID: internaldicom.String(ds, tag.SeriesInstanceUID),
		studyUID:  internaldicom.String(ds, tag.StudyInstanceUID),
		sopUID:    internaldicom.String(ds, tag.SOPInstanceUID),
		frameUID:  internaldicom.String(ds, tag.FrameOfReferenceUID),
		slope:     1.0,
		intercept: 0.0,
	}
	if sf.seriesUID == "" {
		return nil, fmt.Errorf("%s: missing SeriesInstanceUID", path)
	}
	sf.instance, sf.hasInstance = internaldicom.Int(ds, tag.InstanceNumber)

	if pos, err := internaldicom.Floats(ds, tag.ImagePositionPatient); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	} else if len(pos) == 3 {
		sf.position = r3.Vec{X: pos[0], Y: pos[1], Z: pos[2]}
		sf.hasPosition = true
	}
	if ori, err := internaldicom.Floats(ds, tag.ImageOrientationPatient); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	} else if len(ori) == 6 {
		sf.rowCos = r3.Unit(r3.Vec{X: ori[0], Y: ori[1], Z: ori[2]})
		sf.colCos = r3.Unit(r3.Vec{X: ori[3], Y: ori[4], Z: ori[5]})
		sf.hasOrientation = r3.Norm(r3.Cross(sf.rowCos, sf.colCos)) > 0.5
	}

	ps, err := internaldicom.Floats(ds, tag.PixelSpacing)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	switch len(ps) {
	case 2:
		sf.pixelSpacing = [2]float64{ps[0], ps[1]}
	case 0:
		// Matches the unit spacing GDCM assumes without PixelSpacing.
		sf.pixelSpacing = [2]float64{1, 1}
	default:
		return nil, fmt.Errorf("%s: PixelSpacing has %d values", path, len(ps))
	}
	sf.thickness, _ = internaldicom.Float(ds, tag.SliceThickness)
	sf.spacingBetween, _ = internaldicom.Float(ds, tag.SpacingBetweenSlices)

	if v, ok := internaldicom.Float(ds, tag.RescaleSlope); ok {
		sf.slope = v
	}
	if v, ok := internaldicom.Float(ds, tag.RescaleIntercept); ok {
		sf.intercept = v
	}

	fr, err := internaldicom.FrameSamples(ds)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sf.rows, sf.cols, sf.samples = fr.Rows, fr.Cols, fr.Samples

	return sf, nil
}
