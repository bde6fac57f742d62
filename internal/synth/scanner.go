package synth

import (
	"math/rand/v2"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	internaldicom "github.com/mrsinham/lctscprep/internal/dicom"
)

// scanner is a CT scanner model stamped into the generated series.
type scanner struct {
	Manufacturer string
	Model        string
	DetectorRows int
}

// scanners lists the CT models the synthesizer picks from.
var scanners = []scanner{
	{Manufacturer: "SIEMENS", Model: "SOMATOM Definition AS+", DetectorRows: 128},
	{Manufacturer: "SIEMENS", Model: "SOMATOM Force", DetectorRows: 192},
	{Manufacturer: "GE MEDICAL SYSTEMS", Model: "LightSpeed VCT", DetectorRows: 64},
	{Manufacturer: "PHILIPS", Model: "Brilliance Big Bore", DetectorRows: 16},
	{Manufacturer: "CANON", Model: "Aquilion LB", DetectorRows: 16},
}

// acquisition holds the CT technique of one series.
type acquisition struct {
	Scanner      scanner
	KVP          float64
	TubeCurrent  int
	Kernel       string
	WindowCenter float64
	WindowWidth  float64
}

// newAcquisition draws a planning-CT technique. Treatment planning scans
// are reconstructed with soft tissue or lung kernels.
func newAcquisition(rng *rand.Rand) acquisition {
	kvps := []float64{100, 120, 140}
	kernels := []string{"STANDARD", "LUNG"}

	acq := acquisition{
		Scanner:     scanners[rng.IntN(len(scanners))],
		KVP:         kvps[rng.IntN(len(kvps))],
		TubeCurrent: 100 + rng.IntN(301),
		Kernel:      kernels[rng.IntN(len(kernels))],
	}
	if acq.Kernel == "LUNG" {
		acq.WindowCenter, acq.WindowWidth = -600, 1500
	} else {
		acq.WindowCenter, acq.WindowWidth = 40, 400
	}
	return acq
}

// elements returns the CT technique elements of one slice.
func (a acquisition) elements() []*dicom.Element {
	return []*dicom.Element{
		internaldicom.MustNewElement(tag.Manufacturer, []string{a.Scanner.Manufacturer}),
		internaldicom.MustNewElement(tag.ManufacturerModelName, []string{a.Scanner.Model}),
		internaldicom.MustNewElement(tag.KVP, []string{internaldicom.FormatDS(a.KVP)}),
		internaldicom.MustNewElement(tag.XRayTubeCurrent, []string{internaldicom.FormatIS(a.TubeCurrent)}),
		internaldicom.MustNewElement(tag.ConvolutionKernel, []string{a.Kernel}),
		internaldicom.MustNewElement(tag.GantryDetectorTilt, []string{"0"}),
		internaldicom.MustNewElement(tag.WindowCenter, []string{internaldicom.FormatDS(a.WindowCenter)}),
		internaldicom.MustNewElement(tag.WindowWidth, []string{internaldicom.FormatDS(a.WindowWidth)}),
	}
}

// pixelEncoding describes how HU values are stored in the pixel data.
type pixelEncoding struct {
	BitsStored          int
	PixelRepresentation int
	Intercept           float64
}

// unsignedEncoding stores HU+1024 in 12 bits, the common CT layout.
var unsignedEncoding = pixelEncoding{BitsStored: 12, PixelRepresentation: 0, Intercept: -1024}

// signedEncoding stores HU directly as two's complement.
var signedEncoding = pixelEncoding{BitsStored: 16, PixelRepresentation: 1, Intercept: 0}

// raw converts an HU value to its stored sample.
func (e pixelEncoding) raw(hu int16) uint16 {
	return uint16(int32(hu) - int32(e.Intercept))
}

// elements returns the pixel module and, unless omitted, the rescale
// elements.
func (e pixelEncoding) elements(withRescale bool) []*dicom.Element {
	elems := []*dicom.Element{
		internaldicom.MustNewElement(tag.SamplesPerPixel, []int{1}),
		internaldicom.MustNewElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
		internaldicom.MustNewElement(tag.BitsAllocated, []int{16}),
		internaldicom.MustNewElement(tag.BitsStored, []int{e.BitsStored}),
		internaldicom.MustNewElement(tag.HighBit, []int{e.BitsStored - 1}),
		internaldicom.MustNewElement(tag.PixelRepresentation, []int{e.PixelRepresentation}),
	}
	if withRescale {
		elems = append(elems,
			internaldicom.MustNewElement(tag.RescaleIntercept, []string{internaldicom.FormatDS(e.Intercept)}),
			internaldicom.MustNewElement(tag.RescaleSlope, []string{"1"}),
			internaldicom.MustNewElement(tag.RescaleType, []string{"HU"}),
		)
	}
	return elems
}
