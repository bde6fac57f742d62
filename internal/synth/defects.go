package synth

import (
	"fmt"
	"slices"
	"strings"
)

// Defect is a deliberate flaw injected into a generated case.
type Defect string

const (
	// MissingRescale drops RescaleSlope and RescaleIntercept from every slice.
	MissingRescale Defect = "missing-rescale"
	// DegenerateContour gives SpinalCord a first contour with only 2 points.
	DegenerateContour Defect = "degenerate-contour"
	// OffGridContour moves the Lung_L contours between CT slices, more than
	// half a slice spacing away from the slices they reference.
	OffGridContour Defect = "off-grid-contour"
	// Unlinked makes the structure set reference a foreign series and frame
	// of reference.
	Unlinked Defect = "unlinked"
	// EmptyStructureSet declares the ROIs but writes no contours.
	EmptyStructureSet Defect = "empty-structure-set"
	// NoSeries writes the structure set and leaves the CT directory empty.
	NoSeries Defect = "no-series"
	// DuplicateROI declares a second ROI named Lung_R.
	DuplicateROI Defect = "duplicate-roi"
	// VendorPrivate stamps the manufacturer's private groups, CSA headers
	// and private sequences included, into every CT slice.
	VendorPrivate Defect = "vendor-private"
	// SpecialChars writes UTF-8 patient names and a SpinalCord ROI name
	// with padding and a path separator.
	SpecialChars Defect = "special-chars"
)

// AllDefects returns every valid defect.
func AllDefects() []Defect {
	return []Defect{MissingRescale, DegenerateContour, OffGridContour, Unlinked, EmptyStructureSet, NoSeries, DuplicateROI, VendorPrivate, SpecialChars}
}

// ParseDefects parses a comma-separated defect list.
func ParseDefects(input string) ([]Defect, error) {
	if strings.TrimSpace(input) == "" {
		return nil, nil
	}
	parts := strings.Split(input, ",")
	result := make([]Defect, 0, len(parts))
	for _, p := range parts {
		d := Defect(strings.TrimSpace(p))
		if !slices.Contains(AllDefects(), d) {
			return nil, fmt.Errorf("unknown defect %q, valid defects: %v", p, AllDefects())
		}
		if !slices.Contains(result, d) {
			result = append(result, d)
		}
	}
	return result, nil
}

// defectSet answers membership queries for the defects of one case.
type defectSet []Defect

func (s defectSet) has(d Defect) bool { return slices.Contains(s, d) }
