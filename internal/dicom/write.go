package dicom

import (
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// MustNewElement creates a new DICOM element, panicking on error.
func MustNewElement(t tag.Tag, value interface{}) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("failed to create element %v: %v", t, err))
	}
	return elem
}

// FormatDS converts a float64 to a DICOM Decimal String.
func FormatDS(f float64) string {
	return strconv.FormatFloat(f, 'g', 10, 64)
}

// FormatDSList converts values to Decimal Strings.
func FormatDSList(values ...float64) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = FormatDS(v)
	}
	return out
}

// FormatIS converts an int to a DICOM Integer String.
func FormatIS(i int) string {
	return strconv.Itoa(i)
}

// WriteFile writes a DICOM dataset to a file. Elements are written in
// ascending tag order regardless of their order in ds.
func WriteFile(filename string, ds dicom.Dataset, opts ...dicom.WriteOption) error {
	elems := slices.Clone(ds.Elements)
	sort.SliceStable(elems, func(i, j int) bool {
		if elems[i].Tag.Group != elems[j].Tag.Group {
			return elems[i].Tag.Group < elems[j].Tag.Group
		}
		return elems[i].Tag.Element < elems[j].Tag.Element
	})
	ds = dicom.Dataset{Elements: elems}

	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := dicom.Write(f, ds, opts...); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return f.Close()
}
