// Package dicom holds the small helpers shared by the readers and the
// phantom writer on top of github.com/suyashkumar/dicom: typed element
// access, sequence traversal, native pixel decoding and file output.
package dicom

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// Strings returns the string values of the element with tag t, or nil if
// the element is absent or not string-valued.
func Strings(ds *dicom.Dataset, t tag.Tag) []string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return nil
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok {
		return nil
	}
	return values
}

// String returns the first value of the element with tag t, trimmed of
// DICOM padding.
func String(ds *dicom.Dataset, t tag.Tag) string {
	values := Strings(ds, t)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(values[0]), "\x00")
}

// Floats returns the numeric values of a DS, IS, FL or FD element.
// It returns (nil, nil) if the element is absent.
func Floats(ds *dicom.Dataset, t tag.Tag) ([]float64, error) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return nil, nil
	}

	switch v := elem.Value.GetValue().(type) {
	case []float64:
		return v, nil
	case []int:
		out := make([]float64, len(v))
		for i, n := range v {
			out[i] = float64(n)
		}
		return out, nil
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			s = strings.TrimRight(strings.TrimSpace(s), "\x00")
			if s == "" {
				continue
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("tag %s: parse %q: %w", t, s, err)
			}
			out = append(out, f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tag %s: unexpected value type %T", t, v)
	}
}

// Float returns the first numeric value of the element with tag t.
// ok is false if it is absent, empty or unparsable.
func Float(ds *dicom.Dataset, t tag.Tag) (value float64, ok bool) {
	values, err := Floats(ds, t)
	if err != nil || len(values) == 0 {
		return 0, false
	}
	return values[0], true
}

// Int returns the first integer value of the element with tag t.
func Int(ds *dicom.Dataset, t tag.Tag) (int, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return 0, false
	}
	switch v := elem.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			if err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Items returns the items of a sequence element as datasets, or nil if
// the element is absent or not a sequence.
func Items(ds *dicom.Dataset, t tag.Tag) []*dicom.Dataset {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return nil
	}
	items, ok := elem.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil
	}

	out := make([]*dicom.Dataset, 0, len(items))
	for _, item := range items {
		elems, ok := item.GetValue().([]*dicom.Element)
		if !ok {
			continue
		}
		out = append(out, &dicom.Dataset{Elements: elems})
	}
	return out
}

// Has reports whether ds carries an element with tag t.
func Has(ds *dicom.Dataset, t tag.Tag) bool {
	_, err := ds.FindElementByTag(t)
	return err == nil
}
