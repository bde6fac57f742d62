package synth

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand/v2"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// newPrivateElement creates an element with a private tag and an explicit
// VR. dicom.NewElement rejects tags missing from the dictionary.
func newPrivateElement(t tag.Tag, rawVR string, data any) *dicom.Element {
	value, err := dicom.NewValue(data)
	if err != nil {
		panic(fmt.Sprintf("failed to create value for private element %v: %v", t, err))
	}
	return &dicom.Element{
		Tag:                    t,
		ValueRepresentation:    tag.GetVRKind(t, rawVR),
		RawValueRepresentation: rawVR,
		Value:                  value,
	}
}

// privateElements returns the private groups the manufacturer's scanners
// add to every CT slice. Unknown manufacturers get none.
func privateElements(manufacturer string, rng *rand.Rand) []*dicom.Element {
	switch manufacturer {
	case "SIEMENS":
		return siemensElements(rng)
	case "GE MEDICAL SYSTEMS":
		return geElements(rng)
	case "PHILIPS":
		return philipsElements(rng)
	case "CANON":
		return canonElements(rng)
	}
	return nil
}

// csaElement is one entry of a Siemens CSA header.
type csaElement struct {
	Name     string
	VM       int32
	VR       string
	SyngoDT  int32
	NumItems int32
	Values   []string
}

// buildCSAHeader encodes elements in the "SV10" CSA2 layout.
func buildCSAHeader(elements []csaElement) []byte {
	var buf bytes.Buffer

	buf.WriteString("SV10")
	buf.Write([]byte{0x04, 0x03, 0x02, 0x01})

	// binary.Write to bytes.Buffer never fails.
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(elements)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0x4D))

	for _, elem := range elements {
		name := make([]byte, 64)
		copy(name, elem.Name)
		buf.Write(name)

		_ = binary.Write(&buf, binary.LittleEndian, elem.VM)

		vr := make([]byte, 4)
		copy(vr, elem.VR)
		buf.Write(vr)

		_ = binary.Write(&buf, binary.LittleEndian, elem.SyngoDT)
		_ = binary.Write(&buf, binary.LittleEndian, elem.NumItems)
		_ = binary.Write(&buf, binary.LittleEndian, uint32(0x4D))

		for i := int32(0); i < elem.NumItems; i++ {
			var val []byte
			if i < int32(len(elem.Values)) {
				val = []byte(elem.Values[i])
			}
			itemLen := uint32(len(val))
			for j := 0; j < 4; j++ {
				_ = binary.Write(&buf, binary.LittleEndian, itemLen)
			}
			buf.Write(val)
			if padding := (4 - len(val)%4) % 4; padding > 0 {
				buf.Write(make([]byte, padding))
			}
		}
	}
	return buf.Bytes()
}

// csaImageHeader returns the CT image header; the trailing bytes vary the
// blob size like real reconstructions do.
func csaImageHeader(rng *rand.Rand) []byte {
	header := buildCSAHeader([]csaElement{
		{Name: "SliceResolution", VM: 1, VR: "FD", SyngoDT: 3, NumItems: 1, Values: []string{"1.0"}},
		{Name: "ImaRelTablePosition", VM: 3, VR: "IS", SyngoDT: 6, NumItems: 3, Values: []string{"0", "0", fmt.Sprint(rng.IntN(400))}},
		{Name: "SliceNormalVector", VM: 3, VR: "FD", SyngoDT: 3, NumItems: 3, Values: []string{"0.0", "0.0", "1.0"}},
		{Name: "TablePositionOrigin", VM: 3, VR: "FD", SyngoDT: 3, NumItems: 3, Values: []string{"0.0", "0.0", "0.0"}},
	})
	padding := make([]byte, rng.IntN(512)+256)
	for i := range padding {
		padding[i] = byte(rng.IntN(256))
	}
	return append(header, padding...)
}

func csaSeriesHeader() []byte {
	return buildCSAHeader([]csaElement{
		{Name: "UsedPatientWeight", VM: 1, VR: "DS", SyngoDT: 3, NumItems: 1, Values: []string{"70.0"}},
		{Name: "DataFileName", VM: 1, VR: "LO", SyngoDT: 19, NumItems: 1, Values: []string{"ThoraxRoutine"}},
		{Name: "Isocentered", VM: 1, VR: "IS", SyngoDT: 6, NumItems: 1, Values: []string{"1"}},
	})
}

func siemensElements(rng *rand.Rand) []*dicom.Element {
	nested := make([]byte, rng.IntN(1024)+512)
	for i := range nested {
		nested[i] = byte(rng.IntN(256))
	}
	item := []*dicom.Element{
		newPrivateElement(tag.Tag{Group: 0x0029, Element: 0x0011}, "LO", []string{"SIEMENS CSA NON-IMAGE"}),
		newPrivateElement(tag.Tag{Group: 0x0029, Element: 0x1100}, "OB", nested),
	}
	return []*dicom.Element{
		newPrivateElement(tag.Tag{Group: 0x0029, Element: 0x0010}, "LO", []string{"SIEMENS CSA HEADER"}),
		newPrivateElement(tag.Tag{Group: 0x0029, Element: 0x1010}, "OB", csaImageHeader(rng)),
		newPrivateElement(tag.Tag{Group: 0x0029, Element: 0x1020}, "OB", csaSeriesHeader()),
		newPrivateElement(tag.Tag{Group: 0x0029, Element: 0x1102}, "SQ", [][]*dicom.Element{item}),
	}
}

func geElements(rng *rand.Rand) []*dicom.Element {
	version := fmt.Sprintf("LightSpeedverrel%02d.%d", 10+rng.IntN(10), rng.IntN(10))
	return []*dicom.Element{
		newPrivateElement(tag.Tag{Group: 0x0009, Element: 0x0010}, "LO", []string{"GEMS_IDEN_01"}),
		newPrivateElement(tag.Tag{Group: 0x0009, Element: 0x10E3}, "LO", []string{version}),
		newPrivateElement(tag.Tag{Group: 0x0019, Element: 0x0010}, "LO", []string{"GEMS_ACQU_01"}),
		newPrivateElement(tag.Tag{Group: 0x0019, Element: 0x1023}, "DS", []string{fmt.Sprintf("%.4f", 0.5+rng.Float64())}),
	}
}

func philipsElements(rng *rand.Rand) []*dicom.Element {
	item := []*dicom.Element{
		newPrivateElement(tag.Tag{Group: 0x01F1, Element: 0x0010}, "LO", []string{"ELSCINT1"}),
		newPrivateElement(tag.Tag{Group: 0x01F1, Element: 0x1026}, "DS", []string{fmt.Sprintf("%.3f", 0.5+rng.Float64())}),
	}
	return []*dicom.Element{
		newPrivateElement(tag.Tag{Group: 0x01F1, Element: 0x0010}, "LO", []string{"ELSCINT1"}),
		newPrivateElement(tag.Tag{Group: 0x01F1, Element: 0x1001}, "CS", []string{"HELICAL"}),
		newPrivateElement(tag.Tag{Group: 0x01F7, Element: 0x0010}, "LO", []string{"ELSCINT1"}),
		newPrivateElement(tag.Tag{Group: 0x01F7, Element: 0x1010}, "SQ", [][]*dicom.Element{item}),
	}
}

func canonElements(rng *rand.Rand) []*dicom.Element {
	return []*dicom.Element{
		newPrivateElement(tag.Tag{Group: 0x7005, Element: 0x0010}, "LO", []string{"TOSHIBA_MEC_CT3"}),
		newPrivateElement(tag.Tag{Group: 0x7005, Element: 0x1008}, "LO", []string{fmt.Sprintf("V%d.%d", 6+rng.IntN(4), rng.IntN(10))}),
		newPrivateElement(tag.Tag{Group: 0x7005, Element: 0x100B}, "ST", []string{"ORG"}),
	}
}
