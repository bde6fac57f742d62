package dicom

import "github.com/suyashkumar/dicom/pkg/tag"

// RT Structure Set, ROI Contour and RT ROI Observations attributes
// (PS3.3 C.8.8.5, C.8.8.6, C.8.8.8).
var (
	TagStructureSetLabel                  = tag.Tag{Group: 0x3006, Element: 0x0002}
	TagStructureSetDate                   = tag.Tag{Group: 0x3006, Element: 0x0008}
	TagStructureSetTime                   = tag.Tag{Group: 0x3006, Element: 0x0009}
	TagReferencedFrameOfReferenceSequence = tag.Tag{Group: 0x3006, Element: 0x0010}
	TagRTReferencedStudySequence          = tag.Tag{Group: 0x3006, Element: 0x0012}
	TagRTReferencedSeriesSequence         = tag.Tag{Group: 0x3006, Element: 0x0014}
	TagContourImageSequence               = tag.Tag{Group: 0x3006, Element: 0x0016}
	TagStructureSetROISequence            = tag.Tag{Group: 0x3006, Element: 0x0020}
	TagROINumber                          = tag.Tag{Group: 0x3006, Element: 0x0022}
	TagReferencedFrameOfReferenceUID      = tag.Tag{Group: 0x3006, Element: 0x0024}
	TagROIName                            = tag.Tag{Group: 0x3006, Element: 0x0026}
	TagROIDisplayColor                    = tag.Tag{Group: 0x3006, Element: 0x002A}
	TagROIGenerationAlgorithm             = tag.Tag{Group: 0x3006, Element: 0x0036}
	TagROIContourSequence                 = tag.Tag{Group: 0x3006, Element: 0x0039}
	TagContourSequence                    = tag.Tag{Group: 0x3006, Element: 0x0040}
	TagContourGeometricType               = tag.Tag{Group: 0x3006, Element: 0x0042}
	TagNumberOfContourPoints              = tag.Tag{Group: 0x3006, Element: 0x0046}
	TagContourData                        = tag.Tag{Group: 0x3006, Element: 0x0050}
	TagRTROIObservationsSequence          = tag.Tag{Group: 0x3006, Element: 0x0080}
	TagObservationNumber                  = tag.Tag{Group: 0x3006, Element: 0x0082}
	TagReferencedROINumber                = tag.Tag{Group: 0x3006, Element: 0x0084}
	TagRTROIInterpretedType               = tag.Tag{Group: 0x3006, Element: 0x00A4}
	TagROIInterpreter                     = tag.Tag{Group: 0x3006, Element: 0x00A6}
)

// SOP class and transfer syntax UIDs used by the readers and the phantom writer.
const (
	CTImageStorage         = "1.2.840.10008.5.1.4.1.1.2"
	RTStructureSetStorage  = "1.2.840.10008.5.1.4.1.1.481.3"
	ExplicitVRLittleEndian = "1.2.840.10008.1.2.1"
	ImplicitVRLittleEndian = "1.2.840.10008.1.2"
)
