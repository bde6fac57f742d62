package synth

import (
	"fmt"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	internaldicom "github.com/mrsinham/lctscprep/internal/dicom"
	"github.com/mrsinham/lctscprep/internal/util"
)

// studyComponentManagement is the SOP class referenced for the study in
// RTReferencedStudySequence.
const studyComponentManagement = "1.2.840.10008.3.1.2.3.1"

// roiColors are the display colors of the phantom ROIs.
var roiColors = map[string][]string{
	ROIBody:       {"0", "255", "0"},
	ROILungR:      {"255", "255", "0"},
	ROILungL:      {"0", "255", "255"},
	ROISpinalCord: {"255", "0", "0"},
}

// declaredROI is one StructureSetROISequence entry.
type declaredROI struct {
	number int
	organ  string
	name   string
}

// writeStructureSet writes the RTSTRUCT of c to c.RTStructPath.
func writeStructureSet(c *Case, defects defectSet) error {
	frameUID, seriesUID := c.FrameOfReferenceUID, c.SeriesInstanceUID
	if defects.has(Unlinked) {
		frameUID = util.DeterministicUID(c.ID + "/foreign/frame")
		seriesUID = util.DeterministicUID(c.ID + "/foreign/series")
	}

	var rois []declaredROI
	for i, organ := range ROINames() {
		rois = append(rois, declaredROI{number: i + 1, organ: organ, name: declaredName(organ, defects)})
	}
	if defects.has(DuplicateROI) {
		rois = append(rois, declaredROI{number: len(rois) + 1, organ: ROILungR, name: ROILungR})
	}

	sopUID := util.DeterministicUID(c.ID + "/rtstruct")
	var elems []*dicom.Element
	if defects.has(SpecialChars) {
		elems = append(elems, internaldicom.MustNewElement(tag.SpecificCharacterSet, []string{utf8CharacterSet}))
	}
	elems = append(elems, []*dicom.Element{
		internaldicom.MustNewElement(tag.MediaStorageSOPClassUID, []string{internaldicom.RTStructureSetStorage}),
		internaldicom.MustNewElement(tag.MediaStorageSOPInstanceUID, []string{sopUID}),
		internaldicom.MustNewElement(tag.TransferSyntaxUID, []string{internaldicom.ExplicitVRLittleEndian}),
		internaldicom.MustNewElement(tag.SOPClassUID, []string{internaldicom.RTStructureSetStorage}),
		internaldicom.MustNewElement(tag.SOPInstanceUID, []string{sopUID}),
		internaldicom.MustNewElement(tag.Modality, []string{"RTSTRUCT"}),
		internaldicom.MustNewElement(tag.PatientName, []string{c.PatientName}),
		internaldicom.MustNewElement(tag.PatientID, []string{c.ID}),
		internaldicom.MustNewElement(tag.StudyInstanceUID, []string{c.StudyInstanceUID}),
		internaldicom.MustNewElement(tag.SeriesInstanceUID, []string{c.RTStructSeriesUID}),
		internaldicom.MustNewElement(tag.SeriesNumber, []string{"2"}),
		internaldicom.MustNewElement(tag.Manufacturer, []string{c.Manufacturer}),
		internaldicom.MustNewElement(internaldicom.TagStructureSetLabel, []string{"PHANTOM"}),
		internaldicom.MustNewElement(internaldicom.TagStructureSetDate, []string{"20170301"}),
		internaldicom.MustNewElement(internaldicom.TagStructureSetTime, []string{"120000"}),
		internaldicom.MustNewElement(internaldicom.TagReferencedFrameOfReferenceSequence,
			[][]*dicom.Element{c.frameReference(frameUID, seriesUID)}),
		internaldicom.MustNewElement(internaldicom.TagStructureSetROISequence, declarations(rois, frameUID)),
		internaldicom.MustNewElement(internaldicom.TagROIContourSequence, c.roiContours(rois, defects)),
		internaldicom.MustNewElement(internaldicom.TagRTROIObservationsSequence, observations(rois)),
	}...)

	if err := internaldicom.WriteFile(c.RTStructPath, dicom.Dataset{Elements: elems}); err != nil {
		return fmt.Errorf("write structure set: %w", err)
	}
	return nil
}

// frameReference builds the ReferencedFrameOfReferenceSequence item that
// links the structure set to the CT series.
func (c *Case) frameReference(frameUID, seriesUID string) []*dicom.Element {
	images := make([][]*dicom.Element, len(c.SOPInstanceUIDs))
	for i, uid := range c.SOPInstanceUIDs {
		images[i] = imageReference(uid)
	}
	series := []*dicom.Element{
		internaldicom.MustNewElement(tag.SeriesInstanceUID, []string{seriesUID}),
		internaldicom.MustNewElement(internaldicom.TagContourImageSequence, images),
	}
	study := []*dicom.Element{
		internaldicom.MustNewElement(tag.ReferencedSOPClassUID, []string{studyComponentManagement}),
		internaldicom.MustNewElement(tag.ReferencedSOPInstanceUID, []string{c.StudyInstanceUID}),
		internaldicom.MustNewElement(internaldicom.TagRTReferencedSeriesSequence, [][]*dicom.Element{series}),
	}
	return []*dicom.Element{
		internaldicom.MustNewElement(tag.FrameOfReferenceUID, []string{frameUID}),
		internaldicom.MustNewElement(internaldicom.TagRTReferencedStudySequence, [][]*dicom.Element{study}),
	}
}

func imageReference(sopUID string) []*dicom.Element {
	return []*dicom.Element{
		internaldicom.MustNewElement(tag.ReferencedSOPClassUID, []string{internaldicom.CTImageStorage}),
		internaldicom.MustNewElement(tag.ReferencedSOPInstanceUID, []string{sopUID}),
	}
}

func declarations(rois []declaredROI, frameUID string) [][]*dicom.Element {
	items := make([][]*dicom.Element, len(rois))
	for i, r := range rois {
		items[i] = []*dicom.Element{
			internaldicom.MustNewElement(internaldicom.TagROINumber, []string{internaldicom.FormatIS(r.number)}),
			internaldicom.MustNewElement(internaldicom.TagReferencedFrameOfReferenceUID, []string{frameUID}),
			internaldicom.MustNewElement(internaldicom.TagROIName, []string{r.name}),
			internaldicom.MustNewElement(internaldicom.TagROIGenerationAlgorithm, []string{"MANUAL"}),
		}
	}
	return items
}

func observations(rois []declaredROI) [][]*dicom.Element {
	items := make([][]*dicom.Element, len(rois))
	for i, r := range rois {
		kind := "ORGAN"
		if r.organ == ROIBody {
			kind = "EXTERNAL"
		}
		items[i] = []*dicom.Element{
			internaldicom.MustNewElement(internaldicom.TagObservationNumber, []string{internaldicom.FormatIS(r.number)}),
			internaldicom.MustNewElement(internaldicom.TagReferencedROINumber, []string{internaldicom.FormatIS(r.number)}),
			internaldicom.MustNewElement(internaldicom.TagRTROIInterpretedType, []string{kind}),
		}
	}
	return items
}

// roiContours builds one ROIContourSequence item per declared ROI. Item
// elements are listed in tag order.
func (c *Case) roiContours(rois []declaredROI, defects defectSet) [][]*dicom.Element {
	items := make([][]*dicom.Element, len(rois))
	for i, r := range rois {
		item := []*dicom.Element{
			internaldicom.MustNewElement(internaldicom.TagROIDisplayColor, roiColors[r.organ]),
		}
		if !defects.has(EmptyStructureSet) {
			if contours := c.contours(r.organ, defects); len(contours) > 0 {
				item = append(item, internaldicom.MustNewElement(internaldicom.TagContourSequence, contours))
			}
		}
		items[i] = append(item,
			internaldicom.MustNewElement(internaldicom.TagReferencedROINumber, []string{internaldicom.FormatIS(r.number)}))
	}
	return items
}

// contours returns the ContourSequence items of one ROI, one per slice the
// organ appears on.
func (c *Case) contours(name string, defects defectSet) [][]*dicom.Element {
	var items [][]*dicom.Element
	for s := range c.Shape.Slices {
		o, ok := c.anatomy.find(name, s)
		if !ok {
			continue
		}

		vertices := o.shape.polygon(o.vertices)
		if name == ROISpinalCord && s == 0 && defects.has(DegenerateContour) {
			vertices = vertices[:2]
		}
		dz := 0.0
		if name == ROILungL && defects.has(OffGridContour) {
			dz = 0.75 * c.Spacing.Slice
		}

		data := make([]float64, 0, 3*len(vertices))
		for _, v := range vertices {
			p := c.PatientPoint(v[0], v[1], s)
			data = append(data, p.X, p.Y, p.Z+dz)
		}

		items = append(items, []*dicom.Element{
			internaldicom.MustNewElement(internaldicom.TagContourImageSequence,
				[][]*dicom.Element{imageReference(c.SOPInstanceUIDs[s])}),
			internaldicom.MustNewElement(internaldicom.TagContourGeometricType, []string{"CLOSED_PLANAR"}),
			internaldicom.MustNewElement(internaldicom.TagNumberOfContourPoints, []string{internaldicom.FormatIS(len(vertices))}),
			internaldicom.MustNewElement(internaldicom.TagContourData, internaldicom.FormatDSList(data...)),
		})
	}
	return items
}
