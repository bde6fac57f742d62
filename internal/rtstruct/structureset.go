// Package rtstruct resolves the ROIs of an RT Structure Set against a
// loaded CT volume and rasterizes their contours into binary masks.
package rtstruct

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	internaldicom "github.com/mrsinham/lctscprep/internal/dicom"
	"github.com/mrsinham/lctscprep/internal/logging"
	"github.com/mrsinham/lctscprep/internal/volume"
)

var (
	// ErrNotStructureSet is returned for files whose Modality is not RTSTRUCT.
	ErrNotStructureSet = errors.New("not an RTSTRUCT instance")
	// ErrNotLinked is returned when the structure set does not reference
	// the CT series or its frame of reference.
	ErrNotLinked = errors.New("structure set is not linked to the CT series")
	// ErrUnknownROI is returned by Rasterize for names not in the set.
	ErrUnknownROI = errors.New("unknown ROI")
	// ErrNoContours is returned for ROIs without any contour data.
	ErrNoContours = errors.New("ROI has no contour data")
	// ErrDuplicateROI marks later ROIs that reuse an earlier name.
	ErrDuplicateROI = errors.New("duplicate ROI name")
)

// Combine selects how several contours on one slice are merged.
type Combine int

const (
	// CombineUnion sets a voxel covered by any contour.
	CombineUnion Combine = iota
	// CombineXOR toggles voxels per contour so nested contours cut holes.
	CombineXOR
)

// ParseCombine maps "union" or "xor" onto a Combine mode.
func ParseCombine(s string) (Combine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "union":
		return CombineUnion, nil
	case "xor":
		return CombineXOR, nil
	default:
		return CombineUnion, fmt.Errorf("contour combine mode: unsupported value %q", s)
	}
}

func (c Combine) String() string {
	if c == CombineXOR {
		return "xor"
	}
	return "union"
}

// Options configures Open.
type Options struct {
	Combine Combine
	// AllowUnlinked accepts structure sets that carry no series or frame
	// of reference reference at all. Mismatching references still fail.
	AllowUnlinked bool
	Logger        *slog.Logger
}

// contour is one ContourSequence item, decoded lazily so that malformed
// data only fails its own ROI.
type contour struct {
	geometry     string
	data         []float64
	dataErr      error
	declared     int
	hasDeclared  bool
	referenceSOP string
}

// roi is one StructureSetROISequence entry joined with its contours.
type roi struct {
	number      int
	name        string
	contours    []contour
	hasContours bool
	duplicate   bool
}

// StructureSet is a parsed RTSTRUCT bound to the CT volume it references.
type StructureSet struct {
	Label string

	rois   []*roi
	byName map[string]*roi
	vol    *volume.Volume
	opts   Options
}

// Open parses the RTSTRUCT at path and validates that it belongs to vol.
func Open(path string, vol *volume.Volume, opts Options) (*StructureSet, error) {
	parsed, err := dicom.ParseFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("parse rtstruct %s: %w", path, err)
	}
	return FromDataset(&parsed, vol, opts)
}

// FromDataset builds a StructureSet from an already parsed dataset.
func FromDataset(ds *dicom.Dataset, vol *volume.Volume, opts Options) (*StructureSet, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if modality := strings.ToUpper(internaldicom.String(ds, tag.Modality)); modality != "RTSTRUCT" {
		return nil, fmt.Errorf("%w: modality %q", ErrNotStructureSet, modality)
	}

	s := &StructureSet{
		Label:  internaldicom.String(ds, internaldicom.TagStructureSetLabel),
		byName: make(map[string]*roi),
		vol:    vol,
		opts:   opts,
	}
	if err := s.validateLink(ds); err != nil {
		return nil, err
	}
	s.parseROIs(ds)
	return s, nil
}

// validateLink checks the series and frame of reference references
// against the CT volume.
func (s *StructureSet) validateLink(ds *dicom.Dataset) error {
	var frames, series []string
	for _, ref := range internaldicom.Items(ds, internaldicom.TagReferencedFrameOfReferenceSequence) {
		if uid := internaldicom.String(ref, tag.FrameOfReferenceUID); uid != "" {
			frames = append(frames, uid)
		}
		for _, study := range internaldicom.Items(ref, internaldicom.TagRTReferencedStudySequence) {
			for _, ser := range internaldicom.Items(study, internaldicom.TagRTReferencedSeriesSequence) {
				if uid := internaldicom.String(ser, tag.SeriesInstanceUID); uid != "" {
					series = append(series, uid)
				}
			}
		}
	}
	for _, item := range internaldicom.Items(ds, internaldicom.TagStructureSetROISequence) {
		if uid := internaldicom.String(item, internaldicom.TagReferencedFrameOfReferenceUID); uid != "" && !slices.Contains(frames, uid) {
			frames = append(frames, uid)
		}
	}

	geo := s.vol.Geometry
	if len(series) > 0 && !slices.Contains(series, geo.SeriesInstanceUID) {
		return fmt.Errorf("%w: references series %v, CT series is %s", ErrNotLinked, series, geo.SeriesInstanceUID)
	}
	if len(frames) > 0 && geo.FrameOfReferenceUID != "" && !slices.Contains(frames, geo.FrameOfReferenceUID) {
		return fmt.Errorf("%w: references frame of reference %v, CT frame of reference is %s",
			ErrNotLinked, frames, geo.FrameOfReferenceUID)
	}

	linked := len(series) > 0 || (len(frames) > 0 && geo.FrameOfReferenceUID != "")
	if !linked {
		if !s.opts.AllowUnlinked {
			return fmt.Errorf("%w: no series or frame of reference reference", ErrNotLinked)
		}
		s.opts.Logger.Warn("structure set carries no reference to the CT series, accepting it",
			"series", geo.SeriesInstanceUID)
	}
	return nil
}

func (s *StructureSet) parseROIs(ds *dicom.Dataset) {
	byNumber := make(map[int]*roi)
	for _, item := range internaldicom.Items(ds, internaldicom.TagStructureSetROISequence) {
		r := &roi{name: strings.TrimSpace(internaldicom.String(item, internaldicom.TagROIName))}
		r.number, _ = internaldicom.Int(item, internaldicom.TagROINumber)
		s.rois = append(s.rois, r)

		if _, seen := s.byName[r.name]; seen {
			r.duplicate = true
		} else {
			s.byName[r.name] = r
		}
		if _, seen := byNumber[r.number]; !seen {
			byNumber[r.number] = r
		}
	}

	for _, item := range internaldicom.Items(ds, internaldicom.TagROIContourSequence) {
		number, ok := internaldicom.Int(item, internaldicom.TagReferencedROINumber)
		if !ok {
			continue
		}
		r, ok := byNumber[number]
		if !ok {
			s.opts.Logger.Debug("contour references an undeclared ROI", "roi_number", number)
			continue
		}
		if !internaldicom.Has(item, internaldicom.TagContourSequence) {
			continue
		}
		r.hasContours = true
		for _, c := range internaldicom.Items(item, internaldicom.TagContourSequence) {
			r.contours = append(r.contours, parseContour(c))
		}
	}
}

func parseContour(ds *dicom.Dataset) contour {
	c := contour{
		geometry: strings.ToUpper(internaldicom.String(ds, internaldicom.TagContourGeometricType)),
	}
	c.data, c.dataErr = internaldicom.Floats(ds, internaldicom.TagContourData)
	c.declared, c.hasDeclared = internaldicom.Int(ds, internaldicom.TagNumberOfContourPoints)
	for _, img := range internaldicom.Items(ds, internaldicom.TagContourImageSequence) {
		if uid := internaldicom.String(img, tag.ReferencedSOPInstanceUID); uid != "" {
			c.referenceSOP = uid
			break
		}
	}
	return c
}

// ROINames returns the ROI names in file order, duplicates included.
func (s *StructureSet) ROINames() []string {
	names := make([]string, len(s.rois))
	for i, r := range s.rois {
		names[i] = r.name
	}
	return names
}

// Volume returns the CT volume the structure set is bound to.
func (s *StructureSet) Volume() *volume.Volume { return s.vol }
