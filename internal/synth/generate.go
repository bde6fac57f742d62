// Package synth generates synthetic lung CT cases: a DICOM CT series of an
// elliptical thorax phantom and a matching RT Structure Set, with optional
// defects that exercise the failure paths of the pipeline.
package synth

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
	"gonum.org/v1/gonum/spatial/r3"

	internaldicom "github.com/mrsinham/lctscprep/internal/dicom"
	"github.com/mrsinham/lctscprep/internal/util"
	"github.com/mrsinham/lctscprep/internal/volume"
)

// Directory and file names of a generated case, relative to its root.
const (
	CTDirName        = "CT"
	RTStructDirName  = "RTSTRUCT"
	RTStructFileName = "1-1.dcm"
)

// Options configures Generate.
type Options struct {
	// OutputDir is the cohort root; the case is written to OutputDir/CaseID.
	OutputDir string
	CaseID    string

	Size           int     // rows and columns, default 64
	Slices         int     // default 12
	PixelSpacing   float64 // mm, default 1.5
	SliceThickness float64 // mm, default 2.5

	Seed         uint64
	SignedPixels bool
	Defects      []Defect
	Workers      int // slice writers, default runtime.NumCPU()
}

// Case describes a generated case and its ground truth.
type Case struct {
	ID           string
	PatientName  string
	Dir          string
	CTDir        string
	RTStructPath string

	StudyInstanceUID    string
	SeriesInstanceUID   string
	FrameOfReferenceUID string
	RTStructSeriesUID   string
	// SOPInstanceUIDs holds the CT instance UIDs in slice order, from the
	// most inferior slice up.
	SOPInstanceUIDs []string

	Shape   volume.Shape
	Spacing volume.Spacing
	// Origins holds the patient position of every slice, in slice order.
	Origins []r3.Vec
	// HU is the painted volume, laid out like volume.Volume.Data.
	HU []int16

	Manufacturer string
	Defects      []Defect

	anatomy phantom
}

// HasDefect reports whether d was injected into the case.
func (c *Case) HasDefect(d Defect) bool { return defectSet(c.Defects).has(d) }

// Distance returns the normalized ellipse radius of voxel (r, col, s)
// relative to an ROI: below 1 inside, above 1 outside. It is +Inf when the
// ROI is absent on slice s.
func (c *Case) Distance(roi string, r, col, s int) float64 {
	o, ok := c.anatomy.find(roi, s)
	if !ok {
		return math.Inf(1)
	}
	return o.shape.distance(float64(r), float64(col))
}

// PatientPoint maps fractional pixel coordinates on slice s to patient
// space.
func (c *Case) PatientPoint(row, col float64, s int) r3.Vec {
	o := c.Origins[s]
	return r3.Vec{X: o.X + col*c.Spacing.Col, Y: o.Y + row*c.Spacing.Row, Z: o.Z}
}

func (o *Options) applyDefaults() {
	if o.Size == 0 {
		o.Size = 64
	}
	if o.Slices == 0 {
		o.Slices = 12
	}
	if o.PixelSpacing == 0 {
		o.PixelSpacing = 1.5
	}
	if o.SliceThickness == 0 {
		o.SliceThickness = 2.5
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
}

func (o *Options) validate() error {
	var errs []error
	if o.OutputDir == "" {
		errs = append(errs, errors.New("output directory is required"))
	}
	if o.CaseID == "" || strings.ContainsAny(o.CaseID, `/\`) || o.CaseID == "." || o.CaseID == ".." {
		errs = append(errs, fmt.Errorf("invalid case id %q", o.CaseID))
	}
	if o.Size < 16 || o.Size > 1024 {
		errs = append(errs, fmt.Errorf("size must be 16-1024 pixels, got %d", o.Size))
	}
	if o.Slices < 1 || o.Slices > 1000 {
		errs = append(errs, fmt.Errorf("slices must be 1-1000, got %d", o.Slices))
	}
	if !(o.PixelSpacing > 0) || !(o.SliceThickness > 0) {
		errs = append(errs, fmt.Errorf("spacing must be positive, got %g/%g", o.PixelSpacing, o.SliceThickness))
	}
	for _, d := range o.Defects {
		if !defectSet(AllDefects()).has(d) {
			errs = append(errs, fmt.Errorf("unknown defect %q", d))
		}
	}
	return errors.Join(errs...)
}

// sliceTask is one CT file to write.
type sliceTask struct {
	index      int
	path       string
	metadata   []*dicom.Element
	rows, cols int
	plane      []int16
	writeOpts  []dicom.WriteOption
}

// Generate writes one phantom case and returns its description.
func Generate(opts Options) (*Case, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, fmt.Errorf("synth options: %w", err)
	}
	defects := defectSet(opts.Defects)

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed))
	sex := []string{"M", "F"}[rng.IntN(2)]
	acq := newAcquisition(rng)
	uidSeed := fmt.Sprintf("%s/%d", opts.CaseID, opts.Seed)

	c := &Case{
		ID:                  opts.CaseID,
		PatientName:         util.GeneratePatientName(sex, rng),
		Dir:                 filepath.Join(opts.OutputDir, opts.CaseID),
		StudyInstanceUID:    util.DeterministicUID(uidSeed + "/study"),
		SeriesInstanceUID:   util.DeterministicUID(uidSeed + "/series"),
		FrameOfReferenceUID: util.DeterministicUID(uidSeed + "/frame"),
		RTStructSeriesUID:   util.DeterministicUID(uidSeed + "/rtstruct/series"),
		Shape:               volume.Shape{Rows: opts.Size, Cols: opts.Size, Slices: opts.Slices},
		Spacing:             volume.Spacing{Row: opts.PixelSpacing, Col: opts.PixelSpacing, Slice: opts.SliceThickness},
		Manufacturer:        acq.Scanner.Manufacturer,
		Defects:             append([]Defect(nil), opts.Defects...),
		anatomy:             phantom{rows: opts.Size, cols: opts.Size, slices: opts.Slices},
	}
	if defects.has(SpecialChars) {
		c.PatientName = accentedPatientName(sex, rng)
	}
	c.CTDir = filepath.Join(c.Dir, CTDirName)
	c.RTStructPath = filepath.Join(c.Dir, RTStructDirName, RTStructFileName)

	for _, dir := range []string{c.CTDir, filepath.Dir(c.RTStructPath)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create case directory: %w", err)
		}
	}

	x0 := -float64(opts.Size-1) / 2 * opts.PixelSpacing
	z0 := -float64(opts.Slices-1) / 2 * opts.SliceThickness
	c.Origins = make([]r3.Vec, opts.Slices)
	c.SOPInstanceUIDs = make([]string, opts.Slices)
	for s := range c.Origins {
		c.Origins[s] = r3.Vec{X: x0, Y: x0, Z: z0 + float64(s)*opts.SliceThickness}
		c.SOPInstanceUIDs[s] = util.DeterministicUID(fmt.Sprintf("%s/instance/%d", uidSeed, s))
	}

	tasks := c.paint(opts.Seed)
	if !defects.has(NoSeries) {
		encoding := unsignedEncoding
		if opts.SignedPixels {
			encoding = signedEncoding
		}
		header := c.seriesElements(acq, encoding, !defects.has(MissingRescale))
		if defects.has(SpecialChars) {
			header = append(header, internaldicom.MustNewElement(tag.SpecificCharacterSet, []string{utf8CharacterSet}))
		}
		var writeOpts []dicom.WriteOption
		if defects.has(VendorPrivate) {
			header = append(header, privateElements(c.Manufacturer, rng)...)
			writeOpts = []dicom.WriteOption{dicom.SkipVRVerification(), dicom.SkipValueTypeVerification()}
		}
		for i := range tasks {
			tasks[i].metadata = append(c.sliceElements(tasks[i].index), header...)
			tasks[i].writeOpts = writeOpts
			tasks[i].path = filepath.Join(c.CTDir, fmt.Sprintf("1-%03d.dcm", c.instanceNumber(tasks[i].index)))
		}
		if err := writeSlices(tasks, encoding, opts.Workers); err != nil {
			return nil, err
		}
	}

	if err := writeStructureSet(c, defects); err != nil {
		return nil, err
	}
	return c, nil
}

// paint renders every slice into c.HU and returns one task per slice.
func (c *Case) paint(seed uint64) []sliceTask {
	rows, cols, n := c.Shape.Rows, c.Shape.Cols, c.Shape.Slices
	c.HU = make([]int16, c.Shape.Len())
	tasks := make([]sliceTask, n)

	for s := range tasks {
		h := fnv.New64a()
		_, _ = fmt.Fprintf(h, "%d_slice_%d", seed, s)
		sliceSeed := h.Sum64()
		plane := make([]int16, rows*cols)
		c.anatomy.paint(plane, s, rand.New(rand.NewPCG(sliceSeed, sliceSeed)))
		burnLabel(plane, rows, cols, c.ID)

		for r := 0; r < rows; r++ {
			for col := 0; col < cols; col++ {
				c.HU[(r*cols+col)*n+s] = plane[r*cols+col]
			}
		}
		tasks[s] = sliceTask{index: s, rows: rows, cols: cols, plane: plane}
	}
	return tasks
}

// instanceNumber numbers slices head first, so InstanceNumber 1 is the
// most superior slice and file order runs against slice order.
func (c *Case) instanceNumber(s int) int { return c.Shape.Slices - s }

// seriesElements returns the elements shared by every CT slice.
func (c *Case) seriesElements(acq acquisition, enc pixelEncoding, withRescale bool) []*dicom.Element {
	studyDate := time.Date(2017, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, int(fnvSum(c.ID)%365))
	elems := []*dicom.Element{
		internaldicom.MustNewElement(tag.PatientName, []string{c.PatientName}),
		internaldicom.MustNewElement(tag.PatientID, []string{c.ID}),
		internaldicom.MustNewElement(tag.StudyInstanceUID, []string{c.StudyInstanceUID}),
		internaldicom.MustNewElement(tag.StudyDate, []string{studyDate.Format("20060102")}),
		internaldicom.MustNewElement(tag.StudyDescription, []string{"CT THORAX PLANNING"}),
		internaldicom.MustNewElement(tag.SeriesInstanceUID, []string{c.SeriesInstanceUID}),
		internaldicom.MustNewElement(tag.SeriesNumber, []string{"1"}),
		internaldicom.MustNewElement(tag.SeriesDescription, []string{"Phantom thorax"}),
		internaldicom.MustNewElement(tag.Modality, []string{"CT"}),
		internaldicom.MustNewElement(tag.SOPClassUID, []string{internaldicom.CTImageStorage}),
		internaldicom.MustNewElement(tag.FrameOfReferenceUID, []string{c.FrameOfReferenceUID}),
		internaldicom.MustNewElement(tag.BodyPartExamined, []string{"CHEST"}),
		internaldicom.MustNewElement(tag.PatientPosition, []string{"HFS"}),
		internaldicom.MustNewElement(tag.ImageOrientationPatient, internaldicom.FormatDSList(1, 0, 0, 0, 1, 0)),
		internaldicom.MustNewElement(tag.PixelSpacing, internaldicom.FormatDSList(c.Spacing.Row, c.Spacing.Col)),
		internaldicom.MustNewElement(tag.SliceThickness, []string{internaldicom.FormatDS(c.Spacing.Slice)}),
		internaldicom.MustNewElement(tag.Rows, []int{c.Shape.Rows}),
		internaldicom.MustNewElement(tag.Columns, []int{c.Shape.Cols}),
	}
	elems = append(elems, acq.elements()...)
	return append(elems, enc.elements(withRescale)...)
}

// sliceElements returns the per-instance elements of slice s.
func (c *Case) sliceElements(s int) []*dicom.Element {
	o := c.Origins[s]
	return []*dicom.Element{
		internaldicom.MustNewElement(tag.MediaStorageSOPClassUID, []string{internaldicom.CTImageStorage}),
		internaldicom.MustNewElement(tag.MediaStorageSOPInstanceUID, []string{c.SOPInstanceUIDs[s]}),
		internaldicom.MustNewElement(tag.TransferSyntaxUID, []string{internaldicom.ExplicitVRLittleEndian}),
		internaldicom.MustNewElement(tag.SOPInstanceUID, []string{c.SOPInstanceUIDs[s]}),
		internaldicom.MustNewElement(tag.InstanceNumber, []string{internaldicom.FormatIS(c.instanceNumber(s))}),
		internaldicom.MustNewElement(tag.ImagePositionPatient, internaldicom.FormatDSList(o.X, o.Y, o.Z)),
		internaldicom.MustNewElement(tag.SliceLocation, []string{internaldicom.FormatDS(o.Z)}),
	}
}

// writeSlices writes the CT files with a fixed pool of workers.
func writeSlices(tasks []sliceTask, enc pixelEncoding, workers int) error {
	workers = min(workers, len(tasks))

	taskChan := make(chan sliceTask, len(tasks))
	resultChan := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskChan {
				err := writeSlice(task, enc)
				if err != nil {
					err = fmt.Errorf("write slice %d: %w", task.index, err)
				}
				resultChan <- err
			}
		}()
	}

	for _, task := range tasks {
		taskChan <- task
	}
	close(taskChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var firstErr error
	for err := range resultChan {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func writeSlice(task sliceTask, enc pixelEncoding) error {
	rows, cols := task.rows, task.cols
	nativeFrame := frame.NewNativeFrame[uint16](16, rows, cols, rows*cols, 1)
	for i, hu := range task.plane {
		nativeFrame.RawData[i] = enc.raw(hu)
	}
	pixelData := dicom.PixelDataInfo{
		Frames: []*frame.Frame{{Encapsulated: false, NativeData: nativeFrame}},
	}

	elements := make([]*dicom.Element, len(task.metadata)+1)
	copy(elements, task.metadata)
	elements[len(task.metadata)] = internaldicom.MustNewElement(tag.PixelData, pixelData)
	return internaldicom.WriteFile(task.path, dicom.Dataset{Elements: elements}, task.writeOpts...)
}

func fnvSum(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
