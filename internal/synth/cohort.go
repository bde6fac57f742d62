package synth

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	internaldicom "github.com/mrsinham/lctscprep/internal/dicom"
	"github.com/mrsinham/lctscprep/internal/util"
)

// ManifestName is the metadata file written at the cohort root.
const ManifestName = "metadata.csv"

// collection is the TCIA collection name stamped into the manifest.
const collection = "LCTSC"

// CohortOptions configures GenerateCohort. Case is the template for every
// case; its CaseID and Seed are derived per case.
type CohortOptions struct {
	OutputDir string
	Cases     int
	Prefix    string // case id prefix, default util.DefaultCasePrefix
	Site      int    // default 1
	Seed      uint64
	Case      Options
	// DefectsFor returns the defects of case i (0-based). Nil injects none.
	DefectsFor func(i int) []Defect
}

// GenerateCohort writes Cases phantom cases below OutputDir and a TCIA
// style metadata manifest next to them.
func GenerateCohort(opts CohortOptions) ([]*Case, error) {
	if opts.Cases < 1 {
		return nil, fmt.Errorf("cohort needs at least one case, got %d", opts.Cases)
	}
	if opts.Site == 0 {
		opts.Site = 1
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cohort directory: %w", err)
	}

	cases := make([]*Case, 0, opts.Cases)
	for i := range opts.Cases {
		caseOpts := opts.Case
		caseOpts.OutputDir = opts.OutputDir
		caseOpts.CaseID = util.GenerateCaseID(opts.Prefix, opts.Site, i+1)
		caseOpts.Seed = opts.Seed + uint64(i)
		if opts.DefectsFor != nil {
			caseOpts.Defects = opts.DefectsFor(i)
		}
		c, err := Generate(caseOpts)
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", caseOpts.CaseID, err)
		}
		cases = append(cases, c)
	}

	f, err := os.Create(filepath.Join(opts.OutputDir, ManifestName))
	if err != nil {
		return nil, fmt.Errorf("create manifest: %w", err)
	}
	if err := WriteManifest(f, opts.OutputDir, cases); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close manifest: %w", err)
	}
	return cases, nil
}

// manifestHeader follows the columns of a TCIA download manifest.
var manifestHeader = []string{
	"Series UID", "Collection", "Subject ID", "Study UID", "Series Description",
	"Manufacturer", "Modality", "SOP Class UID", "Number of Images", "File Location",
}

// WriteManifest writes one CT row and one RTSTRUCT row per case. File
// locations are relative to baseDir, in the "./..." form TCIA uses; the
// RTSTRUCT location is the directory holding 1-1.dcm.
func WriteManifest(w io.Writer, baseDir string, cases []*Case) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(manifestHeader); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	for _, c := range cases {
		ctLoc, err := manifestLocation(baseDir, c.CTDir)
		if err != nil {
			return err
		}
		rtLoc, err := manifestLocation(baseDir, filepath.Dir(c.RTStructPath))
		if err != nil {
			return err
		}
		images := len(c.SOPInstanceUIDs)
		if c.HasDefect(NoSeries) {
			images = 0
		}
		rows := [][]string{
			{c.SeriesInstanceUID, collection, c.ID, c.StudyInstanceUID, "Phantom thorax",
				c.Manufacturer, "CT", internaldicom.CTImageStorage, strconv.Itoa(images), ctLoc},
			{c.RTStructSeriesUID, collection, c.ID, c.StudyInstanceUID, "PHANTOM",
				c.Manufacturer, "RTSTRUCT", internaldicom.RTStructureSetStorage, "1", rtLoc},
		}
		if err := cw.WriteAll(rows); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func manifestLocation(baseDir, path string) (string, error) {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return "", fmt.Errorf("manifest location of %s: %w", path, err)
	}
	return "./" + filepath.ToSlash(rel), nil
}
