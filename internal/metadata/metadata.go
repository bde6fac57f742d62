// Package metadata turns a cohort metadata table into the list of cases to
// preprocess.
//
// Two layouts are accepted. A TCIA download manifest lists one row per
// series with "Subject ID", "Modality" and "File Location" columns; the
// structure set of a subject is the file 1-1.dcm inside its RTSTRUCT series
// directory. A wide table lists one row per case with "PatientID",
// "CTPath" and "RTSTRUCTPath", and optionally "ROIName" to restrict the
// ROIs kept for that case.
package metadata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// RTStructFileName is the structure set file inside a TCIA RTSTRUCT series
// directory.
const RTStructFileName = "1-1.dcm"

// Column names of the two layouts.
const (
	ColSubjectID    = "Subject ID"
	ColModality     = "Modality"
	ColFileLocation = "File Location"

	ColPatientID    = "PatientID"
	ColCTPath       = "CTPath"
	ColRTStructPath = "RTSTRUCTPath"
	ColROIName      = "ROIName"
)

// ErrUnknownLayout is returned when the header matches neither layout.
var ErrUnknownLayout = errors.New("unrecognized metadata layout")

// Case is one subject to preprocess. Paths are empty when the table does
// not provide them.
type Case struct {
	ID           string
	CTPath       string
	RTStructPath string
	// ROINames restricts the ROIs kept for the case. Empty keeps all.
	ROINames []string
}

var (
	tciaColumns = []string{ColSubjectID, ColModality, ColFileLocation}
	wideColumns = []string{ColPatientID, ColCTPath, ColRTStructPath}
)

// ReadFile opens path and reads it with Read.
func ReadFile(path, baseDir string) ([]Case, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer func() { _ = f.Close() }()

	cases, err := Read(f, baseDir)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cases, nil
}

// Read parses a metadata table and resolves relative paths against
// baseDir. Cases are returned in order of first appearance.
func Read(r io.Reader, baseDir string) ([]Case, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("metadata: empty table")
	}
	if err != nil {
		return nil, fmt.Errorf("metadata header: %w", err)
	}
	cols := indexColumns(header)

	tciaMissing := missing(cols, tciaColumns)
	wideMissing := missing(cols, wideColumns)
	switch {
	case len(tciaMissing) == 0:
		return readTCIA(cr, cols, baseDir)
	case len(wideMissing) == 0:
		return readWide(cr, cols, baseDir)
	default:
		return nil, fmt.Errorf("%w: TCIA manifest lacks %s; wide table lacks %s",
			ErrUnknownLayout, quoteAll(tciaMissing), quoteAll(wideMissing))
	}
}

// row wraps one record with header lookups.
type row struct {
	cols   map[string]int
	record []string
}

func (r row) get(col string) string {
	i, ok := r.cols[col]
	if !ok || i >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[i])
}

// each calls fn for every non-blank record. line is the 1-based file line.
func each(cr *csv.Reader, cols map[string]int, fn func(r row, line int)) error {
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("metadata: %w", err)
		}
		line, _ := cr.FieldPos(0)
		if blank(record) {
			continue
		}
		fn(row{cols: cols, record: record}, line)
	}
}

func readTCIA(cr *csv.Reader, cols map[string]int, baseDir string) ([]Case, error) {
	var order []string
	byID := make(map[string]*Case)

	err := each(cr, cols, func(r row, _ int) {
		id := r.get(ColSubjectID)
		if id == "" {
			return
		}
		c, ok := byID[id]
		if !ok {
			c = &Case{ID: id}
			byID[id] = c
			order = append(order, id)
		}

		loc := r.get(ColFileLocation)
		if loc == "" {
			return
		}
		switch strings.ToUpper(r.get(ColModality)) {
		case "CT":
			if c.CTPath == "" {
				c.CTPath = resolve(baseDir, loc)
			}
		case "RTSTRUCT":
			if c.RTStructPath == "" {
				c.RTStructPath = resolve(baseDir, loc)
				if !strings.EqualFold(filepath.Ext(c.RTStructPath), ".dcm") {
					c.RTStructPath = filepath.Join(c.RTStructPath, RTStructFileName)
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}

	cases := make([]Case, len(order))
	for i, id := range order {
		cases[i] = *byID[id]
	}
	return cases, nil
}

func readWide(cr *csv.Reader, cols map[string]int, baseDir string) ([]Case, error) {
	var cases []Case
	index := make(map[string]int)
	var conflict error

	err := each(cr, cols, func(r row, line int) {
		id := r.get(ColPatientID)
		if id == "" || conflict != nil {
			return
		}
		c := Case{
			ID:           id,
			CTPath:       resolve(baseDir, r.get(ColCTPath)),
			RTStructPath: resolve(baseDir, r.get(ColRTStructPath)),
		}
		roi := r.get(ColROIName)

		i, seen := index[id]
		if !seen {
			if roi != "" {
				c.ROINames = []string{roi}
			}
			index[id] = len(cases)
			cases = append(cases, c)
			return
		}

		prev := &cases[i]
		if prev.CTPath != c.CTPath || prev.RTStructPath != c.RTStructPath {
			conflict = fmt.Errorf("metadata line %d: case %q listed again with different paths", line, id)
			return
		}
		// A repeated row without ROIName widens the case back to every ROI.
		switch {
		case roi == "":
			prev.ROINames = nil
		case len(prev.ROINames) > 0 && !slices.Contains(prev.ROINames, roi):
			prev.ROINames = append(prev.ROINames, roi)
		}
	})
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, conflict
	}
	return cases, nil
}

// resolve joins a relative location to baseDir. Empty stays empty.
func resolve(baseDir, loc string) string {
	if loc == "" {
		return ""
	}
	p := filepath.FromSlash(loc)
	if filepath.IsAbs(p) || baseDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(baseDir, p)
}

func indexColumns(header []string) map[string]int {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}
	return cols
}

func missing(cols map[string]int, want []string) []string {
	var out []string
	for _, c := range want {
		if _, ok := cols[c]; !ok {
			out = append(out, c)
		}
	}
	return out
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return strings.Join(quoted, ", ")
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
