package report

import (
	"math"
	"strings"
	"testing"

	"github.com/mrsinham/lctscprep/internal/archive"
	"github.com/mrsinham/lctscprep/internal/volume"
)

func TestCaseCoverage(t *testing.T) {
	shape := volume.Shape{Rows: 4, Cols: 4, Slices: 3}
	mask := make([]uint8, shape.Len())
	set := func(r, c, s int) { mask[(r*shape.Cols+c)*shape.Slices+s] = 1 }
	// Two voxels on slice 0, four on slice 1 (the middle one).
	set(0, 0, 0)
	set(0, 1, 0)
	for r := 1; r <= 2; r++ {
		for c := 1; c <= 2; c++ {
			set(r, c, 1)
		}
	}

	rec := &archive.Record{
		Shape:   shape,
		Spacing: volume.Spacing{Row: 1, Col: 2, Slice: 5},
		Image:   make([]int16, shape.Len()),
		Masks:   map[string][]uint8{"Lung_R": mask, "Empty": make([]uint8, shape.Len())},
	}
	rows := CaseCoverage(rec)
	if len(rows) != 2 || rows[0].ROI != "Empty" || rows[1].ROI != "Lung_R" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	empty := rows[0]
	if empty.Voxels != 0 || empty.Slices != 0 || empty.AreaMean != 0 {
		t.Errorf("empty mask coverage = %+v", empty)
	}

	got := rows[1]
	if got.Voxels != 6 || got.Slices != 2 {
		t.Errorf("voxels/slices = %d/%d, want 6/2", got.Voxels, got.Slices)
	}
	if math.Abs(got.VolumeML-0.06) > 1e-9 {
		t.Errorf("volume = %v mL, want 0.06", got.VolumeML)
	}
	if got.AreaMean != 3 || math.Abs(got.AreaStdDev-math.Sqrt2) > 1e-9 {
		t.Errorf("area = %v ± %v, want 3 ± sqrt(2)", got.AreaMean, got.AreaStdDev)
	}
	if got.Axial != 4.0/16 {
		t.Errorf("axial = %v, want 0.25", got.Axial)
	}
	// Row 2 holds (2,1,1) and (2,2,1); column 2 holds (1,2,1) and (2,2,1).
	if got.Coronal != 2.0/12 || got.Sagittal != 2.0/12 {
		t.Errorf("coronal/sagittal = %v/%v, want 1/6", got.Coronal, got.Sagittal)
	}

	table := CoverageTable(rows)
	if !strings.Contains(table, "Lung_R") || !strings.Contains(table, "25.0%") {
		t.Errorf("coverage table missing values:\n%s", table)
	}
}

func TestStatusLine(t *testing.T) {
	if got := StatusLine(MarkerOK, "Saved case", false); got != "[✓] Saved case" {
		t.Errorf("StatusLine(ok) = %q", got)
	}
	if got := StatusLine(MarkerWarn, "Skipped", false); got != "[!] Skipped" {
		t.Errorf("StatusLine(warn) = %q", got)
	}
	if got := StatusLine(MarkerWarn, "Skipped", true); !strings.Contains(got, "[!]") || !strings.HasSuffix(got, " Skipped") {
		t.Errorf("StatusLine(colorized) = %q", got)
	}
}
