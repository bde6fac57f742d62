package assembler_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/mrsinham/lctscprep/internal/archive"
	"github.com/mrsinham/lctscprep/internal/assembler"
	"github.com/mrsinham/lctscprep/internal/metadata"
	"github.com/mrsinham/lctscprep/internal/rtstruct"
	"github.com/mrsinham/lctscprep/internal/synth"
	"github.com/mrsinham/lctscprep/internal/volume"
)

// phantom writes one small synthetic case under root and returns it with
// the metadata entry pointing at it.
func phantom(t *testing.T, root, id string, defects ...synth.Defect) (*synth.Case, metadata.Case) {
	t.Helper()
	c, err := synth.Generate(synth.Options{
		OutputDir: root,
		CaseID:    id,
		Size:      32,
		Slices:    5,
		Seed:      7,
		Defects:   defects,
		Workers:   2,
	})
	if err != nil {
		t.Fatalf("synth.Generate(%s) error = %v", id, err)
	}
	return c, metadata.Case{ID: id, CTPath: c.CTDir, RTStructPath: c.RTStructPath}
}

func newAssembler(t *testing.T, opts assembler.Options) (*assembler.Assembler, string) {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	return assembler.New(opts, nil), opts.OutputDir
}

func TestProcess_WritesArchive(t *testing.T) {
	c, mc := phantom(t, t.TempDir(), "LCTSC-Test-S1-101")
	a, out := newAssembler(t, assembler.Options{})

	got := a.Process(context.Background(), mc)
	if got.Status != assembler.StatusWritten {
		t.Fatalf("status = %s, err = %v", got.Status, got.Err)
	}
	want := []string{synth.ROIBody, synth.ROILungL, synth.ROILungR, synth.ROISpinalCord}
	slices.Sort(want)
	if !reflect.DeepEqual(got.ROIs, want) {
		t.Errorf("ROIs = %v, want %v", got.ROIs, want)
	}
	if got.Path != filepath.Join(out, "LCTSC-Test-S1-101.h5") {
		t.Errorf("path = %s", got.Path)
	}
	if len(got.Failures) != 0 {
		t.Errorf("unexpected failures %v", got.Failures)
	}

	rec, err := archive.Read(got.Path)
	if err != nil {
		t.Fatalf("archive.Read() error = %v", err)
	}
	if rec.Shape != c.Shape {
		t.Errorf("shape = %s, want %s", rec.Shape, c.Shape)
	}
	if !slices.Equal(rec.Image, c.HU) {
		t.Error("archived image differs from the phantom ground truth")
	}
	if len(rec.Masks) != 4 {
		t.Errorf("archive holds %d masks, want 4", len(rec.Masks))
	}
}

func TestProcess_Outcomes(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name       string
		defects    []synth.Defect
		opts       assembler.Options
		mutate     func(*metadata.Case)
		wantStatus assembler.Status
		wantErr    error
		wantFile   bool
	}{
		{
			name:       "missing CT directory",
			mutate:     func(c *metadata.Case) { c.CTPath = filepath.Join(root, "absent") },
			wantStatus: assembler.StatusSkippedMissingInput,
		},
		{
			name:       "missing RTSTRUCT path",
			mutate:     func(c *metadata.Case) { c.RTStructPath = "" },
			wantStatus: assembler.StatusSkippedMissingInput,
		},
		{
			name:       "no series",
			defects:    []synth.Defect{synth.NoSeries},
			wantStatus: assembler.StatusFailed,
			wantErr:    volume.ErrNoSeries,
		},
		{
			name:       "unlinked structure set",
			defects:    []synth.Defect{synth.Unlinked},
			opts:       assembler.Options{AllowUnlinked: true},
			wantStatus: assembler.StatusFailed,
			wantErr:    rtstruct.ErrNotLinked,
		},
		{
			name:       "empty structure set is skipped",
			defects:    []synth.Defect{synth.EmptyStructureSet},
			wantStatus: assembler.StatusSkippedNoROIs,
		},
		{
			name:       "empty structure set with volume-only policy",
			defects:    []synth.Defect{synth.EmptyStructureSet},
			opts:       assembler.Options{EmptyPolicy: assembler.EmptyVolumeOnly},
			wantStatus: assembler.StatusWritten,
			wantFile:   true,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "case-" + string(rune('a'+i))
			_, mc := phantom(t, root, id, tt.defects...)
			if tt.mutate != nil {
				tt.mutate(&mc)
			}
			a, out := newAssembler(t, tt.opts)

			got := a.Process(context.Background(), mc)
			if got.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s (err %v)", got.Status, tt.wantStatus, got.Err)
			}
			if tt.wantErr != nil && !errors.Is(got.Err, tt.wantErr) {
				t.Errorf("err = %v, want %v", got.Err, tt.wantErr)
			}
			_, statErr := os.Stat(filepath.Join(out, id+".h5"))
			if exists := statErr == nil; exists != tt.wantFile {
				t.Errorf("archive exists = %v, want %v", exists, tt.wantFile)
			}
		})
	}
}

func TestProcess_VolumeOnlyArchiveHasNoMasks(t *testing.T) {
	_, mc := phantom(t, t.TempDir(), "empty", synth.EmptyStructureSet)
	a, _ := newAssembler(t, assembler.Options{EmptyPolicy: assembler.EmptyVolumeOnly})

	got := a.Process(context.Background(), mc)
	if got.Status != assembler.StatusWritten {
		t.Fatalf("status = %s (err %v)", got.Status, got.Err)
	}
	if len(got.Failures) != 4 {
		t.Errorf("failures = %d, want one per ROI", len(got.Failures))
	}
	rec, err := archive.Read(got.Path)
	if err != nil {
		t.Fatalf("archive.Read() error = %v", err)
	}
	if len(rec.Masks) != 0 {
		t.Errorf("masks = %v, want none", rec.MaskNames())
	}
}

func TestProcess_DropsFailedROIs(t *testing.T) {
	_, mc := phantom(t, t.TempDir(), "degenerate", synth.DegenerateContour)
	a, _ := newAssembler(t, assembler.Options{})

	got := a.Process(context.Background(), mc)
	if got.Status != assembler.StatusWritten {
		t.Fatalf("status = %s (err %v)", got.Status, got.Err)
	}
	if slices.Contains(got.ROIs, synth.ROISpinalCord) || len(got.ROIs) != 3 {
		t.Errorf("ROIs = %v, want the three valid ones", got.ROIs)
	}
	if len(got.Failures) != 1 || got.Failures[0].ROI != synth.ROISpinalCord {
		t.Fatalf("failures = %v", got.Failures)
	}
	var ce *rtstruct.ContourError
	if !errors.As(got.Failures[0].Err, &ce) {
		t.Errorf("failure = %v, want a ContourError", got.Failures[0].Err)
	}
}

func TestProcess_RestrictsToRequestedROIs(t *testing.T) {
	_, mc := phantom(t, t.TempDir(), "restricted")
	mc.ROINames = []string{synth.ROILungR, "Heart"}
	a, _ := newAssembler(t, assembler.Options{})

	got := a.Process(context.Background(), mc)
	if got.Status != assembler.StatusWritten {
		t.Fatalf("status = %s (err %v)", got.Status, got.Err)
	}
	if !reflect.DeepEqual(got.ROIs, []string{synth.ROILungR}) {
		t.Errorf("ROIs = %v, want [%s]", got.ROIs, synth.ROILungR)
	}
	if len(got.Failures) != 1 || got.Failures[0].ROI != "Heart" || !errors.Is(got.Failures[0].Err, rtstruct.ErrUnknownROI) {
		t.Errorf("failures = %v, want Heart unknown", got.Failures)
	}
}

func TestProcess_SkipExisting(t *testing.T) {
	_, mc := phantom(t, t.TempDir(), "existing")
	a, out := newAssembler(t, assembler.Options{SkipExisting: true})

	path := a.ArchivePath(mc.ID)
	if err := os.WriteFile(path, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := a.Process(context.Background(), mc)
	if got.Status != assembler.StatusSkippedExisting || got.Path != path {
		t.Fatalf("outcome = %+v", got)
	}
	data, err := os.ReadFile(filepath.Join(out, "existing.h5"))
	if err != nil || string(data) != "keep me" {
		t.Errorf("existing archive was modified: %q, %v", data, err)
	}
}

func TestProcess_CancelledContext(t *testing.T) {
	_, mc := phantom(t, t.TempDir(), "cancelled")
	a, _ := newAssembler(t, assembler.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if got := a.Process(ctx, mc); got.Status != assembler.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func cohort(t *testing.T) []metadata.Case {
	t.Helper()
	root := t.TempDir()
	var cases []metadata.Case
	for i, defects := range [][]synth.Defect{nil, {synth.NoSeries}, nil, {synth.EmptyStructureSet}, nil} {
		_, mc := phantom(t, root, "case-"+string(rune('0'+i)), defects...)
		cases = append(cases, mc)
	}
	cases = append(cases, metadata.Case{ID: "no-paths"})
	return cases
}

func statuses(s assembler.Summary) []assembler.Status {
	out := make([]assembler.Status, len(s.Outcomes))
	for i, o := range s.Outcomes {
		out[i] = o.Status
	}
	return out
}

func TestRun_ParallelMatchesSequential(t *testing.T) {
	cases := cohort(t)

	seq, _ := newAssembler(t, assembler.Options{})
	sequential := seq.Run(context.Background(), cases)

	var mu sync.Mutex
	var seen []string
	par, _ := newAssembler(t, assembler.Options{
		Workers: 3,
		OnOutcome: func(o assembler.Outcome) {
			mu.Lock()
			seen = append(seen, o.CaseID)
			mu.Unlock()
		},
	})
	parallel := par.Run(context.Background(), cases)

	want := []assembler.Status{
		assembler.StatusWritten,
		assembler.StatusFailed,
		assembler.StatusWritten,
		assembler.StatusSkippedNoROIs,
		assembler.StatusWritten,
		assembler.StatusSkippedMissingInput,
	}
	if got := statuses(sequential); !reflect.DeepEqual(got, want) {
		t.Errorf("sequential statuses = %v, want %v", got, want)
	}
	if got := statuses(parallel); !reflect.DeepEqual(got, want) {
		t.Errorf("parallel statuses = %v, want %v", got, want)
	}
	for i, o := range parallel.Outcomes {
		if o.CaseID != cases[i].ID {
			t.Errorf("outcome %d is %s, want input order", i, o.CaseID)
		}
		if !reflect.DeepEqual(o.ROIs, sequential.Outcomes[i].ROIs) {
			t.Errorf("case %s ROIs differ: %v vs %v", o.CaseID, o.ROIs, sequential.Outcomes[i].ROIs)
		}
	}
	if len(seen) != len(cases) {
		t.Errorf("OnOutcome called %d times, want %d", len(seen), len(cases))
	}
}

func TestRun_ArchivePathCollision(t *testing.T) {
	_, c := phantom(t, t.TempDir(), "site-1")
	cases := []metadata.Case{
		{ID: "site/1", CTPath: c.CTPath, RTStructPath: c.RTStructPath},
		{ID: "site_1", CTPath: c.CTPath, RTStructPath: c.RTStructPath},
		{ID: "SITE_1", CTPath: c.CTPath, RTStructPath: c.RTStructPath},
		{ID: "site-1", CTPath: c.CTPath, RTStructPath: c.RTStructPath},
	}

	for _, workers := range []int{1, 3} {
		a, out := newAssembler(t, assembler.Options{Workers: workers})
		summary := a.Run(context.Background(), cases)

		want := []assembler.Status{
			assembler.StatusWritten,
			assembler.StatusFailed,
			assembler.StatusFailed,
			assembler.StatusWritten,
		}
		if got := statuses(summary); !reflect.DeepEqual(got, want) {
			t.Fatalf("workers=%d: statuses = %v, want %v", workers, got, want)
		}
		for _, i := range []int{1, 2} {
			if err := summary.Outcomes[i].Err; !errors.Is(err, assembler.ErrArchiveCollision) {
				t.Errorf("workers=%d: case %s error = %v, want ErrArchiveCollision", workers, cases[i].ID, err)
			}
		}
		entries, err := os.ReadDir(out)
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 {
			t.Errorf("workers=%d: wrote %d files, want 2", workers, len(entries))
		}
	}
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	cases := cohort(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, workers := range []int{1, 4} {
		a, out := newAssembler(t, assembler.Options{Workers: workers})
		summary := a.Run(ctx, cases)
		if n := summary.Count(assembler.StatusCancelled); n != len(cases) {
			t.Errorf("workers=%d: %d cancelled, want %d", workers, n, len(cases))
		}
		entries, _ := os.ReadDir(out)
		if len(entries) != 0 {
			t.Errorf("workers=%d: wrote %d files after cancellation", workers, len(entries))
		}
	}
}

func TestSummary(t *testing.T) {
	summary := assembler.Summary{Outcomes: []assembler.Outcome{
		{CaseID: "a", Status: assembler.StatusWritten, ROIs: []string{"Body"},
			Failures: []assembler.ROIFailure{{ROI: "Heart", Err: rtstruct.ErrNoContours}}},
		{CaseID: "b", Status: assembler.StatusFailed, Err: volume.ErrNoSeries},
		{CaseID: "c", Status: assembler.StatusWritten},
	}}

	counts := summary.Counts()
	if counts[assembler.StatusWritten] != 2 || counts[assembler.StatusFailed] != 1 || len(counts) != 2 {
		t.Errorf("counts = %v", counts)
	}
	failures := summary.ROIFailures()
	if len(failures) != 1 || failures[0].CaseID != "a" || failures[0].ROI != "Heart" {
		t.Errorf("ROI failures = %+v", failures)
	}

	if table := summary.Table(); !strings.Contains(table, "no DICOM series found") || !strings.Contains(table, "written") {
		t.Errorf("case table missing content:\n%s", table)
	}
	if table := summary.StatusTable(); !strings.Contains(table, "total") || !strings.Contains(table, "failed") {
		t.Errorf("status table missing content:\n%s", table)
	}
	if table := summary.FailureTable(); !strings.Contains(table, "Heart") {
		t.Errorf("failure table missing content:\n%s", table)
	}
	if table := (assembler.Summary{}).FailureTable(); table != "" {
		t.Errorf("empty failure table = %q", table)
	}
}

func TestParseEmptyPolicy(t *testing.T) {
	for in, want := range map[string]assembler.EmptyPolicy{"": assembler.EmptySkip, "Skip": assembler.EmptySkip, "volume-only": assembler.EmptyVolumeOnly} {
		got, err := assembler.ParseEmptyPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseEmptyPolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := assembler.ParseEmptyPolicy("drop"); err == nil {
		t.Error("ParseEmptyPolicy(drop) error = nil")
	}
}
