package volume_test

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/mrsinham/lctscprep/internal/synth"
	"github.com/mrsinham/lctscprep/internal/volume"
)

func generate(t *testing.T, opts synth.Options) *synth.Case {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	if opts.CaseID == "" {
		opts.CaseID = "LCTSC-Test-S1-101"
	}
	c, err := synth.Generate(opts)
	if err != nil {
		t.Fatalf("synth.Generate() error = %v", err)
	}
	return c
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestLoad_MatchesPhantom(t *testing.T) {
	tests := []struct {
		name   string
		opts   synth.Options
		offset int16
	}{
		{"unsigned 12-bit", synth.Options{Size: 32, Slices: 6, Seed: 42}, 0},
		{"signed 16-bit", synth.Options{Size: 32, Slices: 6, Seed: 42, SignedPixels: true}, 0},
		{"missing rescale", synth.Options{Size: 32, Slices: 4, Seed: 3, Defects: []synth.Defect{synth.MissingRescale}}, 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := generate(t, tt.opts)

			vol, err := volume.Load(c.CTDir, volume.Options{Workers: 2})
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			if vol.Shape != c.Shape {
				t.Fatalf("Shape = %s, want %s", vol.Shape, c.Shape)
			}
			if !approx(vol.Spacing.Row, c.Spacing.Row) || !approx(vol.Spacing.Col, c.Spacing.Col) ||
				!approx(vol.Spacing.Slice, c.Spacing.Slice) {
				t.Errorf("Spacing = %v, want %v", vol.Spacing.Array(), c.Spacing.Array())
			}
			for i, want := range c.HU {
				if got := vol.Data[i]; got != want+tt.offset {
					t.Fatalf("Data[%d] = %d, want %d", i, got, want+tt.offset)
				}
			}
		})
	}
}

func TestLoad_OrdersSlicesByPosition(t *testing.T) {
	c := generate(t, synth.Options{Size: 16, Slices: 5})

	vol, err := volume.Load(c.CTDir, volume.Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if vol.Geometry.SeriesInstanceUID != c.SeriesInstanceUID {
		t.Errorf("SeriesInstanceUID = %s, want %s", vol.Geometry.SeriesInstanceUID, c.SeriesInstanceUID)
	}
	if vol.Geometry.FrameOfReferenceUID != c.FrameOfReferenceUID {
		t.Errorf("FrameOfReferenceUID = %s, want %s", vol.Geometry.FrameOfReferenceUID, c.FrameOfReferenceUID)
	}
	for s, want := range c.SOPInstanceUIDs {
		if got := vol.Geometry.SOPInstanceUIDs[s]; got != want {
			t.Errorf("slice %d is %s, want %s", s, got, want)
		}
		if got := vol.Geometry.Origins[s]; !approx(got.Z, c.Origins[s].Z) {
			t.Errorf("slice %d origin z = %v, want %v", s, got.Z, c.Origins[s].Z)
		}
	}
	for s := 1; s < vol.Shape.Slices; s++ {
		if vol.Geometry.Origins[s].Z <= vol.Geometry.Origins[s-1].Z {
			t.Fatalf("slices not ascending at %d", s)
		}
	}
}

func TestLoad_SingleSliceUsesThickness(t *testing.T) {
	c := generate(t, synth.Options{Size: 16, Slices: 1, SliceThickness: 3})

	vol, err := volume.Load(c.CTDir, volume.Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if vol.Shape.Slices != 1 || !approx(vol.Spacing.Slice, 3) {
		t.Errorf("got %d slices at %v mm, want 1 at 3 mm", vol.Shape.Slices, vol.Spacing.Slice)
	}
}

func TestLoad_ToPixelInvertsPatientPoint(t *testing.T) {
	c := generate(t, synth.Options{Size: 24, Slices: 3, PixelSpacing: 0.8})

	vol, err := volume.Load(c.CTDir, volume.Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	p := c.PatientPoint(7.5, 12.25, 2)
	row, col := vol.ToPixel(p, 2)
	if !approx(row, 7.5) || !approx(col, 12.25) {
		t.Errorf("ToPixel() = (%v, %v), want (7.5, 12.25)", row, col)
	}

	idx, d := vol.NearestSlice(p)
	if idx != 2 || d > 1e-6 {
		t.Errorf("NearestSlice() = %d, %v; want 2, 0", idx, d)
	}
	if idx, ok := vol.SliceBySOPInstanceUID(c.SOPInstanceUIDs[1]); !ok || idx != 1 {
		t.Errorf("SliceBySOPInstanceUID() = %d, %v; want 1, true", idx, ok)
	}
}

func TestLoad_NoSeries(t *testing.T) {
	c := generate(t, synth.Options{Size: 16, Slices: 2, Defects: []synth.Defect{synth.NoSeries}})

	// A structure set and a stray text file are not image slices.
	data, err := os.ReadFile(c.RTStructPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(c.CTDir, "rtstruct.dcm"), data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(c.CTDir, "notes.txt"), []byte("not dicom"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = volume.Load(c.CTDir, volume.Options{})
	if !errors.Is(err, volume.ErrNoSeries) {
		t.Errorf("Load() error = %v, want ErrNoSeries", err)
	}
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := volume.Load(filepath.Join(t.TempDir(), "absent"), volume.Options{})
	if err == nil {
		t.Fatal("Load() error = nil, want error")
	}
	if errors.Is(err, volume.ErrNoSeries) {
		t.Error("a missing directory should not report ErrNoSeries")
	}
}

func TestLoad_PicksLargestSeries(t *testing.T) {
	root := t.TempDir()
	big := generate(t, synth.Options{OutputDir: root, CaseID: "big", Size: 16, Slices: 4, Seed: 1})
	small := generate(t, synth.Options{OutputDir: root, CaseID: "small", Size: 16, Slices: 2, Seed: 2})

	entries, err := os.ReadDir(small.CTDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(small.CTDir, e.Name()))
		if err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(big.CTDir, "other-"+e.Name()), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	vol, err := volume.Load(big.CTDir, volume.Options{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if vol.Geometry.SeriesInstanceUID != big.SeriesInstanceUID || vol.Shape.Slices != 4 {
		t.Errorf("loaded series %s with %d slices, want %s with 4",
			vol.Geometry.SeriesInstanceUID, vol.Shape.Slices, big.SeriesInstanceUID)
	}
}

func TestShapeAndSpacing(t *testing.T) {
	s := volume.Shape{Rows: 2, Cols: 3, Slices: 4}
	if s.Len() != 24 || !s.Valid() || s.String() != "2x3x4" {
		t.Errorf("Shape helpers: len %d valid %v string %s", s.Len(), s.Valid(), s)
	}
	if (volume.Shape{Rows: 2, Cols: 0, Slices: 1}).Valid() {
		t.Error("zero-column shape reported valid")
	}

	tests := []struct {
		sp   volume.Spacing
		want bool
	}{
		{volume.Spacing{Row: 1, Col: 1, Slice: 2.5}, true},
		{volume.Spacing{Row: 1, Col: 0, Slice: 2.5}, false},
		{volume.Spacing{Row: -1, Col: 1, Slice: 1}, false},
		{volume.Spacing{Row: 1, Col: 1, Slice: math.NaN()}, false},
		{volume.Spacing{Row: 1, Col: 1, Slice: math.Inf(1)}, false},
	}
	for _, tt := range tests {
		if got := tt.sp.Valid(); got != tt.want {
			t.Errorf("%v.Valid() = %v, want %v", tt.sp.Array(), got, tt.want)
		}
	}
}
