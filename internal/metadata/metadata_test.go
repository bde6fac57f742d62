package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

const tciaManifest = "\ufeff" + `Series UID,Collection,Subject ID,Modality,Number of Images,File Location
1.2.1,LCTSC,LCTSC-Test-S1-101,CT,130,./LCTSC/LCTSC-Test-S1-101/1.000000-NA-41027/
1.2.2,LCTSC,LCTSC-Test-S1-101,RTSTRUCT,1,./LCTSC/LCTSC-Test-S1-101/1.000000-NA-77106
1.2.3,LCTSC,LCTSC-Test-S1-102,RTSTRUCT,1,./LCTSC/LCTSC-Test-S1-102/rt/2-1.dcm
1.2.4,LCTSC,LCTSC-Test-S1-102,CT,152,./LCTSC/LCTSC-Test-S1-102/ct
1.2.5,LCTSC,LCTSC-Test-S1-102,RTPLAN,1,./LCTSC/LCTSC-Test-S1-102/plan
1.2.6,LCTSC,LCTSC-Test-S1-103,CT,140,./LCTSC/LCTSC-Test-S1-103/ct

`

func TestRead_TCIA(t *testing.T) {
	cases, err := Read(strings.NewReader(tciaManifest), "/data/raw")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	want := []Case{
		{
			ID:           "LCTSC-Test-S1-101",
			CTPath:       "/data/raw/LCTSC/LCTSC-Test-S1-101/1.000000-NA-41027",
			RTStructPath: "/data/raw/LCTSC/LCTSC-Test-S1-101/1.000000-NA-77106/1-1.dcm",
		},
		{
			ID:           "LCTSC-Test-S1-102",
			CTPath:       "/data/raw/LCTSC/LCTSC-Test-S1-102/ct",
			RTStructPath: "/data/raw/LCTSC/LCTSC-Test-S1-102/rt/2-1.dcm",
		},
		{
			ID:     "LCTSC-Test-S1-103",
			CTPath: "/data/raw/LCTSC/LCTSC-Test-S1-103/ct",
		},
	}
	for i := range want {
		want[i].CTPath = filepath.FromSlash(want[i].CTPath)
		want[i].RTStructPath = filepath.FromSlash(want[i].RTStructPath)
	}
	if !reflect.DeepEqual(cases, want) {
		t.Errorf("Read() =\n%+v\nwant\n%+v", cases, want)
	}
}

func TestRead_Wide(t *testing.T) {
	table := `PatientID,CTPath,RTSTRUCTPath,ROIName
P1,p1/ct,p1/rt.dcm,Lung_R
P1,p1/ct,p1/rt.dcm,Lung_L
P2,/abs/p2/ct,/abs/p2/rt.dcm,
P3,p3/ct,p3/rt.dcm,Heart
P3,p3/ct,p3/rt.dcm,
`
	cases, err := Read(strings.NewReader(table), "base")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := []Case{
		{ID: "P1", CTPath: filepath.Join("base", "p1", "ct"), RTStructPath: filepath.Join("base", "p1", "rt.dcm"),
			ROINames: []string{"Lung_R", "Lung_L"}},
		{ID: "P2", CTPath: filepath.FromSlash("/abs/p2/ct"), RTStructPath: filepath.FromSlash("/abs/p2/rt.dcm")},
		{ID: "P3", CTPath: filepath.Join("base", "p3", "ct"), RTStructPath: filepath.Join("base", "p3", "rt.dcm")},
	}
	if !reflect.DeepEqual(cases, want) {
		t.Errorf("Read() =\n%+v\nwant\n%+v", cases, want)
	}
}

func TestRead_WideWithoutROIColumn(t *testing.T) {
	cases, err := Read(strings.NewReader("PatientID,CTPath,RTSTRUCTPath\nP1,ct,rt.dcm\n"), "")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(cases) != 1 || cases[0].CTPath != "ct" || cases[0].ROINames != nil {
		t.Errorf("Read() = %+v", cases)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		target  error
		mention string
	}{
		{"empty", "", nil, "empty"},
		{"unknown layout", "Subject ID,Modality\nA,CT\n", ErrUnknownLayout, `"File Location"`},
		{"conflicting paths", "PatientID,CTPath,RTSTRUCTPath\nP1,a,b\nP1,c,d\n", nil, "line 3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input), "")
			if err == nil {
				t.Fatal("Read() error = nil, want error")
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("Read() error = %v, want %v", err, tt.target)
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("Read() error = %v, want it to mention %s", err, tt.mention)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metadata.csv")
	if err := os.WriteFile(path, []byte(tciaManifest), 0o644); err != nil {
		t.Fatal(err)
	}
	cases, err := ReadFile(path, dir)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if len(cases) != 3 {
		t.Errorf("got %d cases, want 3", len(cases))
	}

	if _, err := ReadFile(filepath.Join(dir, "missing.csv"), dir); err == nil {
		t.Error("ReadFile(missing) error = nil, want error")
	}
}
