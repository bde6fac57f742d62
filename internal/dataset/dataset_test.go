package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"testing"

	"github.com/mrsinham/lctscprep/internal/archive"
	"github.com/mrsinham/lctscprep/internal/volume"
)

var smallShape = volume.Shape{Rows: 2, Cols: 3, Slices: 2}

// writeCase stores a record whose image holds base+voxel index, with
// Lung_R on voxel 0, Lung_L on voxel 1 and Body everywhere.
func writeCase(t *testing.T, dir, id string, shape volume.Shape, base int16, masks ...string) {
	t.Helper()
	rec := &archive.Record{
		CaseID:  id,
		Shape:   shape,
		Spacing: volume.Spacing{Row: 0.5, Col: 0.75, Slice: float64(base%7) + 1},
		Image:   make([]int16, shape.Len()),
		Masks:   make(map[string][]uint8),
	}
	for i := range rec.Image {
		rec.Image[i] = base + int16(i)
	}
	for _, name := range masks {
		m := make([]uint8, shape.Len())
		switch name {
		case "Lung_R":
			m[0] = 1
		case "Lung_L":
			m[1] = 1
		default:
			for i := range m {
				m[i] = 1
			}
		}
		rec.Masks[name] = m
	}
	if err := archive.Write(filepath.Join(dir, id+".h5"), rec); err != nil {
		t.Fatalf("archive.Write(%s) error = %v", id, err)
	}
}

// cohortDir writes n cases named case-00..case-n-1.
func cohortDir(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		writeCase(t, dir, fmt.Sprintf("case-%02d", i), smallShape, int16(i*100), "Lung_R", "Lung_L", "Body")
	}
	return dir
}

func TestOpen_ListsArchives(t *testing.T) {
	dir := cohortDir(t, 3)
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".case-99.h5"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	v, err := Open(dir, Options{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := v.CaseIDs(); !reflect.DeepEqual(got, []string{"case-00", "case-01", "case-02"}) {
		t.Errorf("CaseIDs() = %v", got)
	}
	if v.Len() != 3 {
		t.Errorf("Len() = %d, want 3 at batch size 1", v.Len())
	}

	if _, err := Open(filepath.Join(dir, "missing"), Options{}); err == nil {
		t.Error("Open(missing) error = nil")
	}
	if _, err := Open(dir, Options{BatchSize: -1}); err == nil {
		t.Error("Open(batch size -1) error = nil")
	}
}

func TestBatch_ShortLastBatch(t *testing.T) {
	v, err := Open(cohortDir(t, 10), Options{BatchSize: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if v.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", v.Len())
	}

	sizes := []int{4, 4, 2}
	n := smallShape.Len()
	for i, want := range sizes {
		b, err := v.Batch(i)
		if err != nil {
			t.Fatalf("Batch(%d) error = %v", i, err)
		}
		if b.Images.Shape != [5]int{want, 2, 3, 2, 1} || b.Labels.Shape != b.Images.Shape {
			t.Errorf("Batch(%d) shapes = %v / %v", i, b.Images.Shape, b.Labels.Shape)
		}
		if len(b.Images.Data) != want*n || len(b.CaseIDs) != want {
			t.Errorf("Batch(%d) holds %d voxels for %d cases", i, len(b.Images.Data), len(b.CaseIDs))
		}
		for j, id := range b.CaseIDs {
			if want := fmt.Sprintf("case-%02d", i*4+j); id != want {
				t.Errorf("Batch(%d)[%d] = %s, want %s", i, j, id, want)
			}
			if got, want := b.Images.Data[j*n+5], float32((i*4+j)*100+5); got != want {
				t.Errorf("Batch(%d)[%d] voxel 5 = %v, want %v", i, j, got, want)
			}
		}
	}

	for _, i := range []int{-1, 3} {
		if _, err := v.Batch(i); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Batch(%d) error = %v, want ErrIndexOutOfRange", i, err)
		}
	}
}

func TestBatch_LabelIsUnionOfConfiguredROIs(t *testing.T) {
	dir := t.TempDir()
	writeCase(t, dir, "both", smallShape, 0, "Lung_R", "Lung_L", "Body")
	writeCase(t, dir, "right-only", smallShape, 0, "Lung_R")

	v, err := Open(dir, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	b, err := v.Batch(0)
	if err != nil {
		t.Fatalf("Batch(0) error = %v", err)
	}
	n := smallShape.Len()
	both := b.Labels.Data[:n]
	if both[0] != 1 || both[1] != 1 || slices.Max(both[2:]) != 0 {
		t.Errorf("label of both = %v, want Lung_R and Lung_L only", both)
	}
	right := b.Labels.Data[n:]
	if right[0] != 1 || slices.Max(right[1:]) != 0 {
		t.Errorf("label of right-only = %v", right)
	}

	strict, err := Open(dir, Options{BatchSize: 2, RequireLabels: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := strict.Batch(0); !errors.Is(err, ErrMissingLabel) {
		t.Errorf("Batch(0) error = %v, want ErrMissingLabel", err)
	}

	body, err := Open(dir, Options{BatchSize: 1, LabelROIs: []string{"Body"}})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	b, err = body.Batch(0)
	if err != nil {
		t.Fatalf("Batch(0) error = %v", err)
	}
	if slices.Min(b.Labels.Data) != 1 {
		t.Errorf("Body label = %v, want all ones", b.Labels.Data)
	}
}

func TestBatch_ShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	writeCase(t, dir, "a", smallShape, 0, "Lung_R")
	writeCase(t, dir, "b", volume.Shape{Rows: 3, Cols: 3, Slices: 2}, 0, "Lung_R")

	v, err := Open(dir, Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := v.Batch(0); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("Batch(0) error = %v, want ErrShapeMismatch", err)
	}

	single, err := Open(dir, Options{BatchSize: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for i := 0; i < single.Len(); i++ {
		if _, err := single.Batch(i); err != nil {
			t.Errorf("Batch(%d) error = %v with one case per batch", i, err)
		}
	}
}

func epochIDs(t *testing.T, v *View) []string {
	t.Helper()
	var ids []string
	for i := 0; i < v.Len(); i++ {
		b, err := v.Batch(i)
		if err != nil {
			t.Fatalf("Batch(%d) error = %v", i, err)
		}
		ids = append(ids, b.CaseIDs...)
	}
	return ids
}

func TestEndEpoch_Shuffle(t *testing.T) {
	dir := cohortDir(t, 10)
	v, err := Open(dir, Options{BatchSize: 3, Shuffle: true, Seed: 42, CacheSize: 4})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	all := v.CaseIDs()

	first := epochIDs(t, v)
	orders := [][]string{first}
	for e := 1; e <= 4; e++ {
		v.EndEpoch()
		if v.Epoch() != e {
			t.Fatalf("Epoch() = %d, want %d", v.Epoch(), e)
		}
		orders = append(orders, epochIDs(t, v))
	}

	changed := false
	for _, ids := range orders {
		sorted := slices.Clone(ids)
		slices.Sort(sorted)
		if !reflect.DeepEqual(sorted, all) {
			t.Fatalf("epoch order %v is not a permutation of %v", ids, all)
		}
		if !reflect.DeepEqual(ids, first) {
			changed = true
		}
	}
	if !changed {
		t.Error("EndEpoch never changed the order")
	}

	again, err := Open(dir, Options{BatchSize: 3, Shuffle: true, Seed: 42})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := epochIDs(t, again); !reflect.DeepEqual(got, first) {
		t.Errorf("same seed gave order %v, want %v", got, first)
	}
}

func TestEndEpoch_NoShuffleKeepsOrder(t *testing.T) {
	v, err := Open(cohortDir(t, 5), Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	before := epochIDs(t, v)
	v.EndEpoch()
	if after := epochIDs(t, v); !reflect.DeepEqual(before, after) {
		t.Errorf("order changed without shuffle: %v -> %v", before, after)
	}
	if !reflect.DeepEqual(before, v.CaseIDs()) {
		t.Errorf("unshuffled order %v, want sorted", before)
	}
}

func TestBatch_ConcurrentWithEndEpoch(t *testing.T) {
	v, err := Open(cohortDir(t, 6), Options{BatchSize: 2, Shuffle: true, Seed: 1, CacheSize: 6})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4*v.Len())
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < v.Len(); i++ {
				if _, err := v.Batch(i); err != nil {
					errs <- err
				}
			}
		}()
	}
	for e := 0; e < 10; e++ {
		v.EndEpoch()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Batch() error = %v", err)
	}
}

func TestVoxelSpacings(t *testing.T) {
	dir := cohortDir(t, 3)
	v, err := Open(dir, Options{Shuffle: true, Seed: 3})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	spacings, err := v.VoxelSpacings()
	if err != nil {
		t.Fatalf("VoxelSpacings() error = %v", err)
	}
	// base is i*100, so the slice spacing is (i*100)%7 + 1.
	want := []volume.Spacing{
		{Row: 0.5, Col: 0.75, Slice: 1},
		{Row: 0.5, Col: 0.75, Slice: 3},
		{Row: 0.5, Col: 0.75, Slice: 5},
	}
	if !reflect.DeepEqual(spacings, want) {
		t.Errorf("VoxelSpacings() = %v, want %v", spacings, want)
	}
	if _, err := v.VoxelSpacing(3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("VoxelSpacing(3) error = %v, want ErrIndexOutOfRange", err)
	}
}
