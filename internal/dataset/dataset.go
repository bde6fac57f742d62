// Package dataset serves batches of preprocessed cases read from a
// directory of case archives.
//
// The directory is enumerated once, at Open. Cases are ordered by file name
// and batches follow that order, or a shuffled copy of it when shuffling is
// enabled. The order only changes on EndEpoch.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"github.com/mrsinham/lctscprep/internal/archive"
	"github.com/mrsinham/lctscprep/internal/util"
	"github.com/mrsinham/lctscprep/internal/volume"
)

var (
	// ErrIndexOutOfRange is returned for batch or case indexes outside the
	// dataset.
	ErrIndexOutOfRange = errors.New("index out of range")
	// ErrShapeMismatch is returned when the cases of one batch have
	// different volume shapes.
	ErrShapeMismatch = errors.New("cases of a batch have different shapes")
	// ErrMissingLabel is returned when RequireLabels is set and an archive
	// lacks one of the label ROIs.
	ErrMissingLabel = errors.New("label ROI missing from archive")
)

// DefaultLabelROIs are the ROIs merged into the label when Options names
// none.
var DefaultLabelROIs = []string{"Lung_R", "Lung_L"}

// Options fixes the behavior of a View at construction.
type Options struct {
	BatchSize int // default 1
	Shuffle   bool
	// LabelROIs are merged into one binary label. Default DefaultLabelROIs.
	LabelROIs []string
	Seed      uint64
	// CacheSize is the number of decoded archives kept in memory. Zero
	// disables caching.
	CacheSize int
	// RequireLabels fails a batch whose archives lack a label ROI.
	RequireLabels bool
}

// Tensor is a dense float32 array in row-major order.
type Tensor struct {
	// Shape is [batch, rows, cols, slices, 1].
	Shape [5]int
	Data  []float32
}

// Batch is one retrieval: images, their labels and the case identifiers.
type Batch struct {
	Images  Tensor
	Labels  Tensor
	CaseIDs []string
}

// View is a read-only batch view over an archive directory. It is safe for
// concurrent use.
type View struct {
	dir   string
	paths []string
	ids   []string
	opts  Options
	cache *lru.Cache

	mu    sync.RWMutex
	order []int
	epoch int
	rng   *rand.Rand
}

// Open enumerates the archives in dir.
func Open(dir string, opts Options) (*View, error) {
	if opts.BatchSize == 0 {
		opts.BatchSize = 1
	}
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1, got %d", opts.BatchSize)
	}
	if opts.CacheSize < 0 {
		return nil, fmt.Errorf("cache size must be >= 0, got %d", opts.CacheSize)
	}
	if len(opts.LabelROIs) == 0 {
		opts.LabelROIs = DefaultLabelROIs
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, util.ArchiveExt) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	v := &View{
		dir:  dir,
		opts: opts,
		rng:  rand.New(rand.NewPCG(opts.Seed, opts.Seed)),
	}
	for _, name := range names {
		v.paths = append(v.paths, filepath.Join(dir, name))
		v.ids = append(v.ids, util.CaseIDFromFileName(name))
	}
	if opts.CacheSize > 0 {
		if v.cache, err = lru.New(opts.CacheSize); err != nil {
			return nil, fmt.Errorf("dataset cache: %w", err)
		}
	}

	v.order = make([]int, len(v.paths))
	for i := range v.order {
		v.order[i] = i
	}
	if opts.Shuffle {
		v.rng.Shuffle(len(v.order), func(i, j int) { v.order[i], v.order[j] = v.order[j], v.order[i] })
	}
	return v, nil
}

// Dir returns the archive directory.
func (v *View) Dir() string { return v.dir }

// Cases returns the number of archives.
func (v *View) Cases() int { return len(v.paths) }

// CaseIDs returns the case identifiers in sorted order.
func (v *View) CaseIDs() []string { return slices.Clone(v.ids) }

// Len returns the number of batches per epoch.
func (v *View) Len() int {
	return (len(v.paths) + v.opts.BatchSize - 1) / v.opts.BatchSize
}

// Epoch returns the number of completed epochs.
func (v *View) Epoch() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.epoch
}

// EndEpoch marks the end of an epoch. With shuffling enabled it installs a
// freshly shuffled order; batches already being read keep the old one.
func (v *View) EndEpoch() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.epoch++
	if !v.opts.Shuffle {
		return
	}
	next := slices.Clone(v.order)
	v.rng.Shuffle(len(next), func(i, j int) { next[i], next[j] = next[j], next[i] })
	v.order = next
}

// Batch returns batch i of the current epoch. The last batch holds the
// remaining cases and may be smaller than the batch size.
func (v *View) Batch(i int) (*Batch, error) {
	if i < 0 || i >= v.Len() {
		return nil, fmt.Errorf("%w: batch %d of %d", ErrIndexOutOfRange, i, v.Len())
	}

	v.mu.RLock()
	order := v.order
	v.mu.RUnlock()

	start := i * v.opts.BatchSize
	end := min(start+v.opts.BatchSize, len(order))
	indexes := order[start:end]

	records := make([]*archive.Record, len(indexes))
	for j, idx := range indexes {
		rec, err := v.record(idx)
		if err != nil {
			return nil, err
		}
		if j > 0 && rec.Shape != records[0].Shape {
			return nil, fmt.Errorf("%w: %s is %s, %s is %s", ErrShapeMismatch,
				v.ids[indexes[0]], records[0].Shape, v.ids[idx], rec.Shape)
		}
		records[j] = rec
	}

	shape := records[0].Shape
	n := shape.Len()
	dims := [5]int{len(records), shape.Rows, shape.Cols, shape.Slices, 1}
	b := &Batch{
		Images:  Tensor{Shape: dims, Data: make([]float32, len(records)*n)},
		Labels:  Tensor{Shape: dims, Data: make([]float32, len(records)*n)},
		CaseIDs: make([]string, len(records)),
	}
	for j, rec := range records {
		b.CaseIDs[j] = v.ids[indexes[j]]
		img := b.Images.Data[j*n : (j+1)*n]
		for k, hu := range rec.Image {
			img[k] = float32(hu)
		}
		if err := v.label(rec, b.CaseIDs[j], b.Labels.Data[j*n:(j+1)*n]); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// label merges the configured masks of rec into dst.
func (v *View) label(rec *archive.Record, caseID string, dst []float32) error {
	for _, roi := range v.opts.LabelROIs {
		mask, ok := rec.Mask(roi)
		if !ok {
			if v.opts.RequireLabels {
				return fmt.Errorf("%w: case %s has no %q", ErrMissingLabel, caseID, roi)
			}
			continue
		}
		for idx, m := range mask {
			if m != 0 {
				dst[idx] = 1
			}
		}
	}
	return nil
}

// record returns the decoded archive of case idx, from the cache when
// possible.
func (v *View) record(idx int) (*archive.Record, error) {
	path := v.paths[idx]
	if v.cache != nil {
		if cached, ok := v.cache.Get(path); ok {
			return cached.(*archive.Record), nil
		}
	}
	rec, err := archive.Read(path)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", v.ids[idx], err)
	}
	if v.cache != nil {
		v.cache.Add(path, rec)
	}
	return rec, nil
}

// VoxelSpacing returns the spacing of case i in sorted order.
func (v *View) VoxelSpacing(i int) (volume.Spacing, error) {
	if i < 0 || i >= len(v.paths) {
		return volume.Spacing{}, fmt.Errorf("%w: case %d of %d", ErrIndexOutOfRange, i, len(v.paths))
	}
	if v.cache != nil {
		if cached, ok := v.cache.Get(v.paths[i]); ok {
			return cached.(*archive.Record).Spacing, nil
		}
	}
	sp, err := archive.ReadSpacing(v.paths[i])
	if err != nil {
		return volume.Spacing{}, fmt.Errorf("case %s: %w", v.ids[i], err)
	}
	return sp, nil
}

// VoxelSpacings returns the spacing of every case in sorted order.
func (v *View) VoxelSpacings() ([]volume.Spacing, error) {
	out := make([]volume.Spacing, len(v.paths))
	for i := range v.paths {
		sp, err := v.VoxelSpacing(i)
		if err != nil {
			return nil, err
		}
		out[i] = sp
	}
	return out, nil
}
