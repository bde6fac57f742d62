// Package archive persists case records as self-describing HDF5 files.
//
// Layout, all datasets at the root group:
//
//	/image      int32 [words]  HU volume, packed
//	/shape      int64 [3]      rows, cols, slices
//	/pixel_dim  float64 [3]    voxel spacing in axis order (mm)
//	/<roi>      int32 [words]  one binary mask per ROI, packed
//
// Packed arrays hold the byte-shuffled little-endian voxels, deflated with
// zlib and padded into int32 words. Voxel order is row-major over
// [rows, cols, slices]. Mask datasets carry the original ROI name in the
// roi_name attribute.
package archive

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/scigolib/hdf5"

	"github.com/mrsinham/lctscprep/internal/util"
	"github.com/mrsinham/lctscprep/internal/volume"
)

// Reserved dataset names.
const (
	KeyImage   = "image"
	KeyShape   = "shape"
	KeySpacing = "pixel_dim"
)

// AttrROIName is the mask attribute holding the ROI name as delineated.
const AttrROIName = "roi_name"

// deflateLevel is the zlib level applied to packed arrays.
const deflateLevel = 6

var (
	// ErrReservedKey is returned for ROI names that collide with a
	// reserved dataset name once sanitized.
	ErrReservedKey = errors.New("reserved archive key")
	// ErrInvalidKey is returned for ROI names that sanitize to nothing.
	ErrInvalidKey = errors.New("invalid archive key")
)

// Record is one persisted case: the HU volume, its spacing and the ROI
// masks keyed by name.
type Record struct {
	CaseID  string
	Shape   volume.Shape
	Spacing volume.Spacing
	Image   []int16
	Masks   map[string][]uint8
}

// MaskNames returns the ROI names of the record, sorted.
func (r *Record) MaskNames() []string {
	names := make([]string, 0, len(r.Masks))
	for name := range r.Masks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Mask returns the mask stored for an ROI. Names are matched exactly, then
// by their archive key, so "Lung R" finds a mask stored as "Lung R " too.
func (r *Record) Mask(name string) ([]uint8, bool) {
	if m, ok := r.Masks[name]; ok {
		return m, true
	}
	key := util.ArchiveKey(name)
	if key == "" {
		return nil, false
	}
	for stored, m := range r.Masks {
		if util.ArchiveKey(stored) == key {
			return m, true
		}
	}
	return nil, false
}

// Key returns the dataset name used for an ROI, or an error if the name
// cannot be stored.
func Key(roiName string) (string, error) {
	key := util.ArchiveKey(roiName)
	switch key {
	case "":
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, roiName)
	case KeyImage, KeyShape, KeySpacing:
		return "", fmt.Errorf("%w: %q", ErrReservedKey, roiName)
	}
	return key, nil
}

// Write stores rec at filePath. Data goes to a temporary sibling first and
// is renamed into place once complete, so filePath never holds a partial
// archive.
func Write(filePath string, rec *Record) (err error) {
	if err := validate(rec); err != nil {
		return err
	}

	keys := make(map[string]string, len(rec.Masks))
	for _, name := range rec.MaskNames() {
		key, err := Key(name)
		if err != nil {
			return err
		}
		for other, k := range keys {
			if k == key {
				return fmt.Errorf("ROI names %q and %q map to the same archive key %q", other, name, key)
			}
		}
		keys[name] = key
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), "."+filepath.Base(filePath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary archive: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	fw, err := hdf5.CreateForWrite(tmpPath, hdf5.CreateTruncate)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}

	if err := writeContents(fw, rec, keys); err != nil {
		_ = fw.Close()
		return err
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("move archive into place: %w", err)
	}
	return nil
}

func validate(rec *Record) error {
	if rec == nil {
		return errors.New("nil record")
	}
	if !rec.Shape.Valid() {
		return fmt.Errorf("invalid shape %s", rec.Shape)
	}
	if !rec.Spacing.Valid() {
		return fmt.Errorf("invalid spacing %v", rec.Spacing.Array())
	}
	if len(rec.Image) != rec.Shape.Len() {
		return fmt.Errorf("image holds %d voxels, shape %s needs %d", len(rec.Image), rec.Shape, rec.Shape.Len())
	}
	for name, m := range rec.Masks {
		if len(m) != rec.Shape.Len() {
			return fmt.Errorf("mask %q holds %d voxels, shape %s needs %d", name, len(m), rec.Shape, rec.Shape.Len())
		}
	}
	return nil
}

func writeContents(fw *hdf5.FileWriter, rec *Record, keys map[string]string) error {
	image := make([]byte, 2*len(rec.Image))
	for i, v := range rec.Image {
		binary.LittleEndian.PutUint16(image[2*i:], uint16(v))
	}
	if err := writePacked(fw, KeyImage, "", image, 2); err != nil {
		return err
	}

	shapeDS, err := fw.CreateDataset("/"+KeyShape, hdf5.Int64, []uint64{3})
	if err != nil {
		return fmt.Errorf("create %s: %w", KeyShape, err)
	}
	if err := shapeDS.Write([]int64{int64(rec.Shape.Rows), int64(rec.Shape.Cols), int64(rec.Shape.Slices)}); err != nil {
		return fmt.Errorf("write %s: %w", KeyShape, err)
	}

	spacing := rec.Spacing.Array()
	spacingDS, err := fw.CreateDataset("/"+KeySpacing, hdf5.Float64, []uint64{3})
	if err != nil {
		return fmt.Errorf("create %s: %w", KeySpacing, err)
	}
	if err := spacingDS.Write(spacing[:]); err != nil {
		return fmt.Errorf("write %s: %w", KeySpacing, err)
	}

	for _, name := range rec.MaskNames() {
		if err := writePacked(fw, keys[name], name, rec.Masks[name], 1); err != nil {
			return fmt.Errorf("ROI %q: %w", name, err)
		}
	}
	return nil
}

// writePacked stores raw as a packed int32 dataset. A non-empty roiName is
// recorded in the roi_name attribute.
func writePacked(fw *hdf5.FileWriter, name, roiName string, raw []byte, elemSize int) error {
	words, err := pack(raw, elemSize)
	if err != nil {
		return fmt.Errorf("compress %s: %w", name, err)
	}
	ds, err := fw.CreateDataset("/"+name, hdf5.Int32, []uint64{uint64(len(words))})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if roiName != "" {
		if err := ds.WriteAttribute(AttrROIName, roiName); err != nil {
			return fmt.Errorf("label %s: %w", name, err)
		}
	}
	if err := ds.Write(words); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// pack shuffles raw by element byte, deflates it and pads the stream into
// little-endian int32 words.
func pack(raw []byte, elemSize int) ([]int32, error) {
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, deflateLevel)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(shuffle(raw, elemSize)); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
	stream := buf.Bytes()
	words := make([]int32, len(stream)/4)
	for i := range words {
		words[i] = int32(binary.LittleEndian.Uint32(stream[4*i:]))
	}
	return words, nil
}

// unpack reverses pack. want is the expected voxel count.
func unpack(words []float64, want, elemSize int) ([]byte, error) {
	stream := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(stream[4*i:], uint32(int32(w)))
	}
	zr, err := zlib.NewReader(bytes.NewReader(stream))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	defer func() { _ = zr.Close() }()

	size := want * elemSize
	raw, err := io.ReadAll(io.LimitReader(zr, int64(size)+1))
	if err != nil {
		return nil, fmt.Errorf("inflate: %w", err)
	}
	if len(raw) != size {
		return nil, fmt.Errorf("holds %d bytes, want %d", len(raw), size)
	}
	return unshuffle(raw, elemSize), nil
}

// shuffle groups byte k of every element together, as the HDF5 shuffle
// filter does.
func shuffle(raw []byte, elemSize int) []byte {
	if elemSize == 1 {
		return raw
	}
	n := len(raw) / elemSize
	out := make([]byte, len(raw))
	for i := 0; i < n; i++ {
		for k := 0; k < elemSize; k++ {
			out[k*n+i] = raw[i*elemSize+k]
		}
	}
	return out
}

func unshuffle(data []byte, elemSize int) []byte {
	if elemSize == 1 {
		return data
	}
	n := len(data) / elemSize
	out := make([]byte, len(data))
	for i := 0; i < n; i++ {
		for k := 0; k < elemSize; k++ {
			out[i*elemSize+k] = data[k*n+i]
		}
	}
	return out
}

// Entry describes one dataset of an archive.
type Entry struct {
	Name string
	// ROI is the original ROI name of a mask dataset.
	ROI string
	// Len is the number of stored values after unpacking.
	Len int
	// Stored is the size on disk in bytes.
	Stored int
}

// openDatasets returns the root datasets of an archive keyed by name.
func openDatasets(filePath string) (*hdf5.File, map[string]*hdf5.Dataset, error) {
	f, err := hdf5.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open archive %s: %w", filePath, err)
	}
	datasets := make(map[string]*hdf5.Dataset)
	f.Walk(func(p string, obj hdf5.Object) {
		if ds, ok := obj.(*hdf5.Dataset); ok {
			datasets[path.Base(p)] = ds
		}
	})
	return f, datasets, nil
}

// roiName returns the ROI name recorded on a mask dataset, or the dataset
// name for archives written without one.
func roiName(name string, ds *hdf5.Dataset) string {
	v, err := ds.ReadAttribute(AttrROIName)
	if err != nil {
		return name
	}
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return name
}

func isReserved(name string) bool {
	switch name {
	case KeyImage, KeyShape, KeySpacing:
		return true
	}
	return false
}

// Read loads a complete record from filePath. Masks are keyed by their
// original ROI names.
func Read(filePath string) (*Record, error) {
	f, datasets, err := openDatasets(filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	rec := &Record{
		CaseID: util.CaseIDFromFileName(filepath.Base(filePath)),
		Masks:  make(map[string][]uint8),
	}
	if rec.Shape, err = readShape(datasets); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	if rec.Spacing, err = readSpacing(datasets); err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	image, err := readPacked(datasets, KeyImage, rec.Shape.Len(), 2)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	rec.Image = make([]int16, rec.Shape.Len())
	for i := range rec.Image {
		rec.Image[i] = int16(binary.LittleEndian.Uint16(image[2*i:]))
	}

	for name, ds := range datasets {
		if isReserved(name) {
			continue
		}
		mask, err := readPacked(datasets, name, rec.Shape.Len(), 1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filePath, err)
		}
		for i, v := range mask {
			if v != 0 {
				mask[i] = 1
			}
		}
		roi := roiName(name, ds)
		if _, dup := rec.Masks[roi]; dup {
			return nil, fmt.Errorf("%s: ROI %q stored twice", filePath, roi)
		}
		rec.Masks[roi] = mask
	}
	return rec, nil
}

// ReadSpacing returns only the voxel spacing stored in an archive.
func ReadSpacing(filePath string) (volume.Spacing, error) {
	f, datasets, err := openDatasets(filePath)
	if err != nil {
		return volume.Spacing{}, err
	}
	defer func() { _ = f.Close() }()

	sp, err := readSpacing(datasets)
	if err != nil {
		return volume.Spacing{}, fmt.Errorf("%s: %w", filePath, err)
	}
	return sp, nil
}

// List returns the datasets stored in an archive, sorted by name.
func List(filePath string) ([]Entry, error) {
	f, datasets, err := openDatasets(filePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	shape, err := readShape(datasets)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}

	entries := make([]Entry, 0, len(datasets))
	for name, ds := range datasets {
		values, err := ds.Read()
		if err != nil {
			return nil, fmt.Errorf("%s: read %s: %w", filePath, name, err)
		}
		e := Entry{Name: name, Len: len(values), Stored: 8 * len(values)}
		switch name {
		case KeyShape, KeySpacing:
		default:
			elemSize := 1
			if name == KeyImage {
				elemSize = 2
			} else {
				e.ROI = roiName(name, ds)
			}
			if _, err := unpack(values, shape.Len(), elemSize); err != nil {
				return nil, fmt.Errorf("%s: dataset %q: %w", filePath, name, err)
			}
			e.Len = shape.Len()
			e.Stored = 4 * len(values)
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func readShape(datasets map[string]*hdf5.Dataset) (volume.Shape, error) {
	v, err := readArray(datasets, KeyShape, 3)
	if err != nil {
		return volume.Shape{}, err
	}
	shape := volume.Shape{Rows: int(v[0]), Cols: int(v[1]), Slices: int(v[2])}
	if !shape.Valid() {
		return volume.Shape{}, fmt.Errorf("invalid stored shape %v", v)
	}
	return shape, nil
}

func readSpacing(datasets map[string]*hdf5.Dataset) (volume.Spacing, error) {
	v, err := readArray(datasets, KeySpacing, 3)
	if err != nil {
		return volume.Spacing{}, err
	}
	sp := volume.Spacing{Row: v[0], Col: v[1], Slice: v[2]}
	if !sp.Valid() {
		return volume.Spacing{}, fmt.Errorf("invalid stored spacing %v", v)
	}
	return sp, nil
}

func readArray(datasets map[string]*hdf5.Dataset, name string, want int) ([]float64, error) {
	ds, ok := datasets[name]
	if !ok {
		return nil, fmt.Errorf("missing dataset %q", name)
	}
	values, err := ds.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if len(values) != want {
		return nil, fmt.Errorf("dataset %q holds %d values, want %d", name, len(values), want)
	}
	return values, nil
}

func readPacked(datasets map[string]*hdf5.Dataset, name string, want, elemSize int) ([]byte, error) {
	ds, ok := datasets[name]
	if !ok {
		return nil, fmt.Errorf("missing dataset %q", name)
	}
	words, err := ds.Read()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	raw, err := unpack(words, want, elemSize)
	if err != nil {
		return nil, fmt.Errorf("dataset %q: %w", name, err)
	}
	return raw, nil
}
