package volume

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/mrsinham/lctscprep/internal/logging"
)

// ErrNoSeries is returned when a directory holds no readable CT slices.
var ErrNoSeries = errors.New("no DICOM series found")

const (
	// positionTolerance is the minimum separation in mm between two slices.
	positionTolerance = 1e-3
	// orientationTolerance bounds the deviation of direction cosines
	// between slices of one series.
	orientationTolerance = 1e-3
	// spacingTolerance bounds the difference in PixelSpacing between slices.
	spacingTolerance = 1e-4
)

// Options configures Load.
type Options struct {
	// Workers is the number of files parsed concurrently. Values <= 0 use
	// runtime.NumCPU().
	Workers int
	Logger  *slog.Logger
}

// Load reads the CT series stored in dir. When several series share the
// directory the one with the most slices is used.
func Load(dir string, opts Options) (*Volume, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ct series: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ct series: %s is not a directory", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ct series: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	slices := parseSlices(paths, opts.Workers, logger)
	if len(slices) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoSeries, dir)
	}

	series := selectSeries(slices, logger)
	vol, err := assemble(series, logger)
	if err != nil {
		return nil, fmt.Errorf("series %s: %w", series[0].seriesUID, err)
	}

	logger.Debug("loaded ct series",
		"path", dir,
		"series", vol.Geometry.SeriesInstanceUID,
		"shape", vol.Shape.String(),
		"spacing", vol.Spacing.Array())
	return vol, nil
}

// parseSlices reads all files with a fixed pool of workers and returns the
// image slices in input order. Unreadable and non-image files are skipped.
func parseSlices(paths []string, workers int, logger *slog.Logger) []*sliceFile {
	if len(paths) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(paths) {
		workers = len(paths)
	}

	taskChan := make(chan int, len(paths))
	results := make([]*sliceFile, len(paths))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range taskChan {
				sf, err := readSlice(paths[i])
				switch {
				case errors.Is(err, errNotImage):
					logger.Debug("skipping non-image instance", "path", paths[i])
				case err != nil:
					logger.Debug("skipping unreadable file", "path", paths[i], "error", err)
				default:
					results[i] = sf
				}
			}
		}()
	}

	for i := range paths {
		taskChan <- i
	}
	close(taskChan)
	wg.Wait()

	out := results[:0]
	for _, sf := range results {
		if sf != nil {
			out = append(out, sf)
		}
	}
	return out
}

// selectSeries groups slices by SeriesInstanceUID and returns the largest
// group. Equal sizes resolve to the smallest UID.
func selectSeries(slices []*sliceFile, logger *slog.Logger) []*sliceFile {
	groups := make(map[string][]*sliceFile)
	for _, sf := range slices {
		groups[sf.seriesUID] = append(groups[sf.seriesUID], sf)
	}

	uids := make([]string, 0, len(groups))
	for uid := range groups {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool {
		a, b := len(groups[uids[i]]), len(groups[uids[j]])
		if a != b {
			return a > b
		}
		return uids[i] < uids[j]
	})

	if len(uids) > 1 {
		logger.Warn("directory holds several series, using the largest",
			"series", uids[0],
			"ignored", uids[1:])
	}
	return groups[uids[0]]
}

// assemble orders the slices of one series and builds the volume.
func assemble(slices []*sliceFile, logger *slog.Logger) (*Volume, error) {
	first := slices[0]
	for _, sf := range slices[1:] {
		if sf.rows != first.rows || sf.cols != first.cols {
			return nil, fmt.Errorf("slice %s is %dx%d, expected %dx%d",
				filepath.Base(sf.path), sf.rows, sf.cols, first.rows, first.cols)
		}
		if math.Abs(sf.pixelSpacing[0]-first.pixelSpacing[0]) > spacingTolerance ||
			math.Abs(sf.pixelSpacing[1]-first.pixelSpacing[1]) > spacingTolerance {
			return nil, fmt.Errorf("slice %s has pixel spacing %v, expected %v",
				filepath.Base(sf.path), sf.pixelSpacing, first.pixelSpacing)
		}
	}

	geo, sliceSpacing, err := orderSlices(slices, logger)
	if err != nil {
		return nil, err
	}

	vol := &Volume{
		Shape:    Shape{Rows: first.rows, Cols: first.cols, Slices: len(slices)},
		Spacing:  Spacing{Row: first.pixelSpacing[0], Col: first.pixelSpacing[1], Slice: sliceSpacing},
		Geometry: geo,
	}
	if !vol.Shape.Valid() {
		return nil, fmt.Errorf("degenerate shape %s", vol.Shape)
	}
	if !vol.Spacing.Valid() {
		return nil, fmt.Errorf("invalid voxel spacing %v", vol.Spacing.Array())
	}

	n := vol.Shape.Slices
	vol.Data = make([]int16, vol.Shape.Len())
	for s, sf := range slices {
		for i, raw := range sf.samples[:first.rows*first.cols] {
			vol.Data[i*n+s] = toHU(raw, sf.slope, sf.intercept)
		}
	}
	return vol, nil
}

// orderSlices sorts slices in place along the slice normal and returns the
// resulting geometry and slice spacing. Without usable positions, slices
// are ordered by InstanceNumber and placed on a regular grid.
func orderSlices(slices []*sliceFile, logger *slog.Logger) (Geometry, float64, error) {
	first := slices[0]
	geo := Geometry{
		SeriesInstanceUID:   first.seriesUID,
		StudyInstanceUID:    first.studyUID,
		FrameOfReferenceUID: first.frameUID,
		RowCosine:           r3.Vec{X: 1},
		ColCosine:           r3.Vec{Y: 1},
	}

	positioned := true
	for _, sf := range slices {
		if !sf.hasPosition || !sf.hasOrientation {
			positioned = false
			break
		}
	}

	if positioned {
		geo.RowCosine, geo.ColCosine = first.rowCos, first.colCos
		for _, sf := range slices[1:] {
			if r3.Norm(r3.Sub(sf.rowCos, first.rowCos)) > orientationTolerance ||
				r3.Norm(r3.Sub(sf.colCos, first.colCos)) > orientationTolerance {
				return geo, 0, fmt.Errorf("slice %s has a different orientation", filepath.Base(sf.path))
			}
		}
	}
	geo.Normal = r3.Unit(r3.Cross(geo.RowCosine, geo.ColCosine))

	var spacing float64
	if positioned {
		sort.SliceStable(slices, func(i, j int) bool {
			return r3.Dot(slices[i].position, geo.Normal) < r3.Dot(slices[j].position, geo.Normal)
		})
		for i := 1; i < len(slices); i++ {
			gap := r3.Dot(r3.Sub(slices[i].position, slices[i-1].position), geo.Normal)
			if gap < positionTolerance {
				return geo, 0, fmt.Errorf("slices %s and %s share position %v",
					filepath.Base(slices[i-1].path), filepath.Base(slices[i].path), slices[i].position)
			}
		}
		for _, sf := range slices {
			geo.Origins = append(geo.Origins, sf.position)
		}
		if n := len(slices); n > 1 {
			span := r3.Dot(r3.Sub(slices[n-1].position, slices[0].position), geo.Normal)
			spacing = span / float64(n-1)
			warnIrregular(slices, geo.Normal, spacing, logger)
		} else {
			spacing = fallbackSpacing(first)
		}
	} else {
		logger.Warn("slice positions unavailable, ordering by InstanceNumber", "series", first.seriesUID)
		sort.SliceStable(slices, func(i, j int) bool {
			return slices[i].instance < slices[j].instance
		})
		spacing = fallbackSpacing(first)
		origin := first.position
		for i := range slices {
			geo.Origins = append(geo.Origins, r3.Add(origin, r3.Scale(float64(i)*spacing, geo.Normal)))
		}
	}

	for _, sf := range slices {
		geo.SOPInstanceUIDs = append(geo.SOPInstanceUIDs, sf.sopUID)
	}
	return geo, spacing, nil
}

func fallbackSpacing(sf *sliceFile) float64 {
	switch {
	case sf.spacingBetween > 0:
		return sf.spacingBetween
	case sf.thickness > 0:
		return sf.thickness
	default:
		return 1.0
	}
}

// warnIrregular logs when consecutive gaps deviate from the mean spacing
// by more than 1%.
func warnIrregular(slices []*sliceFile, normal r3.Vec, mean float64, logger *slog.Logger) {
	worst := 0.0
	for i := 1; i < len(slices); i++ {
		gap := r3.Dot(r3.Sub(slices[i].position, slices[i-1].position), normal)
		worst = math.Max(worst, math.Abs(gap-mean))
	}
	if worst > 0.01*mean {
		logger.Warn("irregular slice spacing", "series", slices[0].seriesUID, "mean", mean, "max_deviation", worst)
	}
}

// toHU applies the rescale transform and clamps to the int16 range.
func toHU(raw int32, slope, intercept float64) int16 {
	hu := math.Round(float64(raw)*slope + intercept)
	switch {
	case hu < math.MinInt16:
		return math.MinInt16
	case hu > math.MaxInt16:
		return math.MaxInt16
	}
	return int16(hu)
}
