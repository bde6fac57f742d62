// Package assembler turns metadata cases into persisted case archives. For
// each case it loads the CT volume, resolves every ROI of the structure set
// and writes one archive holding the volume and the masks that succeeded.
package assembler

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mrsinham/lctscprep/internal/archive"
	"github.com/mrsinham/lctscprep/internal/logging"
	"github.com/mrsinham/lctscprep/internal/metadata"
	"github.com/mrsinham/lctscprep/internal/rtstruct"
	"github.com/mrsinham/lctscprep/internal/util"
	"github.com/mrsinham/lctscprep/internal/volume"
)

// EmptyPolicy decides what happens to a case without any valid ROI.
type EmptyPolicy string

const (
	// EmptySkip writes nothing for the case.
	EmptySkip EmptyPolicy = "skip"
	// EmptyVolumeOnly writes the volume with no masks.
	EmptyVolumeOnly EmptyPolicy = "volume-only"
)

// ParseEmptyPolicy maps a configuration value onto an EmptyPolicy. Empty
// means EmptySkip.
func ParseEmptyPolicy(s string) (EmptyPolicy, error) {
	switch p := EmptyPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return EmptySkip, nil
	case EmptySkip, EmptyVolumeOnly:
		return p, nil
	default:
		return EmptySkip, fmt.Errorf("empty policy: unsupported value %q", s)
	}
}

// Status is the final state of one case.
type Status int

const (
	StatusWritten Status = iota
	StatusSkippedMissingInput
	StatusSkippedNoROIs
	StatusSkippedExisting
	StatusFailed
	StatusCancelled
)

// Statuses lists every status in report order.
func Statuses() []Status {
	return []Status{StatusWritten, StatusSkippedMissingInput, StatusSkippedNoROIs,
		StatusSkippedExisting, StatusFailed, StatusCancelled}
}

func (s Status) String() string {
	switch s {
	case StatusWritten:
		return "written"
	case StatusSkippedMissingInput:
		return "skipped-missing-input"
	case StatusSkippedNoROIs:
		return "skipped-no-rois"
	case StatusSkippedExisting:
		return "skipped-existing"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ROIFailure is an ROI dropped from a case.
type ROIFailure struct {
	ROI string
	Err error
}

// Outcome reports what happened to one case.
type Outcome struct {
	CaseID string
	Status Status
	// Path is the archive path, set for written and existing archives.
	Path string
	// ROIs lists the masks stored in the archive, sorted.
	ROIs     []string
	Failures []ROIFailure
	// Err is the reason of a failed or skipped case.
	Err      error
	Duration time.Duration
}

// Options configures an Assembler.
type Options struct {
	OutputDir    string
	EmptyPolicy  EmptyPolicy
	SkipExisting bool
	// Workers is the number of cases processed concurrently by Run.
	// Values <= 1 process cases sequentially.
	Workers int
	// LoadWorkers is the number of DICOM files parsed concurrently per case.
	LoadWorkers   int
	Combine       rtstruct.Combine
	AllowUnlinked bool
	// OnOutcome is called by Run after each case, from one goroutine at a
	// time.
	OnOutcome func(Outcome)
}

// Assembler processes cases into archives.
type Assembler struct {
	opts   Options
	logger *slog.Logger
}

// New returns an Assembler. A nil logger discards logs.
func New(opts Options, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.EmptyPolicy == "" {
		opts.EmptyPolicy = EmptySkip
	}
	if opts.LoadWorkers <= 0 {
		opts.LoadWorkers = 1
	}
	return &Assembler{opts: opts, logger: logger}
}

// ArchivePath returns the path of the archive written for caseID.
func (a *Assembler) ArchivePath(caseID string) string {
	return filepath.Join(a.opts.OutputDir, util.CaseFileName(caseID))
}

// process runs the pipeline for one case. It never returns a zero Outcome.
func (a *Assembler) process(c metadata.Case, logger *slog.Logger) Outcome {
	out := Outcome{CaseID: c.ID}

	if err := checkInputs(c); err != nil {
		logger.Warn("skipping case: CT or RTSTRUCT path missing",
			"ct_path", c.CTPath, "rtstruct_path", c.RTStructPath, "error", err)
		out.Status = StatusSkippedMissingInput
		out.Err = err
		return out
	}

	path := a.ArchivePath(c.ID)
	if a.opts.SkipExisting {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			logger.Info("archive exists, skipping case", "path", path)
			out.Status = StatusSkippedExisting
			out.Path = path
			return out
		}
	}

	vol, err := volume.Load(c.CTPath, volume.Options{Workers: a.opts.LoadWorkers, Logger: logger})
	if err != nil {
		logger.Error("could not load CT volume", "path", c.CTPath, "error", err)
		out.Status = StatusFailed
		out.Err = fmt.Errorf("load volume: %w", err)
		return out
	}

	ss, err := rtstruct.Open(c.RTStructPath, vol, rtstruct.Options{
		Combine:       a.opts.Combine,
		AllowUnlinked: a.opts.AllowUnlinked,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("could not open structure set", "path", c.RTStructPath, "error", err)
		out.Status = StatusFailed
		out.Err = fmt.Errorf("open structure set: %w", err)
		return out
	}

	masks, failures := collectMasks(ss.ResolveAll(), c.ROINames, vol.Shape)
	for _, f := range failures {
		logger.Warn("could not extract ROI", "roi", f.ROI, "error", f.Err)
	}
	out.Failures = failures

	if len(masks) == 0 && a.opts.EmptyPolicy != EmptyVolumeOnly {
		logger.Warn("no valid ROIs found", "failures", len(failures))
		out.Status = StatusSkippedNoROIs
		out.Err = errors.New("no valid ROIs found")
		return out
	}

	rec := &archive.Record{
		CaseID:  c.ID,
		Shape:   vol.Shape,
		Spacing: vol.Spacing,
		Image:   vol.Data,
		Masks:   masks,
	}
	if err := archive.Write(path, rec); err != nil {
		logger.Error("could not write archive", "path", path, "error", err)
		out.Status = StatusFailed
		out.Err = fmt.Errorf("write archive: %w", err)
		return out
	}

	out.Status = StatusWritten
	out.Path = path
	out.ROIs = rec.MaskNames()
	logger.Info("saved case", "path", path, "rois", len(out.ROIs), "shape", vol.Shape.String())
	return out
}

// checkInputs verifies that the CT directory and the RTSTRUCT file exist.
func checkInputs(c metadata.Case) error {
	if c.CTPath == "" || c.RTStructPath == "" {
		return errors.New("metadata lists no CT or RTSTRUCT location")
	}
	info, err := os.Stat(c.CTPath)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", c.CTPath)
	}
	info, err = os.Stat(c.RTStructPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", c.RTStructPath)
	}
	return nil
}

// collectMasks keeps the successful results, restricted to wanted when it
// is not empty, and reports everything else as a failure.
func collectMasks(results []rtstruct.Result, wanted []string, shape volume.Shape) (map[string][]uint8, []ROIFailure) {
	masks := make(map[string][]uint8)
	keys := make(map[string]string)
	var failures []ROIFailure
	seen := make(map[string]bool)

	for _, res := range results {
		if len(wanted) > 0 && !slices.Contains(wanted, res.Name) {
			continue
		}
		seen[res.Name] = true
		if !res.OK() {
			failures = append(failures, ROIFailure{ROI: res.Name, Err: res.Err})
			continue
		}
		if err := res.Mask.CheckShape(shape); err != nil {
			failures = append(failures, ROIFailure{ROI: res.Name, Err: err})
			continue
		}
		key, err := archive.Key(res.Name)
		if err != nil {
			failures = append(failures, ROIFailure{ROI: res.Name, Err: err})
			continue
		}
		if other, taken := keys[key]; taken {
			failures = append(failures, ROIFailure{ROI: res.Name,
				Err: fmt.Errorf("archive key %q already used by ROI %q", key, other)})
			continue
		}
		keys[key] = res.Name
		masks[res.Name] = res.Mask.Data
	}

	for _, name := range wanted {
		if !seen[name] {
			seen[name] = true
			failures = append(failures, ROIFailure{ROI: name, Err: fmt.Errorf("%w %q", rtstruct.ErrUnknownROI, name)})
		}
	}
	return masks, failures
}
