package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/mrsinham/lctscprep/internal/archive"
	"github.com/mrsinham/lctscprep/internal/assembler"
	"github.com/mrsinham/lctscprep/internal/config"
	"github.com/mrsinham/lctscprep/internal/metadata"
	"github.com/mrsinham/lctscprep/internal/report"
	"github.com/mrsinham/lctscprep/internal/rtstruct"
)

// LockFileName is the lock held inside the output directory during a run.
const LockFileName = ".lctscprep.lock"

type preprocessFlags struct {
	output        string
	emptyPolicy   string
	combine       string
	workers       int
	loadWorkers   int
	skipExisting  bool
	allowUnlinked bool
	plot          bool
}

func newPreprocessCommand(ctx *commandContext) *cobra.Command {
	var flags preprocessFlags

	cmd := &cobra.Command{
		Use:   "preprocess [metadata_file] [base_path]",
		Short: "Convert the cases of a metadata table into HDF5 archives",
		Long: "Reads a TCIA manifest or a wide PatientID/CTPath/RTSTRUCTPath table, " +
			"loads every CT series with its structure set and writes one archive per case. " +
			"Cases that fail are reported and skipped; the command only fails on setup errors.",
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := applyPreprocessFlags(cmd, cfg, &flags, args); err != nil {
				return err
			}
			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}
			return runPreprocess(cmd, cfg, flags.plot, logger)
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output directory for case archives")
	cmd.Flags().StringVar(&flags.emptyPolicy, "empty-policy", "", "Cases without valid ROIs: skip or volume-only")
	cmd.Flags().StringVar(&flags.combine, "combine", "", "Contours on one slice: union or xor")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "Cases processed in parallel")
	cmd.Flags().IntVar(&flags.loadWorkers, "load-workers", 0, "DICOM files parsed in parallel per case")
	cmd.Flags().BoolVar(&flags.skipExisting, "skip-existing", false, "Keep archives that already exist")
	cmd.Flags().BoolVar(&flags.allowUnlinked, "allow-unlinked", false, "Accept structure sets without series references")
	cmd.Flags().BoolVar(&flags.plot, "plot", false, "Print per-ROI coverage of every written case")

	return cmd
}

// applyPreprocessFlags overrides cfg with positional arguments and the
// flags set on the command line.
func applyPreprocessFlags(cmd *cobra.Command, cfg *config.Config, flags *preprocessFlags, args []string) error {
	if len(args) > 0 {
		cfg.Input.Metadata = args[0]
	}
	if len(args) > 1 {
		cfg.Input.BasePath = args[1]
	}
	if cfg.Input.Metadata == "" {
		return errors.New("no metadata file given (argument or input.metadata)")
	}
	if cfg.Input.BasePath == "" {
		cfg.Input.BasePath = filepath.Dir(cfg.Input.Metadata)
	}

	set := cmd.Flags().Changed
	if set("output") {
		cfg.Output.Dir = flags.output
	}
	if set("empty-policy") {
		cfg.Preprocess.EmptyPolicy = flags.emptyPolicy
	}
	if set("combine") {
		cfg.Preprocess.Combine = flags.combine
	}
	if set("workers") {
		cfg.Preprocess.Workers = flags.workers
	}
	if set("load-workers") {
		cfg.Preprocess.LoadWorkers = flags.loadWorkers
	}
	if set("skip-existing") {
		cfg.Output.SkipExisting = flags.skipExisting
	}
	if set("allow-unlinked") {
		cfg.Preprocess.AllowUnlinked = flags.allowUnlinked
	}
	return cfg.Validate()
}

func runPreprocess(cmd *cobra.Command, cfg *config.Config, plot bool, logger *slog.Logger) error {
	policy, err := assembler.ParseEmptyPolicy(cfg.Preprocess.EmptyPolicy)
	if err != nil {
		return err
	}
	combine, err := rtstruct.ParseCombine(cfg.Preprocess.Combine)
	if err != nil {
		return err
	}

	cases, err := metadata.ReadFile(cfg.Input.Metadata, cfg.Input.BasePath)
	if err != nil {
		return err
	}
	if err := cfg.EnsureOutputDir(); err != nil {
		return err
	}

	lockPath := filepath.Join(cfg.Output.Dir, LockFileName)
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another preprocess run holds %s", lockPath)
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Warn("failed to release output lock", "path", lockPath, "error", err)
		}
	}()

	runID := uuid.NewString()
	logger = logger.With("run_id", runID)
	logger.Info("preprocess started",
		"metadata", cfg.Input.Metadata,
		"base_path", cfg.Input.BasePath,
		"output", cfg.Output.Dir,
		"cases", len(cases),
		"workers", cfg.Preprocess.Workers)

	out := cmd.OutOrStdout()
	color := colorize(out)
	a := assembler.New(assembler.Options{
		OutputDir:     cfg.Output.Dir,
		EmptyPolicy:   policy,
		SkipExisting:  cfg.Output.SkipExisting,
		Workers:       cfg.Preprocess.Workers,
		LoadWorkers:   cfg.Preprocess.LoadWorkers,
		Combine:       combine,
		AllowUnlinked: cfg.Preprocess.AllowUnlinked,
		OnOutcome: func(o assembler.Outcome) {
			fmt.Fprintln(out, outcomeLine(o, color))
		},
	}, logger)

	summary := a.Run(cmd.Context(), cases)

	fmt.Fprintln(out)
	fmt.Fprintln(out, summary.StatusTable())
	if failures := summary.FailureTable(); failures != "" {
		fmt.Fprintln(out, "Dropped ROIs:")
		fmt.Fprintln(out, failures)
	}
	if plot {
		printCoverage(out, summary, logger)
	}

	logger.Info("preprocess finished",
		"written", summary.Count(assembler.StatusWritten),
		"failed", summary.Count(assembler.StatusFailed),
		"skipped", len(cases)-summary.Count(assembler.StatusWritten)-summary.Count(assembler.StatusFailed))
	return cmd.Context().Err()
}

func outcomeLine(o assembler.Outcome, color bool) string {
	switch o.Status {
	case assembler.StatusWritten:
		msg := fmt.Sprintf("Saved %s (%d ROIs)", o.CaseID, len(o.ROIs))
		if len(o.Failures) > 0 {
			msg += fmt.Sprintf(", dropped %d", len(o.Failures))
		}
		return report.StatusLine(report.MarkerOK, msg, color)
	case assembler.StatusSkippedExisting:
		return report.StatusLine(report.MarkerOK, fmt.Sprintf("Kept existing %s", o.CaseID), color)
	default:
		msg := fmt.Sprintf("%s: %s", o.CaseID, o.Status)
		if o.Err != nil {
			msg += ": " + o.Err.Error()
		}
		return report.StatusLine(report.MarkerWarn, msg, color)
	}
}

// printCoverage prints the ROI coverage table of every written case.
func printCoverage(w io.Writer, summary assembler.Summary, logger *slog.Logger) {
	for _, o := range summary.Outcomes {
		if o.Status != assembler.StatusWritten {
			continue
		}
		rec, err := archive.Read(o.Path)
		if err != nil {
			logger.Warn("could not read archive for coverage", "case", o.CaseID, "path", o.Path, "error", err)
			continue
		}
		fmt.Fprintf(w, "\n%s  %s  spacing %.3g x %.3g x %.3g mm\n",
			o.CaseID, rec.Shape, rec.Spacing.Row, rec.Spacing.Col, rec.Spacing.Slice)
		if len(rec.Masks) == 0 {
			fmt.Fprintln(w, "no ROI masks")
			continue
		}
		fmt.Fprintln(w, report.CoverageTable(report.CaseCoverage(rec)))
	}
}
