package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrsinham/lctscprep/internal/report"
	"github.com/mrsinham/lctscprep/internal/synth"
)

type synthFlags struct {
	output    string
	cases     int
	slices    int
	size      int
	seed      uint64
	prefix    string
	site      int
	signed    bool
	workers   int
	defects   []string
	spacing   float64
	thickness float64
}

func newSynthCommand(ctx *commandContext) *cobra.Command {
	var flags synthFlags

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Write a synthetic lung CT cohort with a TCIA style metadata manifest",
		Long: "Generates phantom CT series and matching RTSTRUCT files. " +
			"--defect injects a failure into every case, or into case N only with name@N " +
			"(1-based). Known defects: " + defectNames() + ".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.output == "" {
				return errors.New("--output is required")
			}
			defectsFor, err := parseCaseDefects(flags.defects, flags.cases)
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}

			cases, err := synth.GenerateCohort(synth.CohortOptions{
				OutputDir: flags.output,
				Cases:     flags.cases,
				Prefix:    flags.prefix,
				Site:      flags.site,
				Seed:      flags.seed,
				Case: synth.Options{
					Size:           flags.size,
					Slices:         flags.slices,
					PixelSpacing:   flags.spacing,
					SliceThickness: flags.thickness,
					SignedPixels:   flags.signed,
					Workers:        flags.workers,
				},
				DefectsFor: defectsFor,
			})
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(cases))
			for _, c := range cases {
				defects := make([]string, len(c.Defects))
				for i, d := range c.Defects {
					defects[i] = string(d)
				}
				rows = append(rows, []string{c.ID, c.PatientName, c.Shape.String(), c.Manufacturer, strings.Join(defects, ",")})
				logger.Debug("generated case", "case", c.ID, "path", c.Dir)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, report.Table([]string{"Case", "Patient", "Shape", "Scanner", "Defects"}, rows, nil))
			fmt.Fprintf(out, "Wrote %d cases and %s\n", len(cases), filepath.Join(flags.output, synth.ManifestName))
			return nil
		},
	}

	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Cohort output directory (required)")
	cmd.Flags().IntVarP(&flags.cases, "cases", "n", 1, "Number of cases")
	cmd.Flags().IntVar(&flags.slices, "slices", 0, "Slices per case (default 12)")
	cmd.Flags().IntVar(&flags.size, "size", 0, "Rows and columns per slice (default 64)")
	cmd.Flags().Uint64Var(&flags.seed, "seed", 0, "Seed of the first case; case i uses seed+i")
	cmd.Flags().StringVar(&flags.prefix, "prefix", "", "Case identifier prefix")
	cmd.Flags().IntVar(&flags.site, "site", 1, "Site number in case identifiers")
	cmd.Flags().BoolVar(&flags.signed, "signed", false, "Store signed 16-bit pixels instead of 12-bit unsigned")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "Slice writers per case (default CPU count)")
	cmd.Flags().Float64Var(&flags.spacing, "pixel-spacing", 0, "In-plane pixel spacing in mm (default 1.5)")
	cmd.Flags().Float64Var(&flags.thickness, "slice-thickness", 0, "Slice thickness in mm (default 2.5)")
	cmd.Flags().StringArrayVar(&flags.defects, "defect", nil, "Defect to inject, name or name@N (repeatable)")

	return cmd
}

func defectNames() string {
	all := synth.AllDefects()
	names := make([]string, len(all))
	for i, d := range all {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}

// parseCaseDefects turns --defect values into a per-case defect function.
func parseCaseDefects(values []string, cases int) (func(int) []synth.Defect, error) {
	var global []synth.Defect
	perCase := make(map[int][]synth.Defect)

	for _, v := range values {
		name, target, scoped := strings.Cut(v, "@")
		parsed, err := synth.ParseDefects(name)
		if err != nil {
			return nil, err
		}
		if !scoped {
			global = append(global, parsed...)
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil || n < 1 || n > cases {
			return nil, fmt.Errorf("defect %q: case number must be between 1 and %d", v, cases)
		}
		perCase[n-1] = append(perCase[n-1], parsed...)
	}

	if len(global) == 0 && len(perCase) == 0 {
		return nil, nil
	}
	return func(i int) []synth.Defect {
		out := append([]synth.Defect(nil), global...)
		return append(out, perCase[i]...)
	}, nil
}
