package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrsinham/lctscprep/internal/dataset"
	"github.com/mrsinham/lctscprep/internal/report"
)

type datasetFlags struct {
	batchSize     int
	shuffle       bool
	seed          uint64
	labelROIs     []string
	cacheSize     int
	requireLabels bool
	epochs        int
}

func newDatasetCommand(ctx *commandContext) *cobra.Command {
	var flags datasetFlags

	cmd := &cobra.Command{
		Use:   "dataset <dir>",
		Short: "Show how a directory of case archives is batched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}

			opts := dataset.Options{
				BatchSize:     cfg.Dataset.BatchSize,
				Shuffle:       cfg.Dataset.Shuffle,
				LabelROIs:     cfg.Dataset.LabelROIs,
				Seed:          cfg.Dataset.Seed,
				CacheSize:     cfg.Dataset.CacheSize,
				RequireLabels: cfg.Dataset.RequireLabels,
			}
			set := cmd.Flags().Changed
			if set("batch-size") {
				opts.BatchSize = flags.batchSize
			}
			if set("shuffle") {
				opts.Shuffle = flags.shuffle
			}
			if set("seed") {
				opts.Seed = flags.seed
			}
			if set("label-roi") {
				opts.LabelROIs = flags.labelROIs
			}
			if set("cache-size") {
				opts.CacheSize = flags.cacheSize
			}
			if set("require-labels") {
				opts.RequireLabels = flags.requireLabels
			}
			if flags.epochs < 1 {
				return fmt.Errorf("--epochs must be >= 1, got %d", flags.epochs)
			}

			view, err := dataset.Open(args[0], opts)
			if err != nil {
				return err
			}
			logger.Debug("opened dataset", "path", view.Dir(), "cases", view.Cases(), "batches", view.Len())

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d cases in %d batches of up to %d\n", view.Cases(), view.Len(), opts.BatchSize)

			for e := 0; e < flags.epochs; e++ {
				rows := make([][]string, 0, view.Len())
				for i := 0; i < view.Len(); i++ {
					b, err := view.Batch(i)
					if err != nil {
						return err
					}
					labelled := 0
					for _, v := range b.Labels.Data {
						if v != 0 {
							labelled++
						}
					}
					rows = append(rows, []string{
						strconv.Itoa(i),
						strings.Join(b.CaseIDs, ", "),
						fmt.Sprint(b.Images.Shape),
						strconv.Itoa(labelled),
					})
				}
				fmt.Fprintf(out, "\nEpoch %d\n", view.Epoch()+1)
				fmt.Fprintln(out, report.Table([]string{"Batch", "Cases", "Tensor", "Label voxels"}, rows,
					[]report.Align{report.AlignRight, report.AlignLeft, report.AlignLeft, report.AlignRight}))
				view.EndEpoch()
			}

			spacings, err := view.VoxelSpacings()
			if err != nil {
				return err
			}
			ids := view.CaseIDs()
			rows := make([][]string, 0, len(spacings))
			for i, sp := range spacings {
				rows = append(rows, []string{ids[i], fmt.Sprintf("%g", sp.Row), fmt.Sprintf("%g", sp.Col), fmt.Sprintf("%g", sp.Slice)})
			}
			fmt.Fprintln(out, "\nVoxel spacing (mm)")
			fmt.Fprintln(out, report.Table([]string{"Case", "Row", "Col", "Slice"}, rows,
				[]report.Align{report.AlignLeft, report.AlignRight, report.AlignRight, report.AlignRight}))
			return nil
		},
	}

	cmd.Flags().IntVarP(&flags.batchSize, "batch-size", "b", 1, "Cases per batch")
	cmd.Flags().BoolVar(&flags.shuffle, "shuffle", false, "Shuffle cases, once at open and after every epoch")
	cmd.Flags().Uint64Var(&flags.seed, "seed", 0, "Shuffle seed")
	cmd.Flags().StringSliceVar(&flags.labelROIs, "label-roi", nil, "ROI merged into the label (repeatable, default Lung_R,Lung_L)")
	cmd.Flags().IntVar(&flags.cacheSize, "cache-size", 0, "Decoded archives kept in memory")
	cmd.Flags().BoolVar(&flags.requireLabels, "require-labels", false, "Fail when an archive lacks a label ROI")
	cmd.Flags().IntVar(&flags.epochs, "epochs", 1, "Epochs to walk through")

	return cmd
}
