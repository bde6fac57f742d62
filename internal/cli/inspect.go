package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mrsinham/lctscprep/internal/archive"
	"github.com/mrsinham/lctscprep/internal/report"
)

func newInspectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <archive.h5>",
		Short: "List the arrays stored in a case archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := ctx.logger(cmd); err != nil {
				return err
			}
			path := args[0]
			rec, err := archive.Read(path)
			if err != nil {
				return err
			}
			entries, err := archive.List(path)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				shape := fmt.Sprintf("[%d]", e.Len)
				voxels := ""
				if e.Len == rec.Shape.Len() {
					shape = rec.Shape.String()
				}
				if mask, ok := rec.Masks[e.ROI]; ok && e.ROI != "" {
					n := 0
					for _, v := range mask {
						n += int(v)
					}
					voxels = strconv.Itoa(n)
				}
				rows = append(rows, []string{e.Name, e.ROI, shape, strconv.Itoa(e.Stored), voxels})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Case:    %s\n", rec.CaseID)
			fmt.Fprintf(out, "Shape:   %s\n", rec.Shape)
			fmt.Fprintf(out, "Spacing: %g x %g x %g mm\n", rec.Spacing.Row, rec.Spacing.Col, rec.Spacing.Slice)
			fmt.Fprintln(out, report.Table([]string{"Dataset", "ROI", "Shape", "Stored bytes", "Voxels set"}, rows,
				[]report.Align{report.AlignLeft, report.AlignLeft, report.AlignLeft, report.AlignRight, report.AlignRight}))
			return nil
		},
	}
}
