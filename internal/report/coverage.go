package report

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/mrsinham/lctscprep/internal/archive"
	"github.com/mrsinham/lctscprep/internal/volume"
)

// Coverage summarizes one ROI mask of a case.
type Coverage struct {
	ROI    string
	Voxels int
	// VolumeML is the mask volume in millilitres.
	VolumeML float64
	// Slices is the number of slices the mask touches.
	Slices int
	// AreaMean and AreaStdDev describe the per-slice voxel count over the
	// touched slices.
	AreaMean   float64
	AreaStdDev float64
	// Axial, Coronal and Sagittal are the fractions of the middle plane
	// of each orientation covered by the mask.
	Axial    float64
	Coronal  float64
	Sagittal float64
}

// CaseCoverage computes the coverage of every mask in rec, sorted by ROI
// name.
func CaseCoverage(rec *archive.Record) []Coverage {
	names := rec.MaskNames()
	out := make([]Coverage, 0, len(names))
	for _, name := range names {
		out = append(out, maskCoverage(name, rec.Masks[name], rec.Shape, rec.Spacing))
	}
	return out
}

func maskCoverage(name string, mask []uint8, shape volume.Shape, spacing volume.Spacing) Coverage {
	cov := Coverage{ROI: name}
	perSlice := make([]float64, shape.Slices)
	midRow, midCol, midSlice := shape.Rows/2, shape.Cols/2, shape.Slices/2
	var axial, coronal, sagittal int

	for r := 0; r < shape.Rows; r++ {
		for c := 0; c < shape.Cols; c++ {
			base := (r*shape.Cols + c) * shape.Slices
			for s := 0; s < shape.Slices; s++ {
				if mask[base+s] == 0 {
					continue
				}
				cov.Voxels++
				perSlice[s]++
				if s == midSlice {
					axial++
				}
				if r == midRow {
					coronal++
				}
				if c == midCol {
					sagittal++
				}
			}
		}
	}

	var areas []float64
	for _, n := range perSlice {
		if n > 0 {
			areas = append(areas, n)
		}
	}
	cov.Slices = len(areas)
	switch len(areas) {
	case 0:
	case 1:
		cov.AreaMean = areas[0]
	default:
		cov.AreaMean, cov.AreaStdDev = stat.MeanStdDev(areas, nil)
	}

	cov.VolumeML = float64(cov.Voxels) * spacing.VoxelVolume() / 1000
	cov.Axial = float64(axial) / float64(shape.Rows*shape.Cols)
	cov.Coronal = float64(coronal) / float64(shape.Cols*shape.Slices)
	cov.Sagittal = float64(sagittal) / float64(shape.Rows*shape.Slices)
	return cov
}

// CoverageTable renders coverage rows as a table.
func CoverageTable(rows []Coverage) string {
	headers := []string{"ROI", "Voxels", "Volume (mL)", "Slices", "Area/slice", "Axial", "Coronal", "Sagittal"}
	aligns := []Align{AlignLeft, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight, AlignRight}
	cells := make([][]string, 0, len(rows))
	for _, c := range rows {
		cells = append(cells, []string{
			c.ROI,
			fmt.Sprintf("%d", c.Voxels),
			fmt.Sprintf("%.2f", c.VolumeML),
			fmt.Sprintf("%d", c.Slices),
			fmt.Sprintf("%.1f ± %.1f", c.AreaMean, c.AreaStdDev),
			percent(c.Axial),
			percent(c.Coronal),
			percent(c.Sagittal),
		})
	}
	return Table(headers, cells, aligns)
}

func percent(f float64) string {
	return fmt.Sprintf("%.1f%%", f*100)
}
