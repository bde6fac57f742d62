package assembler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/mrsinham/lctscprep/internal/report"
)

// Summary aggregates the outcomes of a run.
type Summary struct {
	Outcomes []Outcome
}

// Count returns the number of cases that ended with status s.
func (s Summary) Count(status Status) int {
	n := 0
	for _, o := range s.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Counts returns the number of cases per status. Statuses without cases
// are omitted.
func (s Summary) Counts() map[Status]int {
	counts := make(map[Status]int)
	for _, o := range s.Outcomes {
		counts[o.Status]++
	}
	return counts
}

// CaseFailure is an ROI failure tagged with its case.
type CaseFailure struct {
	CaseID string
	ROIFailure
}

// ROIFailures lists every dropped ROI in case order.
func (s Summary) ROIFailures() []CaseFailure {
	var out []CaseFailure
	for _, o := range s.Outcomes {
		for _, f := range o.Failures {
			out = append(out, CaseFailure{CaseID: o.CaseID, ROIFailure: f})
		}
	}
	return out
}

// Table renders one row per case.
func (s Summary) Table() string {
	rows := make([][]string, 0, len(s.Outcomes))
	for _, o := range s.Outcomes {
		detail := ""
		if o.Err != nil {
			detail = o.Err.Error()
		}
		rows = append(rows, []string{
			o.CaseID,
			o.Status.String(),
			strconv.Itoa(len(o.ROIs)),
			strconv.Itoa(len(o.Failures)),
			o.Duration.Round(time.Millisecond).String(),
			detail,
		})
	}
	return report.Table(
		[]string{"Case", "Status", "ROIs", "Dropped", "Time", "Detail"},
		rows,
		[]report.Align{report.AlignLeft, report.AlignLeft, report.AlignRight, report.AlignRight, report.AlignRight, report.AlignLeft},
	)
}

// StatusTable renders the number of cases per status.
func (s Summary) StatusTable() string {
	counts := s.Counts()
	rows := make([][]string, 0, len(counts)+1)
	for _, status := range Statuses() {
		if n := counts[status]; n > 0 {
			rows = append(rows, []string{status.String(), strconv.Itoa(n)})
		}
	}
	rows = append(rows, []string{"total", strconv.Itoa(len(s.Outcomes))})
	return report.Table([]string{"Status", "Cases"}, rows, []report.Align{report.AlignLeft, report.AlignRight})
}

// FailureTable renders the dropped ROIs, or "" when there are none.
func (s Summary) FailureTable() string {
	failures := s.ROIFailures()
	if len(failures) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{f.CaseID, f.ROI, fmt.Sprint(f.Err)})
	}
	return report.Table([]string{"Case", "ROI", "Reason"}, rows, nil)
}
