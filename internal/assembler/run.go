package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mrsinham/lctscprep/internal/metadata"
)

// Process runs one case to completion. It never panics; a panic inside the
// pipeline is reported as StatusFailed.
func (a *Assembler) Process(ctx context.Context, c metadata.Case) (out Outcome) {
	start := time.Now()
	logger := a.logger.With("case", c.ID)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("case panicked", "panic", fmt.Sprint(p))
			out = Outcome{CaseID: c.ID, Status: StatusFailed, Err: fmt.Errorf("panic: %v", p)}
		}
		out.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		return Outcome{CaseID: c.ID, Status: StatusCancelled, Err: err}
	}
	return a.process(c, logger)
}

// ErrArchiveCollision is reported for a case whose archive file name is
// already taken by an earlier case of the same run.
var ErrArchiveCollision = errors.New("archive path collision")

// claimPaths returns a failed Outcome for every case whose archive path
// repeats an earlier one. Paths are compared case-insensitively so runs
// behave the same on case-insensitive file systems.
func (a *Assembler) claimPaths(cases []metadata.Case) map[int]Outcome {
	owners := make(map[string]string, len(cases))
	rejected := make(map[int]Outcome)
	for i, c := range cases {
		p := a.ArchivePath(c.ID)
		key := strings.ToLower(p)
		if owner, taken := owners[key]; taken {
			rejected[i] = Outcome{
				CaseID: c.ID,
				Status: StatusFailed,
				Err:    fmt.Errorf("%w: %s is already written by case %s", ErrArchiveCollision, filepath.Base(p), owner),
			}
			a.logger.Warn("case skipped", "case", c.ID, "reason", "archive path collision", "owner", owner)
			continue
		}
		owners[key] = c.ID
	}
	return rejected
}

type caseResult struct {
	index   int
	outcome Outcome
}

// Run processes cases, concurrently when Options.Workers > 1, and returns
// their outcomes in input order. Once ctx is done no further case starts;
// the remaining ones are reported as StatusCancelled. A case whose archive
// path collides with an earlier case fails with ErrArchiveCollision and is
// not processed.
func (a *Assembler) Run(ctx context.Context, cases []metadata.Case) Summary {
	rejected := a.claimPaths(cases)
	outcomes := make([]Outcome, len(cases))
	done := make([]bool, len(cases))
	report := func(i int, o Outcome) {
		outcomes[i] = o
		done[i] = true
		if a.opts.OnOutcome != nil {
			a.opts.OnOutcome(o)
		}
	}

	workers := a.opts.Workers
	if workers > len(cases) {
		workers = len(cases)
	}

	if workers <= 1 {
		for i, c := range cases {
			if ctx.Err() != nil {
				break
			}
			if o, ok := rejected[i]; ok {
				report(i, o)
				continue
			}
			report(i, a.Process(ctx, c))
		}
	} else {
		a.logger.Debug("processing cases in parallel", slog.Int("workers", workers), slog.Int("cases", len(cases)))

		for i := range cases {
			if o, ok := rejected[i]; ok {
				report(i, o)
			}
		}

		taskChan := make(chan int)
		resultChan := make(chan caseResult, len(cases))

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range taskChan {
					resultChan <- caseResult{index: i, outcome: a.Process(ctx, cases[i])}
				}
			}()
		}

		go func() {
			defer close(taskChan)
			for i := range cases {
				if _, ok := rejected[i]; ok {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case taskChan <- i:
				}
			}
		}()

		go func() {
			wg.Wait()
			close(resultChan)
		}()

		for res := range resultChan {
			report(res.index, res.outcome)
		}
	}

	for i, c := range cases {
		if !done[i] {
			report(i, Outcome{CaseID: c.ID, Status: StatusCancelled, Err: context.Cause(ctx)})
		}
	}
	return Summary{Outcomes: outcomes}
}
