package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"stellarsweep/internal/sweep"
)

// Ledger records runs and their job outcomes in a Store.
type Ledger struct {
	Store *Store

	// Now defaults to time.Now.
	Now func() time.Time
}

func (l *Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.New().String()
}

// BeginRun persists a new running run for the sweep identified by
// sweepHash. When the previous run of the same sweep did not succeed, the new
// run links to it and its retry count is one higher.
func (l *Ledger) BeginRun(ctx context.Context, sweepHash string, mode ExecutionMode, workers int) (Run, error) {
	if l == nil || l.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	run := Run{
		RunID:     NewRunID(),
		SweepHash: sweepHash,
		StartTime: l.now(),
		Mode:      mode,
		Workers:   workers,
		Status:    RunStatusRunning,
	}

	prev, ok, err := l.Store.LastRun(ctx, sweepHash)
	if err != nil {
		return Run{}, fmt.Errorf("look up previous run: %w", err)
	}
	if ok && prev.Status != RunStatusSucceeded {
		id := prev.RunID
		run.PreviousRunID = &id
		run.RetryCount = prev.RetryCount + 1
	}

	if err := l.Store.SaveRun(ctx, run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// RecordSweep stores one outcome per job and closes the run with a status
// derived from the result. interrupted marks a run cut short by a signal.
func (l *Ledger) RecordSweep(ctx context.Context, run Run, res *sweep.SweepResult, interrupted bool) (Run, error) {
	if l == nil || l.Store == nil {
		return Run{}, errors.New("Store is required")
	}
	var errs []error
	for _, rec := range res.Jobs {
		o, err := OutcomeFromRecord(run.RunID, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := l.Store.SaveOutcome(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}

	switch {
	case interrupted:
		run.Status = RunStatusInterrupted
	case res.Succeeded():
		run.Status = RunStatusSucceeded
	default:
		run.Status = RunStatusFailed
	}
	run.EndTime = l.now()
	if err := l.Store.SaveRun(ctx, run); err != nil {
		errs = append(errs, err)
	}
	return run, errors.Join(errs...)
}
