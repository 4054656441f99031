package state

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"stellarsweep/internal/core"
)

// ExecutionMode says what happens to the progenitor cache before a sweep.
type ExecutionMode string

const (
	// ExecutionModeClean empties the cache so reuse only happens within the run.
	ExecutionModeClean ExecutionMode = "clean"
	// ExecutionModeIncremental keeps cache entries from earlier runs.
	ExecutionModeIncremental ExecutionMode = "incremental"
)

// ParseMode accepts the mode names used on the command line.
func ParseMode(s string) (ExecutionMode, error) {
	switch m := ExecutionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ExecutionModeClean, ExecutionModeIncremental:
		return m, nil
	default:
		return "", fmt.Errorf("invalid mode %q (want clean or incremental)", s)
	}
}

type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusSucceeded   RunStatus = "succeeded"
	RunStatusFailed      RunStatus = "failed"
	RunStatusInterrupted RunStatus = "interrupted"
)

// Run is one invocation of the sweep.
//
// PreviousRunID links a run to the last unsuccessful run of the same sweep
// input; RetryCount counts how many such runs precede it.
type Run struct {
	RunID         string
	SweepHash     string
	StartTime     time.Time
	EndTime       time.Time
	Mode          ExecutionMode
	Workers       int
	RetryCount    int
	Status        RunStatus
	PreviousRunID *string
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.TrimSpace(r.SweepHash) == "" {
		errs = append(errs, errors.New("sweep_hash is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	switch r.Mode {
	case ExecutionModeClean, ExecutionModeIncremental:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	if r.Workers < 1 {
		errs = append(errs, errors.New("workers must be >= 1"))
	}
	if r.RetryCount < 0 {
		errs = append(errs, errors.New("retry_count must be >= 0"))
	}
	switch r.Status {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusInterrupted:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.PreviousRunID != nil && strings.TrimSpace(*r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id must not be empty when provided"))
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	FailureClassParameter FailureClass = "parameter"
	FailureClassExecution FailureClass = "execution"
	FailureClassTimeout   FailureClass = "timeout"
	FailureClassExport    FailureClass = "export"
	FailureClassSystem    FailureClass = "system"
)

// Failure is the classified reason a job did not complete cleanly.
//
// Resumable reports whether rerunning the same row could plausibly succeed
// without changing its parameters.
type Failure struct {
	Class     FailureClass
	Stage     *string
	Code      string
	Message   string
	Resumable bool
}

func (f Failure) Validate() error {
	var errs []error
	switch f.Class {
	case FailureClassParameter, FailureClassExecution, FailureClassTimeout, FailureClassExport, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.Class))
	}
	if f.Stage != nil {
		if _, err := core.ParseStage(*f.Stage); err != nil {
			errs = append(errs, err)
		}
	}
	if strings.TrimSpace(f.Code) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.Message) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	return errors.Join(errs...)
}

// JobOutcome is the ledger row for one job of one run.
type JobOutcome struct {
	RunID      string
	Index      int
	Job        string
	Outcome    string
	ExportPath string

	// Failure is nil for jobs that completed and exported.
	Failure *Failure
}

func (o JobOutcome) Validate() error {
	var errs []error
	if strings.TrimSpace(o.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if o.Index < 1 {
		errs = append(errs, errors.New("index must be >= 1"))
	}
	if strings.TrimSpace(o.Job) == "" {
		errs = append(errs, errors.New("job is required"))
	}
	if strings.TrimSpace(o.Outcome) == "" {
		errs = append(errs, errors.New("outcome is required"))
	}
	if o.Failure != nil {
		if err := o.Failure.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
