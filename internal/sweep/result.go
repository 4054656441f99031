package sweep

import (
	"fmt"

	"stellarsweep/internal/core"
)

// JobRecord is everything the sweep learned about one input row. A record
// is owned by one goroutine at a time: the sequential loop, then at most one
// parallel worker.
type JobRecord struct {
	// Index is the 1-based row number in the sweep input.
	Index  int
	Params core.Params

	// Job is nil when the parameters were rejected.
	Job *core.Job

	State JobState
	Err   error

	PreCCSkipped     bool
	ProgenitorReused bool

	Stages []*core.StageResult

	ExportPath string
	ExportErr  error
}

// Name is the job's canonical name, or a row label when the job was
// rejected before it had one.
func (r *JobRecord) Name() string {
	if r.Job != nil {
		return r.Job.Name()
	}
	return fmt.Sprintf("row-%d", r.Index)
}

// Outcome is the job's terminal outcome, or "" while it is still running.
func (r *JobRecord) Outcome() Outcome {
	o, _ := OutcomeOf(r.State)
	return o
}

// SweepResult summarizes a sweep.
type SweepResult struct {
	// Jobs are in input order.
	Jobs []*JobRecord

	// CompletionOrder lists job indices in the order their parallel phase
	// finished.
	CompletionOrder []int

	// PeakFinal is the highest number of Stella executions observed running
	// at once.
	PeakFinal int
}

// Counts tallies outcomes.
func (r *SweepResult) Counts() map[Outcome]int {
	out := map[Outcome]int{}
	for _, j := range r.Jobs {
		if o := j.Outcome(); o != "" {
			out[o]++
		}
	}
	return out
}

// ExportFailures counts jobs whose export was attempted and failed.
func (r *SweepResult) ExportFailures() int {
	n := 0
	for _, j := range r.Jobs {
		if j.ExportErr != nil {
			n++
		}
	}
	return n
}

// Succeeded reports whether every job completed and exported.
func (r *SweepResult) Succeeded() bool {
	for _, j := range r.Jobs {
		if j.State != JobCompleted || j.ExportErr != nil {
			return false
		}
	}
	return true
}
