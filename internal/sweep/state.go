package sweep

import "fmt"

// JobState is the runtime state of one job in a sweep.
type JobState string

const (
	JobPending    JobState = "PENDING"
	JobRunning    JobState = "RUNNING"
	JobStaged     JobState = "STAGED"
	JobFinalizing JobState = "FINALIZING"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
	JobTimedOut   JobState = "TIMED_OUT"
	JobSkipped    JobState = "SKIPPED"
)

// Outcome is the terminal result of a job.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimedOut  Outcome = "timed-out"
	OutcomeSkipped   Outcome = "skipped"
)

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s JobState) bool {
	switch s {
	case JobCompleted, JobFailed, JobTimedOut, JobSkipped:
		return true
	default:
		return false
	}
}

// OutcomeOf maps a terminal state to its outcome. Non-terminal states have
// no outcome.
func OutcomeOf(s JobState) (Outcome, bool) {
	switch s {
	case JobCompleted:
		return OutcomeCompleted, true
	case JobFailed:
		return OutcomeFailed, true
	case JobTimedOut:
		return OutcomeTimedOut, true
	case JobSkipped:
		return OutcomeSkipped, true
	default:
		return "", false
	}
}

// transition moves rec from one state to another, rejecting anything the
// job lifecycle does not allow.
func transition(rec *JobRecord, from, to JobState) error {
	if rec.State != from {
		return fmt.Errorf("invalid transition for job %d: expected %s, got %s", rec.Index, from, rec.State)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition for job %d: %s -> %s", rec.Index, from, to)
	}
	rec.State = to
	return nil
}

func isAllowedTransition(from, to JobState) bool {
	switch from {
	case JobPending:
		return to == JobRunning || to == JobFailed || to == JobSkipped
	case JobRunning:
		return to == JobStaged || to == JobFailed || to == JobTimedOut
	case JobStaged:
		return to == JobFinalizing || to == JobSkipped
	case JobFinalizing:
		return to == JobCompleted || to == JobFailed
	default:
		return false
	}
}
