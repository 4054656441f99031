package sweep

import (
	"errors"
	"fmt"
	"time"
)

// ErrGuardBusy is returned when a DeadlineGuard is entered while another
// job's sequential stages are still in flight.
var ErrGuardBusy = errors.New("deadline guard already in use")

// JobTimeoutError reports a job whose sequential stages outran the deadline.
type JobTimeoutError struct {
	Job     string
	Timeout time.Duration
	Err     error
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("job %s: sequential stages exceeded %s", e.Job, e.Timeout)
}

func (e *JobTimeoutError) Unwrap() error { return e.Err }

// PanicError carries a panic recovered at a job boundary.
type PanicError struct {
	Job   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("job %s: panic: %v", e.Job, e.Value)
}
