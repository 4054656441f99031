package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// DeadlineGuard bounds the sequential stages of one job with a wall-clock
// deadline. It is non-reentrant: one job at a time.
type DeadlineGuard struct {
	// Timeout is the per-job budget. Zero or negative disables the deadline.
	Timeout time.Duration

	busy atomic.Bool
}

// NewDeadlineGuard creates a guard with the given per-job budget.
func NewDeadlineGuard(timeout time.Duration) *DeadlineGuard {
	return &DeadlineGuard{Timeout: timeout}
}

// Do runs fn under the deadline. fn must pass the context it receives to
// every subprocess it starts; when the deadline expires that context is
// cancelled, the running process group is killed, and Do returns a
// *JobTimeoutError. The deadline is released when Do returns, however fn
// ends, including by panic.
//
// Cancellation of ctx itself is not a timeout and is returned unchanged.
func (g *DeadlineGuard) Do(ctx context.Context, job string, fn func(context.Context) error) error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrGuardBusy
	}
	defer g.busy.Store(false)

	if g.Timeout <= 0 {
		return fn(ctx)
	}

	dctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	err := fn(dctx)
	if err != nil && ctx.Err() == nil && errors.Is(dctx.Err(), context.DeadlineExceeded) {
		return &JobTimeoutError{Job: job, Timeout: g.Timeout, Err: err}
	}
	return err
}
