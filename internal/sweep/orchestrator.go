package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"stellarsweep/internal/core"
	"stellarsweep/internal/trace"
)

// StageRunner is what the orchestrator needs from core.Runner.
type StageRunner interface {
	Materialize(ctx context.Context, job *core.Job) error
	SeedProgenitor(job *core.Job, model string) error
	Run(ctx context.Context, job *core.Job, stage core.Stage) (*core.StageResult, error)
}

// Exporter turns a job's raw result table into its exported file and returns
// the file's path.
type Exporter interface {
	Export(job *core.Job) (string, error)
}

// Sealer is implemented by caches that can refuse writes once the parallel
// phase starts.
type Sealer interface {
	Seal()
}

// Orchestrator runs a sweep. Construct it once per run; it holds no state
// between calls besides its collaborators.
type Orchestrator struct {
	Runner   StageRunner
	Cache    core.ArtifactCache
	Guard    *DeadlineGuard
	Exporter Exporter
	Layout   core.Layout

	// Workers bounds concurrent Stella executions. Values below 1 mean 1.
	Workers int

	Logger *slog.Logger
	Trace  trace.Sink
}

// Run executes the sequential phase for every row in order, seals the cache,
// then runs the parallel phase. It never returns early because of a job
// failure; every row ends with a terminal state.
func (o *Orchestrator) Run(ctx context.Context, params []core.Params) *SweepResult {
	res := o.RunSequential(ctx, params)
	if s, ok := o.Cache.(Sealer); ok {
		s.Seal()
	}
	o.RunParallel(ctx, res)
	return res
}

// RunSequential takes each row through PreCC and PostCC, one job at a time.
// Jobs that get through are left STAGED.
func (o *Orchestrator) RunSequential(ctx context.Context, params []core.Params) *SweepResult {
	res := &SweepResult{Jobs: make([]*JobRecord, len(params))}
	for i, p := range params {
		res.Jobs[i] = &JobRecord{Index: i + 1, Params: p, State: JobPending}
	}

	// Canonical name to the index of the first row that used it.
	seen := map[string]int{}
	for _, rec := range res.Jobs {
		if err := ctx.Err(); err != nil {
			o.skip(rec, err)
			continue
		}
		o.runSequentialJob(ctx, rec, seen)
	}
	return res
}

func (o *Orchestrator) runSequentialJob(ctx context.Context, rec *JobRecord, seen map[string]int) {
	log := o.logger().With("index", rec.Index)
	defer func() {
		if r := recover(); r != nil {
			o.fail(log, rec, &PanicError{Job: rec.Name(), Value: r})
		}
	}()

	job, err := core.NewJob(rec.Params, o.Layout)
	if err != nil {
		o.fail(log, rec, err)
		return
	}
	rec.Job = job
	log = log.With("job", job.Name())
	if first, dup := seen[job.Name()]; dup {
		log.Warn("Parameters repeat an earlier row, replacing its job directory", "first_index", first)
	} else {
		seen[job.Name()] = rec.Index
	}
	_ = transition(rec, JobPending, JobRunning)
	log.Info("Starting simulation", "grid_tag", job.GridTag,
		"prog_optimize", job.ProgOptimize, "csm_optimize", job.CSMOptimize)

	if err := o.Runner.Materialize(ctx, job); err != nil {
		o.fail(log, rec, fmt.Errorf("materializing job directory: %w", err))
		return
	}

	skip, err := o.planProgenitor(log, rec)
	if err != nil {
		o.fail(log, rec, err)
		return
	}
	rec.PreCCSkipped = skip

	guard := o.Guard
	if guard == nil {
		guard = NewDeadlineGuard(0)
	}
	err = guard.Do(ctx, job.Name(), func(ctx context.Context) error {
		if !skip {
			if err := o.runStage(ctx, rec, core.StagePreCC); err != nil {
				return err
			}
			o.cacheProgenitor(log, job)
		}
		return o.runStage(ctx, rec, core.StagePostCC)
	})
	if err != nil {
		o.fail(log, rec, err)
		return
	}

	_ = transition(rec, JobRunning, JobStaged)
	log.Info("Sequential stages finished")
}

// planProgenitor decides whether PreCC runs, installing a cached progenitor
// when one is reused.
func (o *Orchestrator) planProgenitor(log *slog.Logger, rec *JobRecord) (bool, error) {
	job := rec.Job
	if job.SeedAccelerator {
		log.Info("Accelerator model seeded, skipping PreCC")
		return true, nil
	}
	if !job.ProgOptimize || o.Cache == nil {
		return false, nil
	}

	path, ok, err := o.Cache.Get(job.Key())
	if err != nil {
		log.Warn("Progenitor cache lookup failed, running PreCC", "key", job.Key(), "error", err)
		return false, nil
	}
	if !ok {
		log.Info("No cached progenitor, running PreCC", "key", job.Key())
		return false, nil
	}
	if err := o.Runner.SeedProgenitor(job, path); err != nil {
		return false, err
	}
	rec.ProgenitorReused = true
	log.Info("Reusing cached progenitor", "key", job.Key(), "path", path)
	trace.SafeRecord(o.Trace, trace.Event{
		Kind:      trace.EventProgenitorReused,
		Job:       job.Name(),
		Stage:     core.StagePreCC.String(),
		Artifacts: []string{job.Key().String()},
	})
	return true, nil
}

func (o *Orchestrator) cacheProgenitor(log *slog.Logger, job *core.Job) {
	if o.Cache == nil {
		return
	}
	path, err := o.Cache.Put(job.Key(), job.ProgenitorPath())
	if err != nil {
		log.Warn("Could not cache progenitor", "key", job.Key(), "error", err)
		return
	}
	log.Debug("Cached progenitor", "key", job.Key(), "path", path)
	trace.SafeRecord(o.Trace, trace.Event{
		Kind:      trace.EventProgenitorCached,
		Job:       job.Name(),
		Stage:     core.StagePreCC.String(),
		Artifacts: []string{job.Key().String()},
	})
}

func (o *Orchestrator) runStage(ctx context.Context, rec *JobRecord, stage core.Stage) error {
	res, err := o.Runner.Run(ctx, rec.Job, stage)
	if res != nil {
		rec.Stages = append(rec.Stages, res)
	}
	if err != nil {
		return err
	}
	o.logger().Info("Stage finished", "index", rec.Index, "job", rec.Name(),
		"stage", stage.String(), "duration", res.Duration)
	trace.SafeRecord(o.Trace, trace.Event{Kind: trace.EventStageExecuted, Job: rec.Name(), Stage: stage.String()})
	return nil
}

// fail moves rec to its failure state and reports err. Timeouts become
// TIMED_OUT, everything else FAILED.
func (o *Orchestrator) fail(log *slog.Logger, rec *JobRecord, err error) {
	rec.Err = err

	var timeout *JobTimeoutError
	if errors.As(err, &timeout) {
		_ = transition(rec, rec.State, JobTimedOut)
		log.Error("Simulation timed out", "timeout", timeout.Timeout, "error", err)
		trace.SafeRecord(o.Trace, trace.Event{Kind: trace.EventJobTimedOut, Job: rec.Name()})
		return
	}

	if !IsTerminal(rec.State) {
		_ = transition(rec, rec.State, JobFailed)
	}
	log.Error("Simulation failed", "error", err)

	var invalid *core.InvalidParameterError
	if errors.As(err, &invalid) {
		trace.SafeRecord(o.Trace, trace.Event{Kind: trace.EventJobRejected, Job: rec.Name(), Reason: "InvalidParameter"})
		return
	}
	stage, reason := failureReason(err)
	trace.SafeRecord(o.Trace, trace.Event{Kind: trace.EventStageFailed, Job: rec.Name(), Stage: stage, Reason: reason})
}

func (o *Orchestrator) skip(rec *JobRecord, cause error) {
	if transition(rec, rec.State, JobSkipped) != nil {
		return
	}
	rec.Err = cause
	o.logger().Warn("Skipping job", "index", rec.Index, "job", rec.Name(), "reason", cause)
	trace.SafeRecord(o.Trace, trace.Event{Kind: trace.EventJobSkipped, Job: rec.Name(), Reason: "Interrupted"})
}

// failureReason derives the stable trace reason for a job error.
func failureReason(err error) (stage, reason string) {
	var stageErr *core.StageExecutionError
	var missing *core.MissingOutputError
	var panicErr *PanicError
	switch {
	case errors.As(err, &stageErr):
		if stageErr.Err != nil {
			if errors.Is(stageErr.Err, context.Canceled) {
				return stageErr.Stage.String(), "Interrupted"
			}
			return stageErr.Stage.String(), "NotStarted"
		}
		return stageErr.Stage.String(), "NonZeroExit"
	case errors.As(err, &missing):
		return missing.Stage.String(), "MissingOutput"
	case errors.As(err, &panicErr):
		return "", "Panic"
	default:
		return "", "Error"
	}
}

func (o *Orchestrator) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func (o *Orchestrator) relativeExport(path string) string {
	if rel, err := filepath.Rel(o.Layout.DataDir, path); err == nil {
		return filepath.ToSlash(rel)
	}
	return filepath.Base(path)
}
