package sweep

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"stellarsweep/internal/core"
	"stellarsweep/internal/export"
	"stellarsweep/internal/trace"
)

// RunParallel runs Stella for every STAGED job on a pool of o.Workers
// workers and exports each result as its job finishes.
//
// Jobs are independent: a failure in one never cancels another. Once a job
// has a worker it runs to completion even if ctx is cancelled; jobs still
// waiting for a worker when ctx is cancelled are skipped.
func (o *Orchestrator) RunParallel(ctx context.Context, res *SweepResult) {
	workers := o.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		g        errgroup.Group
		mu       sync.Mutex
		inFlight atomic.Int64
		peak     atomic.Int64
	)
	g.SetLimit(workers)

	for _, rec := range res.Jobs {
		if rec.State != JobStaged {
			continue
		}
		// Go blocks until a worker is free, so the check inside runs at the
		// moment the job would start.
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				o.skip(rec, err)
				return nil
			}

			o.runFinal(context.WithoutCancel(ctx), rec, func() func() {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				return func() { inFlight.Add(-1) }
			})

			mu.Lock()
			res.CompletionOrder = append(res.CompletionOrder, rec.Index)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	res.PeakFinal = int(peak.Load())
}

// runFinal executes Stella and the export for one job. enter is called right
// before the subprocess starts; the func it returns right after it ends.
func (o *Orchestrator) runFinal(ctx context.Context, rec *JobRecord, enter func() func()) {
	log := o.logger().With("index", rec.Index, "job", rec.Name())
	defer func() {
		if r := recover(); r != nil {
			o.fail(log, rec, &PanicError{Job: rec.Name(), Value: r})
		}
	}()

	_ = transition(rec, JobStaged, JobFinalizing)
	log.Info("Starting Stella")

	result, err := func() (*core.StageResult, error) {
		defer enter()()
		return o.Runner.Run(ctx, rec.Job, core.StageStella)
	}()

	if result != nil {
		rec.Stages = append(rec.Stages, result)
	}
	if err != nil {
		o.fail(log, rec, err)
	} else {
		log.Info("Stella finished", "duration", result.Duration)
		trace.SafeRecord(o.Trace, trace.Event{Kind: trace.EventStageExecuted, Job: rec.Name(), Stage: core.StageStella.String()})
	}

	// A started Stella run may have left a partial table worth exporting.
	if result != nil && o.Exporter != nil {
		o.export(log, rec)
	}

	if err == nil {
		_ = transition(rec, JobFinalizing, JobCompleted)
	}
}

func (o *Orchestrator) export(log *slog.Logger, rec *JobRecord) {
	path, err := o.Exporter.Export(rec.Job)
	if err != nil {
		rec.ExportErr = err
		log.Error("Data exporting failed", "error", err)
		trace.SafeRecord(o.Trace, trace.Event{Kind: trace.EventExportFailed, Job: rec.Name(), Reason: exportReason(err)})
		return
	}
	rec.ExportPath = path
	log.Info("Exported results", "path", path)
	trace.SafeRecord(o.Trace, trace.Event{
		Kind:      trace.EventResultExported,
		Job:       rec.Name(),
		Artifacts: []string{o.relativeExport(path)},
	})
}

func exportReason(err error) string {
	var parseErr *export.ExportParseError
	switch {
	case errors.As(err, &parseErr):
		return "ParseError"
	case errors.Is(err, fs.ErrNotExist):
		return "MissingTable"
	default:
		return "Error"
	}
}
