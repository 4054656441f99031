package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"stellarsweep/internal/core"
	"stellarsweep/internal/export"
	"stellarsweep/internal/state"
	"stellarsweep/internal/sweep"
	"stellarsweep/internal/template"
	"stellarsweep/internal/trace"
)

// Result is what a run produced.
type Result struct {
	ExitCode int
	RunID    string
	Sweep    *sweep.SweepResult
	Trace    *trace.SweepTrace
}

// Execute runs the sweep described by inv. Orchestrator output goes to
// console as well as the log directory.
//
// Job failures are not errors: they are reported through Result and the
// exit code. An error is returned only when the sweep could not run at all.
func Execute(ctx context.Context, inv Invocation, console io.Writer) (res Result, execErr error) {
	res.ExitCode = ExitInternalError

	archived, err := ArchiveLogs(inv.LogDir, time.Now())
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	logs, err := OpenLogs(inv.LogDir, inv.Logging, console)
	if err != nil {
		res.ExitCode = ExitConfigError
		return res, err
	}
	defer logs.Close()
	log := logs.Main

	defer func() {
		if r := recover(); r != nil {
			res.ExitCode = ExitInternalError
			execErr = fmt.Errorf("panic: %v", r)
			log.Error("Internal error", "error", execErr)
		}
	}()

	if archived != "" {
		log.Info("Archived previous logs", "dir", archived)
	}
	log.Info("Starting sweep", "workdir", inv.WorkDir, "sweep", inv.SweepPath,
		"mode", inv.Mode, "workers", inv.Workers, "threads", inv.Threads, "timeout", inv.Timeout)

	sw, err := LoadSweep(inv.SweepPath)
	if err != nil {
		log.Error("Could not load sweep file", "error", err)
		res.ExitCode = ExitConfigError
		return res, err
	}
	log.Info("Imported sweep", "jobs", len(sw.Rows), "sweep_hash", sw.Hash)

	catalog, err := loadCatalog(inv.ManifestPath, inv.Layout.GridDir)
	if err != nil {
		log.Error("Template check failed", "error", err)
		res.ExitCode = ExitConfigError
		return res, err
	}

	cache, err := cacheForMode(inv.Mode, inv.Layout.CacheDir)
	if err != nil {
		log.Error("Could not prepare progenitor cache", "error", err)
		res.ExitCode = ExitConfigError
		return res, err
	}
	for _, dir := range []string{inv.Layout.DataDir, filepath.Join(inv.WorkDir, ".stellarsweep")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			res.ExitCode = ExitConfigError
			return res, err
		}
	}

	ledger, run := beginRun(ctx, log, inv, sw.Hash)
	if ledger != nil {
		defer ledger.Store.Close()
		res.RunID = run.RunID
	}

	runner := core.NewRunner(inv.Layout, catalog)
	runner.Sinks = logs.Sinks
	if inv.SDKRoot != "" {
		runner.Toolchain = &template.Toolchain{MesaDir: inv.MesaDir, SDKRoot: inv.SDKRoot, Threads: inv.Threads}
	} else {
		log.Warn("MESA SDK root not configured; run scripts keep their own environment block")
	}

	recorder := trace.NewRecorder()
	orch := &sweep.Orchestrator{
		Runner:   runner,
		Cache:    cache,
		Guard:    sweep.NewDeadlineGuard(inv.Timeout),
		Exporter: export.NewExporter(inv.Layout.DataDir),
		Layout:   inv.Layout,
		Workers:  inv.Workers,
		Logger:   log,
		Trace:    recorder,
	}

	result := orch.Run(ctx, sw.Rows)
	res.Sweep = result
	interrupted := ctx.Err() != nil

	if ledger != nil {
		// The run context may already be cancelled; the ledger write must
		// still happen.
		if _, err := ledger.RecordSweep(context.WithoutCancel(ctx), run, result, interrupted); err != nil {
			log.Warn("Could not record run in ledger", "error", err)
		}
	}

	tr := recorder.Trace(sw.Hash)
	res.Trace = &tr
	if inv.TracePath != "" {
		if err := writeTrace(inv.TracePath, tr); err != nil {
			log.Error("Could not write trace", "path", inv.TracePath, "error", err)
			res.ExitCode = ExitInternalError
			return res, err
		}
	}

	summarize(log, result, interrupted)
	res.ExitCode = exitCodeFor(result)
	return res, nil
}

func loadCatalog(manifest, gridDir string) (*template.Catalog, error) {
	catalog := template.DefaultCatalog()
	if manifest != "" {
		var err error
		if catalog, err = template.LoadManifest(manifest); err != nil {
			return nil, err
		}
	}
	if err := catalog.Validate(gridDir); err != nil {
		return nil, err
	}
	return catalog, nil
}

// cacheForMode opens the progenitor cache. Clean mode starts from an empty
// cache; incremental keeps whatever earlier runs stored.
func cacheForMode(mode state.ExecutionMode, cacheDir string) (*core.FileCache, error) {
	if cacheDir == "" {
		return nil, errors.New("cache dir is empty")
	}
	if filepath.Clean(cacheDir) == "/" {
		return nil, errors.New("refusing to use '/' as the cache dir")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	cache := core.NewFileCache(cacheDir)
	switch mode {
	case state.ExecutionModeIncremental:
	case state.ExecutionModeClean:
		if err := cache.Purge(); err != nil {
			return nil, fmt.Errorf("purge cache: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown execution mode: %q", mode)
	}
	return cache, nil
}

// beginRun opens the ledger and records the run start. The ledger is
// best-effort: a sweep still runs when it cannot be opened.
func beginRun(ctx context.Context, log *slog.Logger, inv Invocation, sweepHash string) (*state.Ledger, state.Run) {
	st, err := state.Open(state.LedgerPath(inv.WorkDir))
	if err != nil {
		log.Warn("Run ledger unavailable", "error", err)
		return nil, state.Run{}
	}
	ledger := &state.Ledger{Store: st}
	run, err := ledger.BeginRun(ctx, sweepHash, inv.Mode, inv.Workers)
	if err != nil {
		log.Warn("Could not record run start", "error", err)
		_ = st.Close()
		return nil, state.Run{}
	}
	attrs := []any{"run_id", run.RunID}
	if run.PreviousRunID != nil {
		attrs = append(attrs, "previous_run_id", *run.PreviousRunID, "retry", run.RetryCount)
	}
	log.Info("Recorded run", attrs...)
	return ledger, run
}

func writeTrace(path string, tr trace.SweepTrace) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create trace dir: %w", err)
	}
	return tr.WriteFile(path)
}

func summarize(log *slog.Logger, res *sweep.SweepResult, interrupted bool) {
	counts := res.Counts()
	log.Info("Finished sweep",
		"jobs", len(res.Jobs),
		"completed", counts[sweep.OutcomeCompleted],
		"failed", counts[sweep.OutcomeFailed],
		"timed_out", counts[sweep.OutcomeTimedOut],
		"skipped", counts[sweep.OutcomeSkipped],
		"export_failures", res.ExportFailures(),
		"peak_stella", res.PeakFinal,
		"interrupted", interrupted)
}

func exitCodeFor(res *sweep.SweepResult) int {
	if res == nil {
		return ExitInternalError
	}
	if res.Succeeded() {
		return ExitSuccess
	}
	return ExitJobFailure
}
