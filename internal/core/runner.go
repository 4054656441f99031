package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stellarsweep/internal/template"
)

// SinkFactory returns the output sink for one stage of one job.
type SinkFactory func(job *Job, stage Stage) LineSink

// Runner prepares job working directories and executes stages.
//
// A Runner holds no per-job state; it is safe to call Run for different jobs
// from several goroutines.
type Runner struct {
	Layout  Layout
	Catalog *template.Catalog

	// Patcher substitutes parameter values into template files.
	Patcher template.Patcher

	// Toolchain, when set, is written into the environment block of every
	// run script of a materialized job.
	Toolchain *template.Toolchain

	Executor *Executor
	Sinks    SinkFactory
}

// NewRunner creates a Runner with a placeholder patcher for the catalog's
// token and a fresh Executor.
func NewRunner(layout Layout, catalog *template.Catalog) *Runner {
	return &Runner{
		Layout:   layout,
		Catalog:  catalog,
		Patcher:  template.NewPlaceholderPatcher(catalog.Token),
		Executor: NewExecutor(),
	}
}

// StageResult describes a finished stage invocation.
type StageResult struct {
	Job      string
	Stage    Stage
	ExitCode int
	Duration time.Duration
	Outputs  []string
}

// Materialize builds the job's working directory from its template family.
//
// Any existing directory for the same canonical name is replaced, so when
// two rows share parameters the later one wins.
func (r *Runner) Materialize(ctx context.Context, job *Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	family := r.Catalog.FamilyFor(job.Mass)
	src := filepath.Join(r.Layout.GridDir, family.Source)
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("template family %s: %w", family.Name, err)
	}

	if err := os.RemoveAll(job.Dir()); err != nil {
		return fmt.Errorf("clearing job directory: %w", err)
	}
	if err := copyTree(src, job.Dir()); err != nil {
		return fmt.Errorf("copying template %s: %w", family.Source, err)
	}

	if r.Toolchain != nil {
		for _, rel := range Scripts() {
			path := filepath.Join(job.Dir(), rel)
			if !exists(path) {
				continue
			}
			threads := r.Toolchain.Threads
			if rel == stellaScript {
				threads = 1
			}
			if err := template.RewriteBlock(path, r.Toolchain.Block(threads)); err != nil {
				return fmt.Errorf("writing toolchain block into %s: %w", rel, err)
			}
		}
	}

	if err := r.Catalog.Apply(job.Dir(), job.TemplateValues(), r.Patcher); err != nil {
		return fmt.Errorf("applying parameters: %w", err)
	}

	if job.SeedAccelerator {
		seed := filepath.Join(r.Layout.InputDir, acceleratorSeedName)
		if err := copyFile(seed, filepath.Join(job.Dir(), acceleratorHandOff)); err != nil {
			return fmt.Errorf("seeding accelerator model: %w", err)
		}
	}
	return nil
}

// SeedProgenitor installs a previously produced progenitor model as the
// PostCC input, standing in for a PreCC run.
func (r *Runner) SeedProgenitor(job *Job, model string) error {
	if err := copyFile(model, filepath.Join(job.Dir(), progenitorHandOff)); err != nil {
		return fmt.Errorf("seeding progenitor for %s: %w", job.Name(), err)
	}
	return nil
}

// Run executes one stage of job from the stage's own directory.
//
// Hand-off artifacts from the previous stage are copied into place before the
// process starts. A non-zero exit yields a StageExecutionError; a zero exit
// with a missing declared output yields a MissingOutputError.
func (r *Runner) Run(ctx context.Context, job *Job, stage Stage) (*StageResult, error) {
	if _, ok := stageNameTable[stage]; !ok {
		return nil, &InvalidStageNameError{Name: stage.String()}
	}
	if err := r.handOff(job, stage); err != nil {
		return nil, err
	}

	sink := DiscardSink
	if r.Sinks != nil {
		sink = r.Sinks(job, stage)
	}

	script, err := filepath.Rel(job.StageDir(stage), job.ScriptPath(stage))
	if err != nil {
		return nil, err
	}

	start := time.Now()
	code, err := r.Executor.Run(ctx, Command{
		Dir:    job.StageDir(stage),
		Script: "./" + filepath.ToSlash(script),
		Env:    r.stageEnv(stage),
	}, sink)
	if f, ok := sink.(FinishingSink); ok {
		f.Finish(code)
	}
	result := &StageResult{
		Job:      job.Name(),
		Stage:    stage,
		ExitCode: code,
		Duration: time.Since(start),
	}
	if err != nil {
		return result, &StageExecutionError{Job: job.Name(), Stage: stage, ExitCode: -1, Err: err}
	}
	if code != 0 {
		return result, &StageExecutionError{Job: job.Name(), Stage: stage, ExitCode: code}
	}

	if err := verifyOutputs(job, stage); err != nil {
		return result, err
	}
	result.Outputs = job.Outputs(stage)
	return result, nil
}

func (r *Runner) handOff(job *Job, stage Stage) error {
	switch stage {
	case StagePostCC:
		dst := filepath.Join(job.Dir(), progenitorHandOff)
		if exists(job.ProgenitorPath()) {
			return copyFile(job.ProgenitorPath(), dst)
		}
		// Seeded from the cache, or the accelerated path that starts from
		// the accelerator model instead.
		if exists(dst) || job.SeedAccelerator {
			return nil
		}
		return &MissingOutputError{Job: job.Name(), Stage: StagePreCC, Path: job.ProgenitorPath()}
	case StageStella:
		for _, rel := range []string{abundanceOutput, hydroOutput} {
			src := filepath.Join(job.Dir(), rel)
			if !exists(src) {
				return &MissingOutputError{Job: job.Name(), Stage: StagePostCC, Path: src}
			}
			if err := copyFile(src, filepath.Join(job.Dir(), stellaInputDir, filepath.Base(rel))); err != nil {
				return fmt.Errorf("staging %s: %w", rel, err)
			}
		}
	}
	return nil
}

func (r *Runner) stageEnv(stage Stage) map[string]string {
	if r.Toolchain == nil {
		return nil
	}
	threads := r.Toolchain.Threads
	if stage == StageStella {
		threads = 1
	}
	return r.Toolchain.Environ(threads)
}
