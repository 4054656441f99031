package sweep

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellarsweep/internal/core"
	"stellarsweep/internal/export"
	"stellarsweep/internal/trace"
)

func TestSweep_FailedPostCCExcludedFromParallelPhase(t *testing.T) {
	f := newSweepFixture(t, 0, 2)
	res := f.orch.Run(context.Background(), []core.Params{
		params(nil),
		params(func(p *core.Params) { p.Energy = failingEnergy }),
		params(func(p *core.Params) { p.Energy = 2 }),
	})

	require.Len(t, res.Jobs, 3)
	assert.Equal(t, JobCompleted, res.Jobs[0].State)
	assert.Equal(t, JobFailed, res.Jobs[1].State)
	assert.Equal(t, JobCompleted, res.Jobs[2].State)

	var stageErr *core.StageExecutionError
	require.True(t, errors.As(res.Jobs[1].Err, &stageErr))
	assert.Equal(t, core.StagePostCC, stageErr.Stage)
	assert.Equal(t, 9, stageErr.ExitCode)

	assert.Len(t, f.stellaRuns(t), 2)
	assert.ElementsMatch(t, []int{1, 3}, res.CompletionOrder)

	for _, i := range []int{0, 2} {
		want := filepath.Join(f.layout.DataDir, "grid", "Data_"+res.Jobs[i].Job.Name()+".csv")
		assert.Equal(t, want, res.Jobs[i].ExportPath)
		assert.FileExists(t, want)
	}
	assert.Empty(t, res.Jobs[1].ExportPath)
	assert.Equal(t, map[Outcome]int{OutcomeCompleted: 2, OutcomeFailed: 1}, res.Counts())
	assert.False(t, res.Succeeded())
}

func TestSweep_ProgenitorReuseSkipsPreCC(t *testing.T) {
	f := newSweepFixture(t, 0, 1)
	res := f.orch.Run(context.Background(), []core.Params{
		params(nil),
		params(func(p *core.Params) { p.Energy = 3; p.ProgOptimize = "1" }),
	})

	require.Equal(t, JobCompleted, res.Jobs[0].State, "%v", res.Jobs[0].Err)
	require.Equal(t, JobCompleted, res.Jobs[1].State, "%v", res.Jobs[1].Err)
	assert.Equal(t, res.Jobs[0].Job.Key(), res.Jobs[1].Job.Key())

	runs := f.preCCRuns(t)
	require.Len(t, runs, 1, "job B must not invoke PreCC")
	assert.Contains(t, runs[0], res.Jobs[0].Job.Name())

	assert.True(t, res.Jobs[1].ProgenitorReused)
	assert.True(t, res.Jobs[1].PreCCSkipped)
	_, ok, err := f.cache.Get(res.Jobs[0].Job.Key())
	require.NoError(t, err)
	assert.True(t, ok)

	handed, err := os.ReadFile(filepath.Join(res.Jobs[1].Job.Dir(), "PostCC", "pre_ccsn.mod"))
	require.NoError(t, err)
	assert.Equal(t, "progenitor\n", string(handed))
	assert.True(t, f.cache.Sealed())
}

func TestSweep_ProgOptimizeWithoutCacheHitRunsPreCC(t *testing.T) {
	f := newSweepFixture(t, 0, 1)
	res := f.orch.Run(context.Background(), []core.Params{
		params(func(p *core.Params) { p.ProgOptimize = "1" }),
	})

	assert.Equal(t, JobCompleted, res.Jobs[0].State)
	assert.False(t, res.Jobs[0].ProgenitorReused)
	assert.Len(t, f.preCCRuns(t), 1)
}

func TestSweep_AcceleratedJobSkipsPreCC(t *testing.T) {
	f := newSweepFixture(t, 0, 1)
	res := f.orch.Run(context.Background(), []core.Params{
		params(func(p *core.Params) { p.CSMOptimize = "1" }),
	})

	assert.Equal(t, JobCompleted, res.Jobs[0].State, "%v", res.Jobs[0].Err)
	assert.True(t, res.Jobs[0].PreCCSkipped)
	assert.Empty(t, f.preCCRuns(t))
}

func TestSweep_TimeoutAffectsOnlyThatJob(t *testing.T) {
	f := newSweepFixture(t, 500*time.Millisecond, 1)
	start := time.Now()
	res := f.orch.Run(context.Background(), []core.Params{
		params(func(p *core.Params) { p.Mass = slowPreCCMass }),
		params(nil),
	})

	assert.Less(t, time.Since(start), 4*time.Second)
	assert.Equal(t, JobTimedOut, res.Jobs[0].State)
	var timeout *JobTimeoutError
	assert.True(t, errors.As(res.Jobs[0].Err, &timeout))

	assert.Equal(t, JobCompleted, res.Jobs[1].State, "%v", res.Jobs[1].Err)
	assert.Equal(t, []int{2}, res.CompletionOrder)

	_, ok, err := f.cache.Get(res.Jobs[0].Job.Key())
	require.NoError(t, err)
	assert.False(t, ok, "a timed-out PreCC must not be cached")
}

func TestSweep_MissingHeaderFailsOnlyThatExport(t *testing.T) {
	f := newSweepFixture(t, 0, 2)
	res := f.orch.Run(context.Background(), []core.Params{
		params(func(p *core.Params) { p.Ni56 = headerlessNickel }),
		params(nil),
	})

	bad, good := res.Jobs[0], res.Jobs[1]
	assert.Equal(t, JobCompleted, bad.State)
	var parseErr *export.ExportParseError
	assert.True(t, errors.As(bad.ExportErr, &parseErr))
	assert.Empty(t, bad.ExportPath)
	_, err := os.Stat(filepath.Join(f.layout.DataDir, "grid", "Data_"+bad.Job.Name()+".csv"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, good.ExportErr)
	assert.FileExists(t, good.ExportPath)
	assert.Equal(t, 1, res.ExportFailures())
}

func TestSweep_InvalidParametersRejectedBeforeAnyStage(t *testing.T) {
	f := newSweepFixture(t, 0, 1)
	res := f.orch.Run(context.Background(), []core.Params{
		params(func(p *core.Params) { p.ProgOptimize = "sometimes" }),
		params(nil),
	})

	assert.Equal(t, JobFailed, res.Jobs[0].State)
	assert.Nil(t, res.Jobs[0].Job)
	assert.Equal(t, "row-1", res.Jobs[0].Name())
	var invalid *core.InvalidParameterError
	assert.True(t, errors.As(res.Jobs[0].Err, &invalid))
	assert.Equal(t, JobCompleted, res.Jobs[1].State)
	assert.Len(t, f.preCCRuns(t), 1)
}

func TestSweep_UnreadableCellFailsOnlyThatRow(t *testing.T) {
	f := newSweepFixture(t, 0, 2)
	res := f.orch.Run(context.Background(), []core.Params{
		params(nil),
		params(func(p *core.Params) { p.Unparsed = map[string]string{"mass": "abc"} }),
		params(func(p *core.Params) { p.Mass = 20 }),
	})

	require.Len(t, res.Jobs, 3)
	assert.Equal(t, JobCompleted, res.Jobs[0].State)
	assert.Equal(t, JobFailed, res.Jobs[1].State)
	assert.Equal(t, JobCompleted, res.Jobs[2].State)

	var invalid *core.InvalidParameterError
	require.True(t, errors.As(res.Jobs[1].Err, &invalid))
	assert.Equal(t, "mass", invalid.Field)
	assert.Equal(t, "abc", invalid.Value)
	assert.Len(t, f.preCCRuns(t), 2)
	assert.Len(t, f.stellaRuns(t), 2)

	rejected := 0
	for _, e := range f.recorder.Snapshot() {
		if e.Kind == trace.EventJobRejected {
			rejected++
			assert.Equal(t, "row-2", e.Job)
		}
	}
	assert.Equal(t, 1, rejected)
}

func TestSweep_RepeatedParametersAreLogged(t *testing.T) {
	f := newSweepFixture(t, 0, 1)
	var buf bytes.Buffer
	f.orch.Logger = slog.New(slog.NewTextHandler(&buf, nil))

	res := f.orch.Run(context.Background(), []core.Params{
		params(nil),
		params(func(p *core.Params) { p.Energy = 2 }),
		params(func(p *core.Params) { p.GridTag = "other" }),
	})

	assert.Equal(t, res.Jobs[0].Job.Name(), res.Jobs[2].Job.Name())
	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "Parameters repeat an earlier row"))
	assert.Contains(t, out, "first_index=1")
}

func TestSweep_TraceIsIndependentOfCompletionOrder(t *testing.T) {
	run := func() []byte {
		f := newSweepFixture(t, 0, 3)
		f.orch.Run(context.Background(), []core.Params{
			params(func(p *core.Params) { p.Ni56 = stellaSleepNickel }),
			params(func(p *core.Params) { p.Energy = 2 }),
			params(func(p *core.Params) { p.Energy = failingEnergy }),
		})
		b, err := f.recorder.Trace("sweep").CanonicalJSON()
		require.NoError(t, err)
		return b
	}
	assert.Equal(t, string(run()), string(run()))
}

func TestSweep_CancelledBeforeStartSkipsEverything(t *testing.T) {
	f := newSweepFixture(t, 0, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := f.orch.Run(ctx, []core.Params{params(nil), params(func(p *core.Params) { p.Energy = 2 })})
	for _, rec := range res.Jobs {
		assert.Equal(t, JobSkipped, rec.State)
		assert.ErrorIs(t, rec.Err, context.Canceled)
	}
	assert.Empty(t, f.preCCRuns(t))

	skipped := 0
	for _, e := range f.recorder.Snapshot() {
		if e.Kind == trace.EventJobSkipped {
			skipped++
		}
	}
	assert.Equal(t, 2, skipped)
}
