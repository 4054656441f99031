package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellarsweep/internal/core"
	"stellarsweep/internal/sweep"
)

func TestFailureFromError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		class     FailureClass
		code      string
		stage     string
		resumable bool
	}{
		{
			name:  "invalid parameter",
			err:   &core.InvalidParameterError{Field: "energy", Value: "+Inf", Reason: "not finite"},
			class: FailureClassParameter, code: "InvalidParameter",
		},
		{
			name:  "non-zero exit",
			err:   fmt.Errorf("wrapped: %w", &core.StageExecutionError{Job: "j", Stage: core.StagePostCC, ExitCode: 3}),
			class: FailureClassExecution, code: "NonZeroExit", stage: "PostCC", resumable: true,
		},
		{
			name:  "not started",
			err:   &core.StageExecutionError{Job: "j", Stage: core.StagePreCC, ExitCode: -1, Err: fs.ErrPermission},
			class: FailureClassExecution, code: "NotStarted", stage: "PreCC", resumable: true,
		},
		{
			name:  "interrupted stage",
			err:   &core.StageExecutionError{Job: "j", Stage: core.StagePreCC, ExitCode: -1, Err: fmt.Errorf("execution cancelled: %w", context.Canceled)},
			class: FailureClassSystem, code: "Interrupted", stage: "PreCC", resumable: true,
		},
		{
			name:  "missing output",
			err:   &core.MissingOutputError{Job: "j", Stage: core.StageStella, Path: "res/mesa.tt"},
			class: FailureClassExecution, code: "MissingOutput", stage: "Stella", resumable: true,
		},
		{
			name: "timeout wraps the killed stage",
			err: &sweep.JobTimeoutError{Job: "j", Timeout: time.Second,
				Err: &core.StageExecutionError{Job: "j", Stage: core.StagePreCC, ExitCode: -1, Err: context.DeadlineExceeded}},
			class: FailureClassTimeout, code: "Timeout", resumable: true,
		},
		{
			name:  "panic",
			err:   &sweep.PanicError{Job: "j", Value: "boom"},
			class: FailureClassSystem, code: "Panic",
		},
		{
			name:  "unknown",
			err:   errors.New("disk on fire"),
			class: FailureClassSystem, code: "UnknownError", resumable: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := FailureFromError(tt.err)
			require.NoError(t, err)
			require.NoError(t, f.Validate())
			assert.Equal(t, tt.class, f.Class)
			assert.Equal(t, tt.code, f.Code)
			assert.Equal(t, tt.resumable, f.Resumable)
			if tt.stage == "" {
				assert.Nil(t, f.Stage)
			} else {
				require.NotNil(t, f.Stage)
				assert.Equal(t, tt.stage, *f.Stage)
			}
		})
	}
}

func TestFailureFromError_Nil(t *testing.T) {
	_, err := FailureFromError(nil)
	assert.Error(t, err)
}

func TestExportFailure_MissingTable(t *testing.T) {
	f := exportFailure(fmt.Errorf("open mesa.tt: %w", fs.ErrNotExist))
	assert.Equal(t, FailureClassExport, f.Class)
	assert.Equal(t, "MissingTable", f.Code)
	assert.True(t, f.Resumable)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Clean ")
	require.NoError(t, err)
	assert.Equal(t, ExecutionModeClean, m)

	_, err = ParseMode("resume-only")
	assert.Error(t, err)
}
