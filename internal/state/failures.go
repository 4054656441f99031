package state

import (
	"context"
	"errors"
	"io/fs"

	"stellarsweep/internal/core"
	"stellarsweep/internal/export"
	"stellarsweep/internal/sweep"
)

// FailureFromError classifies a job error. Unknown errors are system
// failures.
func FailureFromError(err error) (Failure, error) {
	if err == nil {
		return Failure{}, errors.New("nil error")
	}

	var timeout *sweep.JobTimeoutError
	if errors.As(err, &timeout) {
		return Failure{
			Class:     FailureClassTimeout,
			Code:      "Timeout",
			Message:   err.Error(),
			Resumable: true,
		}, nil
	}

	var invalid *core.InvalidParameterError
	if errors.As(err, &invalid) {
		return Failure{
			Class:   FailureClassParameter,
			Code:    "InvalidParameter",
			Message: err.Error(),
		}, nil
	}

	var stageErr *core.StageExecutionError
	if errors.As(err, &stageErr) {
		code := "NonZeroExit"
		switch {
		case errors.Is(stageErr.Err, context.Canceled):
			return Failure{
				Class:     FailureClassSystem,
				Stage:     stageName(stageErr.Stage),
				Code:      "Interrupted",
				Message:   err.Error(),
				Resumable: true,
			}, nil
		case stageErr.Err != nil:
			code = "NotStarted"
		}
		return Failure{
			Class:     FailureClassExecution,
			Stage:     stageName(stageErr.Stage),
			Code:      code,
			Message:   err.Error(),
			Resumable: true,
		}, nil
	}

	var missing *core.MissingOutputError
	if errors.As(err, &missing) {
		return Failure{
			Class:     FailureClassExecution,
			Stage:     stageName(missing.Stage),
			Code:      "MissingOutput",
			Message:   err.Error(),
			Resumable: true,
		}, nil
	}

	var panicErr *sweep.PanicError
	if errors.As(err, &panicErr) {
		return Failure{
			Class:   FailureClassSystem,
			Code:    "Panic",
			Message: err.Error(),
		}, nil
	}

	if errors.Is(err, context.Canceled) {
		return Failure{
			Class:     FailureClassSystem,
			Code:      "Interrupted",
			Message:   err.Error(),
			Resumable: true,
		}, nil
	}

	return Failure{
		Class:     FailureClassSystem,
		Code:      "UnknownError",
		Message:   err.Error(),
		Resumable: true,
	}, nil
}

// exportFailure classifies an error from the result exporter.
func exportFailure(err error) Failure {
	code := "Error"
	var parseErr *export.ExportParseError
	switch {
	case errors.As(err, &parseErr):
		code = "ParseError"
	case errors.Is(err, fs.ErrNotExist):
		code = "MissingTable"
	}
	return Failure{
		Class:     FailureClassExport,
		Stage:     stageName(core.StageStella),
		Code:      code,
		Message:   err.Error(),
		Resumable: code != "ParseError",
	}
}

// OutcomeFromRecord builds the ledger row for one finished job.
func OutcomeFromRecord(runID string, rec *sweep.JobRecord) (JobOutcome, error) {
	out := JobOutcome{
		RunID:      runID,
		Index:      rec.Index,
		Job:        rec.Name(),
		Outcome:    string(rec.Outcome()),
		ExportPath: rec.ExportPath,
	}
	if out.Outcome == "" {
		out.Outcome = string(rec.State)
	}
	switch {
	case rec.Err != nil:
		f, err := FailureFromError(rec.Err)
		if err != nil {
			return JobOutcome{}, err
		}
		out.Failure = &f
	case rec.ExportErr != nil:
		f := exportFailure(rec.ExportErr)
		out.Failure = &f
	}
	return out, nil
}

func stageName(s core.Stage) *string {
	n := s.String()
	return &n
}
