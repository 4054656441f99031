package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrCacheSealed is returned by Put once the cache has been sealed for the
// parallel phase.
var ErrCacheSealed = errors.New("artifact cache is sealed")

// InvalidParameterError reports a parameter set that cannot describe a job.
type InvalidParameterError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%q: %s", e.Field, e.Value, e.Reason)
}

// InvalidStageNameError reports a request for a stage that does not exist.
type InvalidStageNameError struct {
	Name string
}

func (e *InvalidStageNameError) Error() string {
	return fmt.Sprintf("invalid stage name %q (expected one of %s)", e.Name, strings.Join(stageNames(), ", "))
}

// StageExecutionError reports a stage whose external process did not exit
// zero. ExitCode is -1 when the process could not be started or was killed.
type StageExecutionError struct {
	Job      string
	Stage    Stage
	ExitCode int
	Err      error
}

func (e *StageExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("job %s: stage %s failed: %v", e.Job, e.Stage, e.Err)
	}
	return fmt.Sprintf("job %s: stage %s exited with status %d", e.Job, e.Stage, e.ExitCode)
}

func (e *StageExecutionError) Unwrap() error { return e.Err }

// MissingOutputError reports a stage that exited zero without producing one
// of its declared outputs.
type MissingOutputError struct {
	Job   string
	Stage Stage
	Path  string
}

func (e *MissingOutputError) Error() string {
	return fmt.Sprintf("job %s: stage %s did not produce %s", e.Job, e.Stage, e.Path)
}
