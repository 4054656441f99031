package core

import (
	"fmt"
	"os"
	"path/filepath"
)

// File names fixed by the simulation toolchain, relative to the job directory.
const (
	preCCScript         = "PreCC/run_mesa.sh"
	postCCScript        = "PostCC/run_mesa.sh"
	postCCOptimized     = "PostCC/run_mesa_optimized.sh"
	stellaScript        = "PostCC/stella/run_stella.sh"
	progenitorOutput    = "PreCC/final.mod"
	progenitorHandOff   = "PostCC/pre_ccsn.mod"
	acceleratorHandOff  = "PostCC/shock_part4.mod"
	abundanceOutput     = "PostCC/mesa.abn"
	hydroOutput         = "PostCC/mesa.hyd"
	stellaInputDir      = "PostCC/stella/modmake"
	resultTableOutput   = "PostCC/stella/res/mesa.tt"
	acceleratorSeedName = "PreCSM.mod"
)

// Scripts lists every run script a job directory carries, relative to the
// job directory.
func Scripts() []string {
	return []string{preCCScript, postCCScript, postCCOptimized, stellaScript}
}

// ScriptPath returns the script a stage launches for this job.
func (j *Job) ScriptPath(s Stage) string {
	switch s {
	case StagePreCC:
		return filepath.Join(j.dir, preCCScript)
	case StagePostCC:
		if j.CSMOptimize {
			return filepath.Join(j.dir, postCCOptimized)
		}
		return filepath.Join(j.dir, postCCScript)
	default:
		return filepath.Join(j.dir, stellaScript)
	}
}

// Outputs returns the files a stage must leave behind when it exits zero.
func (j *Job) Outputs(s Stage) []string {
	switch s {
	case StagePreCC:
		return []string{filepath.Join(j.dir, progenitorOutput)}
	case StagePostCC:
		return []string{
			filepath.Join(j.dir, abundanceOutput),
			filepath.Join(j.dir, hydroOutput),
		}
	default:
		return []string{filepath.Join(j.dir, resultTableOutput)}
	}
}

// ProgenitorPath is the model produced by PreCC, the value stored in the
// artifact cache.
func (j *Job) ProgenitorPath() string { return filepath.Join(j.dir, progenitorOutput) }

// ResultTablePath is the raw Stella output consumed by the exporter.
func (j *Job) ResultTablePath() string { return filepath.Join(j.dir, resultTableOutput) }

// verifyOutputs reports the first declared output that is missing.
func verifyOutputs(job *Job, stage Stage) error {
	for _, path := range job.Outputs(stage) {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return &MissingOutputError{Job: job.Name(), Stage: stage, Path: path}
			}
			return fmt.Errorf("stat output %q: %w", path, err)
		}
		if info.IsDir() {
			return &MissingOutputError{Job: job.Name(), Stage: stage, Path: path}
		}
	}
	return nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
