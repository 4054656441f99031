package core

import (
	"strconv"
	"strings"
)

// Stage is one of the three ordered phases of a job.
type Stage int

const (
	// StagePreCC evolves the progenitor to core collapse.
	StagePreCC Stage = iota + 1
	// StagePostCC runs the explosion and prepares the radiative transfer input.
	StagePostCC
	// StageStella runs the radiative transfer. It is the only stage executed
	// in the parallel phase.
	StageStella
)

var stageNameTable = map[Stage]string{
	StagePreCC:  "PreCC",
	StagePostCC: "PostCC",
	StageStella: "Stella",
}

// Stages returns every stage in execution order.
func Stages() []Stage {
	return []Stage{StagePreCC, StagePostCC, StageStella}
}

func (s Stage) String() string {
	if n, ok := stageNameTable[s]; ok {
		return n
	}
	return "Stage(" + strconv.Itoa(int(s)) + ")"
}

// ParseStage resolves a stage by name, case-insensitively.
func ParseStage(name string) (Stage, error) {
	for _, s := range Stages() {
		if strings.EqualFold(stageNameTable[s], strings.TrimSpace(name)) {
			return s, nil
		}
	}
	return 0, &InvalidStageNameError{Name: name}
}

func stageNames() []string {
	out := make([]string, 0, len(stageNameTable))
	for _, s := range Stages() {
		out = append(out, stageNameTable[s])
	}
	return out
}
