package core

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// Layout holds the directories a sweep operates on. It is constructed once
// per run and passed to every component that touches the filesystem.
type Layout struct {
	// GridDir holds the template families and one working directory per job.
	GridDir string

	// InputDir holds the sweep file and the accelerator model.
	InputDir string

	// CacheDir is the stable location of reusable progenitor models.
	CacheDir string

	// DataDir receives exported result tables, one subdirectory per grid tag.
	DataDir string
}

// Flag is a raw optimization flag as read from the sweep input.
// It resolves to a boolean in NewJob.
type Flag string

// Resolve interprets the flag. Accepted spellings are 0/1, true/false, yes/no
// (case-insensitive, surrounding whitespace ignored). Integral float forms
// such as "1.0" are accepted because tabular tools often emit them.
func (f Flag) Resolve() (bool, bool) {
	s := strings.ToLower(strings.TrimSpace(string(f)))
	switch s {
	case "1", "true", "yes":
		return true, true
	case "0", "false", "no":
		return false, true
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		switch v {
		case 0:
			return false, true
		case 1:
			return true, true
		}
	}
	return false, false
}

// Params is one parameter set of the sweep.
type Params struct {
	Mass        float64
	Energy      float64
	Ni56        float64
	WindScalar  float64
	Metallicity float64
	HeFrac      float64

	CSMTime float64
	CSMRate float64
	CSMVelo float64

	ProgOptimize Flag
	CSMOptimize  Flag

	// CSMAccelerate pre-seeds the accelerator model before PostCC.
	// Empty means "same as CSMOptimize".
	CSMAccelerate Flag

	GridTag string

	// Unparsed holds the raw text of numeric cells that could not be read,
	// keyed by field name. NewJob rejects the job when it is not empty.
	Unparsed map[string]string
}

// ArtifactKey identifies a reusable progenitor model. It covers only the
// parameters that shape the progenitor: mass, metallicity, helium fraction and
// wind scaling.
type ArtifactKey string

// String returns the key as used in file names.
func (k ArtifactKey) String() string { return string(k) }

// FileName is the name of the cached model file for this key.
func (k ArtifactKey) FileName() string { return string(k) + ".mod" }

// Job is the immutable descriptor of one parameter set.
//
// Two jobs with identical parameters share Name, Dir and Key; the grid tag is
// not part of identity.
type Job struct {
	Params

	ProgOptimize    bool
	CSMOptimize     bool
	SeedAccelerator bool

	name string
	dir  string
	key  ArtifactKey
}

// NewJob validates params and derives the job identity. It performs no I/O.
func NewJob(p Params, layout Layout) (*Job, error) {
	numeric := []struct {
		name string
		v    float64
	}{
		{"mass", p.Mass},
		{"energy", p.Energy},
		{"ni56", p.Ni56},
		{"windscalar", p.WindScalar},
		{"metallicity", p.Metallicity},
		{"hefrac", p.HeFrac},
		{"csmtime", p.CSMTime},
		{"csmrate", p.CSMRate},
		{"csmvelo", p.CSMVelo},
	}
	for _, f := range numeric {
		if raw, ok := p.Unparsed[f.name]; ok {
			return nil, &InvalidParameterError{Field: f.name, Value: raw, Reason: "not a number"}
		}
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return nil, &InvalidParameterError{Field: f.name, Value: formatNumber(f.v), Reason: "not finite"}
		}
	}

	prog, ok := p.ProgOptimize.Resolve()
	if !ok {
		return nil, &InvalidParameterError{Field: "progoptimize", Value: string(p.ProgOptimize), Reason: "not a boolean"}
	}
	csm, ok := p.CSMOptimize.Resolve()
	if !ok {
		return nil, &InvalidParameterError{Field: "csmoptimize", Value: string(p.CSMOptimize), Reason: "not a boolean"}
	}
	accel := csm
	if strings.TrimSpace(string(p.CSMAccelerate)) != "" {
		accel, ok = p.CSMAccelerate.Resolve()
		if !ok {
			return nil, &InvalidParameterError{Field: "csmaccelerate", Value: string(p.CSMAccelerate), Reason: "not a boolean"}
		}
	}

	name := canonicalName(p)
	return &Job{
		Params:          p,
		ProgOptimize:    prog,
		CSMOptimize:     csm,
		SeedAccelerator: accel,
		name:            name,
		dir:             filepath.Join(layout.GridDir, name),
		key:             artifactKey(p),
	}, nil
}

// Name is the canonical identity of the job.
func (j *Job) Name() string { return j.name }

// Dir is the job's working directory.
func (j *Job) Dir() string { return j.dir }

// Key is the artifact cache key of the job's progenitor model.
func (j *Job) Key() ArtifactKey { return j.key }

// StageDir returns the working subdirectory a stage is launched from.
func (j *Job) StageDir(s Stage) string {
	switch s {
	case StagePreCC:
		return filepath.Join(j.dir, "PreCC")
	case StagePostCC:
		return filepath.Join(j.dir, "PostCC")
	default:
		return filepath.Join(j.dir, "PostCC", "stella")
	}
}

// TemplateValues returns the string form of every parameter that can be
// bound into a template file, keyed by logical parameter name.
func (j *Job) TemplateValues() map[string]string {
	cells := "0"
	if j.CSMRate != 0 {
		cells = "40"
	}
	return map[string]string{
		"mass":        formatNumber(j.Mass),
		"energy":      formatNumber(j.Energy),
		"ni56":        formatNumber(j.Ni56),
		"windscalar":  formatNumber(j.WindScalar),
		"metallicity": formatNumber(j.Metallicity),
		"hefrac":      formatNumber(j.HeFrac),
		"csmtime":     formatNumber(j.CSMTime),
		"csmrate":     formatNumber(j.CSMRate),
		"csmvelo":     formatNumber(j.CSMVelo),
		"csmcells":    cells,
	}
}

func canonicalName(p Params) string {
	var b strings.Builder
	parts := []struct {
		prefix string
		v      float64
	}{
		{"M", p.Mass},
		{"E", p.Energy},
		{"Ni", p.Ni56},
		{"Z", p.Metallicity},
		{"He", p.HeFrac},
		{"Eta", p.WindScalar},
		{"WT", p.CSMTime},
		{"WR", p.CSMRate},
		{"WV", p.CSMVelo},
	}
	for i, part := range parts {
		if i > 0 {
			b.WriteByte('_')
		}
		b.WriteString(part.prefix)
		b.WriteString(formatNumber(part.v))
	}
	return b.String()
}

func artifactKey(p Params) ArtifactKey {
	return ArtifactKey("M" + formatNumber(p.Mass) +
		"_Z" + formatNumber(p.Metallicity) +
		"_He" + formatNumber(p.HeFrac) +
		"_Eta" + formatNumber(p.WindScalar))
}

// formatNumber renders v in its shortest exact decimal form ("15", "0.02").
// Negative zero is written as "0".
func formatNumber(v float64) string {
	if v == 0 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
