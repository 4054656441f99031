package cli

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"stellarsweep/internal/core"
	"stellarsweep/internal/trace"
)

// Sweep file columns. csmaccelerate is optional and defaults to csmoptimize.
var sweepColumns = []string{
	"mass", "energy", "ni56", "metallicity", "hefrac", "windscalar",
	"progoptimize", "csmvelo", "csmrate", "csmtime", "csmoptimize", "gridtag",
}

const acceleratorColumn = "csmaccelerate"

// SweepFileError reports a sweep file that cannot be read as a table:
// a missing header, missing or duplicate columns, or a ragged row.
// Individual rows with unusable values are not an error here; they become
// rejected jobs.
type SweepFileError struct {
	Path   string
	Line   int
	Reason string
}

func (e *SweepFileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("sweep file %s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("sweep file %s: %s", e.Path, e.Reason)
}

// Sweep is a loaded sweep file.
type Sweep struct {
	Rows []core.Params
	// Hash is the digest of the file's bytes.
	Hash string
}

// LoadSweep reads the CSV sweep file at path.
func LoadSweep(path string) (*Sweep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sweep file: %w", err)
	}
	rows, err := ParseSweep(bytes.NewReader(data), path)
	if err != nil {
		return nil, err
	}
	return &Sweep{Rows: rows, Hash: trace.Digest(data)}, nil
}

// ParseSweep reads sweep rows from CSV with a header. Column order is free
// and unknown columns are ignored. Empty or non-numeric cells are kept on
// the row, so the job is rejected rather than the file.
func ParseSweep(r io.Reader, name string) ([]core.Params, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &SweepFileError{Path: name, Reason: "missing header"}
	}
	if err != nil {
		return nil, &SweepFileError{Path: name, Line: 1, Reason: err.Error()}
	}

	index := map[string]int{}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := index[h]; dup && h != "" {
			return nil, &SweepFileError{Path: name, Line: 1, Reason: fmt.Sprintf("duplicate column %q", h)}
		}
		index[h] = i
	}
	var missing []string
	for _, c := range sweepColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &SweepFileError{Path: name, Line: 1, Reason: "missing columns: " + strings.Join(missing, ", ")}
	}

	var rows []core.Params
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return nil, &SweepFileError{Path: name, Line: pe.Line, Reason: pe.Err.Error()}
			}
			return nil, &SweepFileError{Path: name, Reason: err.Error()}
		}
		line, _ := cr.FieldPos(0)
		if blank(rec) {
			continue
		}
		if len(rec) != len(header) {
			return nil, &SweepFileError{Path: name, Line: line,
				Reason: fmt.Sprintf("expected %d fields, got %d", len(header), len(rec))}
		}

		rows = append(rows, rowParams(rec, index))
	}
	return rows, nil
}

// rowParams maps one record onto Params. Cells that are empty or not
// numbers never fail the file; NewJob rejects the row later.
func rowParams(rec []string, index map[string]int) core.Params {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var unparsed map[string]string
	num := func(col string) float64 {
		s := cell(col)
		if s == "" {
			return math.NaN()
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			if unparsed == nil {
				unparsed = map[string]string{}
			}
			unparsed[col] = s
			return math.NaN()
		}
		return v
	}

	return core.Params{
		Mass:          num("mass"),
		Energy:        num("energy"),
		Ni56:          num("ni56"),
		Metallicity:   num("metallicity"),
		HeFrac:        num("hefrac"),
		WindScalar:    num("windscalar"),
		CSMVelo:       num("csmvelo"),
		CSMRate:       num("csmrate"),
		CSMTime:       num("csmtime"),
		ProgOptimize:  core.Flag(cell("progoptimize")),
		CSMOptimize:   core.Flag(cell("csmoptimize")),
		CSMAccelerate: core.Flag(cell(acceleratorColumn)),
		GridTag:       cell("gridtag"),
		Unparsed:      unparsed,
	}
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
