// Package export turns Stella's raw light-curve output into per-job CSV
// files with derived SDSS magnitudes.
package export

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Header is the column header line Stella writes before its light-curve
// table, spacing included. The table is located by exact substring match.
const Header = "time           Tbb         vFe        Teff      Rlast_sc   R(tau2/3)    Mbol     MU      MB      MV      MI      MR   Mbolavg  gdepos"

// ExportParseError reports raw output that does not hold a usable table.
type ExportParseError struct {
	Path   string
	Line   int
	Reason string
}

func (e *ExportParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Path, e.Line, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Table is a whitespace-delimited table read from the header line onward.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ParseTable scans r for Header and reads the table that follows it. Blank
// lines are ignored; a row whose width differs from the header's is an
// error. name is used in error messages only.
func ParseTable(r io.Reader, name string) (*Table, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)

	var t *Table
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if t == nil {
			if strings.Contains(line, Header) {
				t = &Table{Columns: strings.Fields(line)}
			}
			continue
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) != len(t.Columns) {
			return nil, &ExportParseError{
				Path:   name,
				Line:   lineNo,
				Reason: fmt.Sprintf("row has %d fields, header has %d", len(fields), len(t.Columns)),
			}
		}
		t.Rows = append(t.Rows, fields)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	if t == nil {
		return nil, &ExportParseError{Path: name, Reason: "light-curve header not found"}
	}
	return t, nil
}

// Column returns the index of the named column, or -1.
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}
