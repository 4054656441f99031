package export

import (
	"fmt"
	"math"
	"strconv"
)

// Bands are the derived columns, in output order.
var Bands = []string{"u", "g", "r", "i", "z"}

// SDSS converts Johnson-Cousins absolute magnitudes to SDSS ugriz by
// inverting the Lupton (2005) transformations. Rows where the inversion has
// no real solution yield NaN.
func SDSS(mb, mv, mr float64) [5]float64 {
	s := math.Sqrt(3.58517e10 - 3.81558e10*mb + 1.453e11*mb*mb - 3.768e11*mv)
	return [5]float64{
		7.30606e-11 * (-5.66804e9 + 4.31686e10*mb + 77341.9*s),
		3.44116e-8 * (-1.90779e6 + 1.453e7*mb - 38.1182*s),
		4.75955e-11 * (1.14344e9 - 7.65731e9*mb + 20088.3*s + 3.6325e10*mv),
		1.29688e-13 * (2.76958e12 + 6.7614e12*mb + 2.6263e13*mr - 1.7738e7*s - 3.2075e13*mv),
		2.05854e-15 * (6.85196e14 + 4.25968e14*mb + 1.65457e15*mr - 1.11749e9*s - 2.02072e15*mv),
	}
}

// AddBands appends the ugriz columns computed from MB, MV and MR.
func (t *Table) AddBands(name string) error {
	idx := map[string]int{}
	for _, c := range []string{"MB", "MV", "MR"} {
		i := t.Column(c)
		if i < 0 {
			return &ExportParseError{Path: name, Reason: "column " + c + " missing"}
		}
		idx[c] = i
	}

	for r, row := range t.Rows {
		var v [3]float64
		for k, c := range []string{"MB", "MV", "MR"} {
			f, err := strconv.ParseFloat(row[idx[c]], 64)
			if err != nil {
				return &ExportParseError{Path: name, Reason: fmt.Sprintf("row %d: %s is not a number: %q", r, c, row[idx[c]])}
			}
			v[k] = f
		}
		for _, m := range SDSS(v[0], v[1], v[2]) {
			t.Rows[r] = append(t.Rows[r], formatValue(m))
		}
	}
	t.Columns = append(t.Columns, Bands...)
	return nil
}

// formatValue leaves NaN cells empty, the way spreadsheet tools expect
// missing values.
func formatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
