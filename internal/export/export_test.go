package export

import (
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stellarsweep/internal/core"
)

const rawOutput = "STELLA run log\n" +
	" some preamble   line\n" +
	"  " + Header + "\n" +
	"  0.1 1.0 2.0 3.0 4.0 5.0 -17.0 -16.5 -16.0 -16.2 -16.4 -16.3 -17.1 0.5\n" +
	"\n" +
	"  0.2 1.1 2.1 3.1 4.1 5.1 -17.1 -16.6 -16.1 -16.3 -16.5 -16.4 -17.2 0.6\n"

func TestParseTable_FromHeaderOnward(t *testing.T) {
	tab, err := ParseTable(strings.NewReader(rawOutput), "mesa.tt")
	require.NoError(t, err)

	assert.Equal(t, strings.Fields(Header), tab.Columns)
	require.Len(t, tab.Rows, 2)
	assert.Equal(t, "0.2", tab.Rows[1][0])
	assert.Equal(t, 8, tab.Column("MB"))
}

func TestParseTable_HeaderMissing(t *testing.T) {
	_, err := ParseTable(strings.NewReader("time Tbb vFe\n1 2 3\n"), "mesa.tt")
	var parseErr *ExportParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Contains(t, parseErr.Reason, "header not found")
}

func TestParseTable_RaggedRow(t *testing.T) {
	_, err := ParseTable(strings.NewReader(Header+"\n1 2 3\n"), "mesa.tt")
	var parseErr *ExportParseError
	require.True(t, errors.As(err, &parseErr))
	assert.Equal(t, 2, parseErr.Line)
}

func TestSDSS_MatchesClosedForm(t *testing.T) {
	mb, mv, mr := -16.0, -16.2, -16.3
	s := math.Sqrt(3.58517e10 - 3.81558e10*mb + 1.453e11*mb*mb - 3.768e11*mv)
	got := SDSS(mb, mv, mr)

	assert.InDelta(t, 7.30606e-11*(-5.66804e9+4.31686e10*mb+77341.9*s), got[0], 1e-12)
	assert.InDelta(t, 2.05854e-15*(6.85196e14+4.25968e14*mb+1.65457e15*mr-1.11749e9*s-2.02072e15*mv), got[4], 1e-12)
	for i, v := range got {
		assert.False(t, math.IsNaN(v), Bands[i])
	}
	assert.Equal(t, got, SDSS(mb, mv, mr), "conversion is deterministic")
}

func TestSDSS_NoRealSolutionIsNaN(t *testing.T) {
	// Large positive MV drives the radicand negative.
	got := SDSS(0, 1, 0)
	for i, v := range got {
		assert.True(t, math.IsNaN(v), Bands[i])
	}
	assert.Equal(t, "", formatValue(got[0]))
}

func newJob(t *testing.T, grid, tag string) *core.Job {
	t.Helper()
	job, err := core.NewJob(core.Params{
		Mass: 15, Energy: 1, Ni56: 0.07, WindScalar: 1, Metallicity: 0.02, HeFrac: 0.28,
		ProgOptimize: "0", CSMOptimize: "0", GridTag: tag,
	}, core.Layout{GridDir: grid})
	require.NoError(t, err)
	return job
}

func writeRaw(t *testing.T, job *core.Job, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(job.ResultTablePath()), 0755))
	require.NoError(t, os.WriteFile(job.ResultTablePath(), []byte(content), 0644))
}

func TestExporter_WritesTagScopedCSV(t *testing.T) {
	root := t.TempDir()
	job := newJob(t, filepath.Join(root, "grid"), "tagA")
	writeRaw(t, job, rawOutput)

	e := NewExporter(filepath.Join(root, "data"))
	path, err := e.Export(job)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "data", "tagA", "Data_"+job.Name()+".csv"), path)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, records, 3)
	header := records[0]
	assert.Equal(t, "", header[0])
	assert.Equal(t, "time", header[1])
	assert.Equal(t, []string{"u", "g", "r", "i", "z"}, header[len(header)-5:])
	assert.Equal(t, "0", records[1][0])
	assert.Equal(t, "1", records[2][0])

	u, err := strconv.ParseFloat(records[1][len(header)-5], 64)
	require.NoError(t, err)
	assert.InDelta(t, SDSS(-16.0, -16.2, -16.3)[0], u, 1e-9)
}

func TestExporter_HeaderMissingWritesNothing(t *testing.T) {
	root := t.TempDir()
	job := newJob(t, filepath.Join(root, "grid"), "tagA")
	writeRaw(t, job, "no table here\n")

	e := NewExporter(filepath.Join(root, "data"))
	_, err := e.Export(job)
	var parseErr *ExportParseError
	require.True(t, errors.As(err, &parseErr))

	_, statErr := os.Stat(filepath.Join(root, "data", "tagA"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExporter_MissingRawOutput(t *testing.T) {
	root := t.TempDir()
	job := newJob(t, filepath.Join(root, "grid"), "tagA")

	_, err := NewExporter(filepath.Join(root, "data")).Export(job)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestExporter_Path(t *testing.T) {
	e := NewExporter("/data")
	job := newJob(t, "/grid", "")
	p, err := e.Path(job)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/data", UntaggedDir, "Data_"+job.Name()+".csv"), p)

	_, err = e.Path(newJob(t, "/grid", "../escape"))
	assert.Error(t, err)
}
