package export

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"stellarsweep/internal/core"
)

// UntaggedDir receives results of jobs with an empty grid tag.
const UntaggedDir = "untagged"

// Exporter writes <DataDir>/<grid tag>/Data_<job name>.csv for each job.
type Exporter struct {
	DataDir string
}

// NewExporter creates an exporter rooted at dataDir.
func NewExporter(dataDir string) *Exporter {
	return &Exporter{DataDir: dataDir}
}

// Path returns where the job's export is written.
func (e *Exporter) Path(job *core.Job) (string, error) {
	tag := strings.TrimSpace(job.GridTag)
	if tag == "" {
		tag = UntaggedDir
	}
	if tag == "." || tag == ".." || strings.ContainsAny(tag, `/\`) {
		return "", fmt.Errorf("grid tag %q cannot be used as a directory name", job.GridTag)
	}
	return filepath.Join(e.DataDir, tag, "Data_"+job.Name()+".csv"), nil
}

// Export parses the job's raw Stella table, adds the ugriz columns and
// writes the result. Nothing is written when parsing fails.
func (e *Exporter) Export(job *core.Job) (string, error) {
	out, err := e.Path(job)
	if err != nil {
		return "", err
	}

	src := job.ResultTablePath()
	f, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening raw output: %w", err)
	}
	defer f.Close()

	table, err := ParseTable(f, src)
	if err != nil {
		return "", err
	}
	if err := table.AddBands(src); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return "", fmt.Errorf("creating grid tag directory: %w", err)
	}
	if err := writeCSV(out, table); err != nil {
		return "", fmt.Errorf("writing %s: %w", out, err)
	}
	return out, nil
}

// writeCSV writes the table with a leading unnamed row-index column and
// renames it into place once complete.
func writeCSV(path string, t *Table) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(append([]string{""}, t.Columns...)); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if err := w.Write(append([]string{strconv.Itoa(i)}, row...)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
