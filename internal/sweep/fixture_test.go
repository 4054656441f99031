package sweep

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stellarsweep/internal/core"
	"stellarsweep/internal/export"
	"stellarsweep/internal/template"
	"stellarsweep/internal/template/templatetest"
	"stellarsweep/internal/trace"
)

// Behaviour switches understood by the fixture scripts. Each is keyed on a
// patched template value so that a single template tree serves every job.
const (
	slowPreCCMass     = 16   // PreCC sleeps 5s
	failingEnergy     = 99   // PostCC exits 9
	headerlessNickel  = 0.5  // Stella writes a table without the header
	stellaSleepNickel = 0.25 // Stella sleeps 300ms
)

type sweepFixture struct {
	root     string
	layout   core.Layout
	cache    *core.FileCache
	recorder *trace.Recorder
	orch     *Orchestrator
}

func newSweepFixture(t *testing.T, timeout time.Duration, workers int) *sweepFixture {
	t.Helper()
	root := t.TempDir()
	layout := core.Layout{
		GridDir:  filepath.Join(root, "grid"),
		InputDir: filepath.Join(root, "input"),
		CacheDir: filepath.Join(root, "cache"),
		DataDir:  filepath.Join(root, "data"),
	}
	catalog := template.DefaultCatalog()
	templatetest.WriteFamilies(t, layout.GridDir, catalog)
	templatetest.WriteFile(t, filepath.Join(layout.InputDir, "PreCSM.mod"), "accelerator", 0644)

	logs := filepath.Join(root, "logs")
	require.NoError(t, os.MkdirAll(logs, 0755))

	table := export.Header + "\n0.1 1 2 3 4 5 -17 -16.5 -16 -16.2 -16.4 -16.3 -17.1 0.5\n"
	for _, fam := range catalog.Families() {
		src := filepath.Join(layout.GridDir, fam.Source)
		templatetest.WriteScript(t, filepath.Join(src, "PreCC/run_mesa.sh"), strings.Join([]string{
			`echo "$PWD" >> ` + filepath.Join(logs, "precc.log"),
			`if grep -qx "value = ` + strconv.Itoa(slowPreCCMass) + `" inlist_mass_Z_wind_rotation; then sleep 5; fi`,
			`echo progenitor > final.mod`,
		}, "\n"))
		templatetest.WriteScript(t, filepath.Join(src, "PostCC/run_mesa.sh"), strings.Join([]string{
			`test -f pre_ccsn.mod || exit 3`,
			`if grep -qx "value = ` + strconv.Itoa(failingEnergy) + `d+50" inlist_edep; then echo boom >&2; exit 9; fi`,
			`touch mesa.abn mesa.hyd`,
		}, "\n"))
		templatetest.WriteScript(t, filepath.Join(src, "PostCC/run_mesa_optimized.sh"), strings.Join([]string{
			`test -f shock_part4.mod || exit 5`,
			`touch mesa.abn mesa.hyd`,
		}, "\n"))
		templatetest.WriteScript(t, filepath.Join(src, "PostCC/stella/run_stella.sh"), strings.Join([]string{
			`echo "$PWD" >> ` + filepath.Join(logs, "stella.log"),
			`mkdir -p res`,
			`if grep -qx "value = 0.25" ../inlist_shock_part3; then sleep 0.3; fi`,
			`if grep -qx "value = 0.5" ../inlist_shock_part3; then echo "no table" > res/mesa.tt; exit 0; fi`,
			`cat > res/mesa.tt <<'EOT'`,
			strings.TrimSuffix(table, "\n"),
			`EOT`,
		}, "\n"))
		require.NoError(t, os.MkdirAll(filepath.Join(src, "PostCC/stella/modmake"), 0755))
	}

	cache := core.NewFileCache(layout.CacheDir)
	recorder := trace.NewRecorder()
	return &sweepFixture{
		root:     root,
		layout:   layout,
		cache:    cache,
		recorder: recorder,
		orch: &Orchestrator{
			Runner:   core.NewRunner(layout, catalog),
			Cache:    cache,
			Guard:    NewDeadlineGuard(timeout),
			Exporter: export.NewExporter(layout.DataDir),
			Layout:   layout,
			Workers:  workers,
			Trace:    recorder,
		},
	}
}

// preCCRuns returns the job directories PreCC was launched in.
func (f *sweepFixture) preCCRuns(t *testing.T) []string {
	t.Helper()
	return readLog(t, filepath.Join(f.root, "logs", "precc.log"))
}

func (f *sweepFixture) stellaRuns(t *testing.T) []string {
	t.Helper()
	return readLog(t, filepath.Join(f.root, "logs", "stella.log"))
}

func readLog(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Fields(string(data))
}

func params(mutate func(*core.Params)) core.Params {
	p := core.Params{
		Mass:         15,
		Energy:       1,
		Ni56:         0.07,
		WindScalar:   1,
		Metallicity:  0.02,
		HeFrac:       0.28,
		CSMTime:      0,
		CSMRate:      0,
		CSMVelo:      0,
		ProgOptimize: "0",
		CSMOptimize:  "0",
		GridTag:      "grid",
	}
	if mutate != nil {
		mutate(&p)
	}
	return p
}
