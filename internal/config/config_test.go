package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"STELLARSWEEP_MESA_DIR", "STELLARSWEEP_MESASDK_ROOT", "MESASDK_ROOT",
	"STELLARSWEEP_THREADS", "STELLARSWEEP_WORKERS", "STELLARSWEEP_TIMEOUT", "STELLARSWEEP_SWEEP",
}

// clearEnv unsets every variable Load reads. t.Setenv registers the
// restore; godotenv treats a blank but present variable as set.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "", cfg.MesaDir)
	assert.Equal(t, runtime.NumCPU(), cfg.Threads)
	assert.Equal(t, cfg.Threads, cfg.Workers)
	assert.Zero(t, cfg.Timeout)
	assert.Equal(t, "Simlist.csv", cfg.SweepFile)
}

func TestLoad_FromEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"STELLARSWEEP_MESA_DIR=/opt/mesa\n"+
			"MESASDK_ROOT=/opt/mesasdk\n"+
			"STELLARSWEEP_THREADS=8\n"+
			"STELLARSWEEP_TIMEOUT=3600\n"+
			"STELLARSWEEP_SWEEP=grid.csv\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/mesa", cfg.MesaDir)
	assert.Equal(t, "/opt/mesasdk", cfg.SDKRoot)
	assert.Equal(t, 8, cfg.Threads)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, time.Hour, cfg.Timeout)
	assert.Equal(t, "grid.csv", cfg.SweepFile)
}

func TestLoad_EnvironmentWinsOverFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("STELLARSWEEP_WORKERS", "3")
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("STELLARSWEEP_WORKERS=5\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
}

func TestLoad_RejectsMalformedValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("STELLARSWEEP_THREADS", "many")
	t.Setenv("STELLARSWEEP_TIMEOUT", "-5")

	_, err := Load("")
	require.Error(t, err)

	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "STELLARSWEEP_THREADS")
	assert.Contains(t, err.Error(), "STELLARSWEEP_TIMEOUT")
}

func TestParseDuration(t *testing.T) {
	d, err := ParseDuration("90m")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	d, err = ParseDuration("1.5")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	_, err = ParseDuration("soon")
	assert.Error(t, err)
}
