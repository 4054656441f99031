package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"stellarsweep/internal/config"
	"stellarsweep/internal/core"
	"stellarsweep/internal/state"
)

const (
	ExitSuccess           = 0
	ExitJobFailure        = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Default locations, relative to the work directory.
const (
	defaultGridDir  = "mesa-24.08.1/ModelGrids"
	defaultMesaDir  = "mesa-24.08.1"
	defaultInputDir = "InputFiles"
	defaultCacheDir = "ProgOptimize"
	defaultDataDir  = "DataExports"
	defaultLogDir   = "Logs"
)

// Invocation is the fully resolved description of a run. Every path is
// absolute and clean; relative flags are resolved against WorkDir, never the
// process current directory.
type Invocation struct {
	WorkDir   string
	SweepPath string

	// ManifestPath is the optional HCL template manifest.
	ManifestPath string
	// TracePath is empty when no trace is requested.
	TracePath string

	Mode    state.ExecutionMode
	Layout  core.Layout
	LogDir  string
	Logging LogConfig

	Workers int
	Threads int
	Timeout time.Duration

	MesaDir string
	SDKRoot string
}

type InvocationError struct {
	ExitCode int
	Message  string
	Err      error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *InvocationError) Unwrap() error { return e.Err }

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

func configError(err error) error {
	return &InvocationError{ExitCode: ExitConfigError, Message: err.Error(), Err: err}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "workdir", Usage: "absolute work directory (required)"},
		&cli.StringFlag{Name: "sweep", Usage: "sweep file, relative to the input directory unless absolute"},
		&cli.StringFlag{Name: "env", Usage: "dotenv file, relative to --workdir", Value: ".env"},
		&cli.StringFlag{Name: "templates", Usage: "HCL template manifest (default: built-in bindings)"},
		&cli.IntFlag{Name: "workers", Usage: "concurrent Stella runs"},
		&cli.IntFlag{Name: "threads", Usage: "OpenMP threads for MESA stages"},
		&cli.StringFlag{Name: "timeout", Usage: "deadline for each job's MESA stages, e.g. 2h or 7200 (0 disables)"},
		&cli.StringFlag{Name: "mode", Usage: "clean|incremental", Value: string(state.ExecutionModeIncremental)},
		&cli.StringFlag{Name: "trace", Usage: "write the canonical sweep trace to this file"},
		&cli.StringFlag{Name: "log-level", Usage: "debug|info|warn|error", Value: "info"},
		&cli.StringFlag{Name: "log-format", Usage: "text|json", Value: "text"},
		&cli.StringFlag{Name: "grid-dir", Usage: "template grid directory", Value: defaultGridDir},
		&cli.StringFlag{Name: "input-dir", Usage: "input directory", Value: defaultInputDir},
		&cli.StringFlag{Name: "cache-dir", Usage: "progenitor cache directory", Value: defaultCacheDir},
		&cli.StringFlag{Name: "data-dir", Usage: "export directory", Value: defaultDataDir},
		&cli.StringFlag{Name: "log-dir", Usage: "log directory", Value: defaultLogDir},
	}
}

// requireWorkDir validates --workdir.
func requireWorkDir(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", invalidInvocationf("--workdir is required")
	}
	workDir := filepath.Clean(raw)
	if !filepath.IsAbs(workDir) {
		return "", invalidInvocationf("--workdir must be an absolute path (got %q)", raw)
	}
	return workDir, nil
}

// ParseInvocation resolves the parsed flags against cfg. Flags that were set
// explicitly win over cfg.
func ParseInvocation(cmd *cli.Command, cfg *config.Config) (Invocation, error) {
	if args := cmd.Args().Slice(); len(args) != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(args, " "))
	}
	workDir, err := requireWorkDir(cmd.String("workdir"))
	if err != nil {
		return Invocation{}, err
	}

	inv := Invocation{WorkDir: workDir}

	dirs := []struct {
		flag string
		dst  *string
	}{
		{"grid-dir", &inv.Layout.GridDir},
		{"input-dir", &inv.Layout.InputDir},
		{"cache-dir", &inv.Layout.CacheDir},
		{"data-dir", &inv.Layout.DataDir},
		{"log-dir", &inv.LogDir},
	}
	for _, d := range dirs {
		p, err := resolveUnder(workDir, cmd.String(d.flag))
		if err != nil {
			return Invocation{}, invalidInvocationf("--%s: %v", d.flag, err)
		}
		*d.dst = p
	}

	sweep := cfg.SweepFile
	if cmd.IsSet("sweep") {
		sweep = cmd.String("sweep")
	}
	if inv.SweepPath, err = resolveUnder(inv.Layout.InputDir, sweep); err != nil {
		return Invocation{}, invalidInvocationf("--sweep: %v", err)
	}

	if raw := cmd.String("templates"); strings.TrimSpace(raw) != "" {
		if inv.ManifestPath, err = resolveUnder(workDir, raw); err != nil {
			return Invocation{}, invalidInvocationf("--templates: %v", err)
		}
	}
	if raw := cmd.String("trace"); strings.TrimSpace(raw) != "" {
		if inv.TracePath, err = resolveUnder(workDir, raw); err != nil {
			return Invocation{}, invalidInvocationf("--trace: %v", err)
		}
	}

	if inv.Mode, err = state.ParseMode(cmd.String("mode")); err != nil {
		return Invocation{}, invalidInvocationf("--mode: %v", err)
	}
	if inv.Logging.Level, err = ParseLogLevel(cmd.String("log-level")); err != nil {
		return Invocation{}, invalidInvocationf("--log-level: %v", err)
	}
	if inv.Logging.Format, err = ParseLogFormat(cmd.String("log-format")); err != nil {
		return Invocation{}, invalidInvocationf("--log-format: %v", err)
	}

	inv.Threads = cfg.Threads
	if cmd.IsSet("threads") {
		inv.Threads = int(cmd.Int("threads"))
	}
	inv.Workers = cfg.Workers
	if cmd.IsSet("workers") {
		inv.Workers = int(cmd.Int("workers"))
	}
	if inv.Threads < 1 {
		return Invocation{}, invalidInvocationf("--threads must be at least 1 (got %d)", inv.Threads)
	}
	if inv.Workers < 1 {
		return Invocation{}, invalidInvocationf("--workers must be at least 1 (got %d)", inv.Workers)
	}

	inv.Timeout = cfg.Timeout
	if cmd.IsSet("timeout") {
		if inv.Timeout, err = config.ParseDuration(cmd.String("timeout")); err != nil {
			return Invocation{}, invalidInvocationf("--timeout: %v", err)
		}
	}

	inv.MesaDir = filepath.Join(workDir, defaultMesaDir)
	if cfg.MesaDir != "" {
		if inv.MesaDir, err = resolveUnder(workDir, cfg.MesaDir); err != nil {
			return Invocation{}, configError(fmt.Errorf("STELLARSWEEP_MESA_DIR: %w", err))
		}
	}
	inv.SDKRoot = cfg.SDKRoot

	return inv, nil
}

// resolveUnder makes p absolute relative to base. base is always absolute,
// so the process current directory is never consulted.
func resolveUnder(base, p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("path must not be empty")
	}
	clean := filepath.Clean(p)
	if filepath.IsAbs(clean) {
		return clean, nil
	}
	return filepath.Join(base, clean), nil
}

// ExitCode extracts a semantic exit code from an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	return ExitInternalError
}
