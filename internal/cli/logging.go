package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"stellarsweep/internal/core"
)

// Log file names inside the log directory.
const (
	LatestLog = "Latest.log"
	MESALog   = "MESA.log"
	StellaLog = "Stella.log"

	archiveDir    = "Archive"
	archiveLayout = "2006-01-02_15-04-05"
)

// LogConfig selects the level and handler format of every logger.
type LogConfig struct {
	Level  slog.Level
	Format string // "text" or "json"
}

// ParseLogLevel accepts debug, info, warn and error.
func ParseLogLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", s)
	}
	return l, nil
}

// ParseLogFormat accepts text and json.
func ParseLogFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case "text", "json":
		return f, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text|json)", s)
	}
}

// ArchiveLogs moves existing log files into Archive/<timestamp>/ under dir.
// It returns the archive directory, or "" when there was nothing to move.
func ArchiveLogs(dir string, now time.Time) (string, error) {
	var found []string
	for _, name := range []string{LatestLog, MESALog, StellaLog} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			found = append(found, name)
		}
	}
	if len(found) == 0 {
		return "", nil
	}

	dest := filepath.Join(dir, archiveDir, now.Format(archiveLayout))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("create log archive: %w", err)
	}
	for _, name := range found {
		if err := os.Rename(filepath.Join(dir, name), filepath.Join(dest, name)); err != nil {
			return "", fmt.Errorf("archive %s: %w", name, err)
		}
	}
	return dest, nil
}

// Logs owns the run's loggers: the orchestrator logger, which also writes to
// the console, and one logger each for MESA and Stella output.
type Logs struct {
	Main   *slog.Logger
	MESA   *slog.Logger
	Stella *slog.Logger

	files []*lumberjack.Logger
}

// OpenLogs creates the log directory and its three log files.
func OpenLogs(dir string, cfg LogConfig, console io.Writer) (*Logs, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	l := &Logs{}
	latest := l.file(filepath.Join(dir, LatestLog))
	l.Main = slog.New(newHandler(io.MultiWriter(console, latest), cfg))
	l.MESA = slog.New(newHandler(l.file(filepath.Join(dir, MESALog)), cfg)).With("logger", "MESA")
	l.Stella = slog.New(newHandler(l.file(filepath.Join(dir, StellaLog)), cfg)).With("logger", "Stella")
	return l, nil
}

func (l *Logs) file(path string) *lumberjack.Logger {
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		Compress:   true,
	}
	l.files = append(l.files, w)
	return w
}

func newHandler(w io.Writer, cfg LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Close flushes and closes the log files.
func (l *Logs) Close() error {
	var first error
	for _, f := range l.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Sinks returns the sink factory for stage output: MESA stages go to the MESA
// log, Stella to the Stella log.
func (l *Logs) Sinks(job *core.Job, stage core.Stage) core.LineSink {
	base, program := l.MESA, "MESA"
	if stage == core.StageStella {
		base, program = l.Stella, "Stella"
	}
	s := &stageSink{
		log:     base.With("job", job.Name(), "stage", stage.String()),
		program: program,
	}
	s.log.Info(fmt.Sprintf("------------- Beginning %s simulation -------------", program))
	return s
}

// stageSink logs stdout lines at INFO and stderr lines at ERROR.
type stageSink struct {
	log     *slog.Logger
	program string
}

func (s *stageSink) Line(stream core.Stream, text string) {
	if stream == core.Stderr {
		s.log.Error(text)
		return
	}
	s.log.Info(text)
}

func (s *stageSink) Finish(exitCode int) {
	s.log.Info(fmt.Sprintf("------------- Finished %s simulation -------------", s.program), "exit_code", exitCode)
}
