package core

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
)

// Stream identifies the subprocess output stream a line arrived on.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// LineSink receives subprocess output one line at a time, as it is produced.
//
// Lines of one stream arrive in order. The two streams are read concurrently,
// so implementations must be safe for concurrent use.
type LineSink interface {
	Line(stream Stream, text string)
}

// FinishingSink is a LineSink that wants to know when its stage ended.
// Finish is called once, after both streams are drained.
type FinishingSink interface {
	LineSink
	Finish(exitCode int)
}

// LineSinkFunc adapts a function to LineSink.
type LineSinkFunc func(stream Stream, text string)

func (f LineSinkFunc) Line(stream Stream, text string) { f(stream, text) }

// DiscardSink drops every line.
var DiscardSink LineSink = LineSinkFunc(func(Stream, string) {})

// maxLineBytes bounds a single output line; longer lines are dropped and
// the lines after them still reach the sink.
const maxLineBytes = 1 << 20

// Command describes one subprocess launch.
type Command struct {
	// Dir is the working directory. It is required; the process current
	// directory is never used.
	Dir string

	// Script is interpreted by sh -c.
	Script string

	// Env is added on top of the inherited environment.
	Env map[string]string
}

// Executor launches stage subprocesses.
//
// Each subprocess runs in its own process group. When ctx is done the whole
// group is killed, so shell wrappers cannot leave the simulator running.
type Executor struct{}

// NewExecutor creates an Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Run executes cmd, streams its output into sink, and returns the exit code.
//
// A non-nil error means the process could not be started or was interrupted
// through ctx; the exit code is then -1.
func (e *Executor) Run(ctx context.Context, cmd Command, sink LineSink) (int, error) {
	if cmd.Dir == "" {
		return -1, fmt.Errorf("command has no working directory")
	}
	if cmd.Script == "" {
		return -1, fmt.Errorf("command script is empty")
	}
	if sink == nil {
		sink = DiscardSink
	}
	if err := ctx.Err(); err != nil {
		return -1, fmt.Errorf("execution cancelled: %w", err)
	}

	c := exec.Command("sh", "-c", cmd.Script)
	c.Dir = cmd.Dir
	c.Env = mergeEnv(os.Environ(), cmd.Env)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := c.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("opening stdout: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("opening stderr: %w", err)
	}

	if err := c.Start(); err != nil {
		return -1, fmt.Errorf("failed to start command: %w", err)
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go pump(&readers, stdout, Stdout, sink)
	go pump(&readers, stderr, Stderr, sink)

	// Wait must not run before both pipes are drained.
	done := make(chan error, 1)
	go func() {
		readers.Wait()
		done <- c.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = syscall.Kill(-c.Process.Pid, syscall.SIGKILL)
		<-done
		return -1, fmt.Errorf("execution cancelled: %w", ctx.Err())
	case err = <-done:
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("failed to execute command: %w", err)
	}
	return 0, nil
}

// pump delivers r to sink line by line. A line longer than maxLineBytes is
// dropped and reading carries on with the next one.
func pump(wg *sync.WaitGroup, r io.Reader, stream Stream, sink LineSink) {
	defer wg.Done()
	br := bufio.NewReaderSize(r, 64*1024)
	var (
		line      []byte
		oversized bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !oversized {
			if len(line)+len(chunk) > maxLineBytes+1 {
				oversized = true
				line = line[:0]
			} else {
				line = append(line, chunk...)
			}
		}

		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == nil:
			if !oversized {
				sink.Line(stream, trimEOL(line))
			}
		default:
			if !oversized && len(line) > 0 {
				sink.Line(stream, trimEOL(line))
			}
			// Keep draining so the child never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, r)
			return
		}
		line = line[:0]
		oversized = false
	}
}

func trimEOL(b []byte) string {
	b = bytes.TrimSuffix(b, []byte("\n"))
	b = bytes.TrimSuffix(b, []byte("\r"))
	return string(b)
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(keys))
	out = append(out, base...)
	for _, k := range keys {
		out = append(out, k+"="+extra[k])
	}
	return out
}
