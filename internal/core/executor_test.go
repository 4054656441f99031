package core

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedLine struct {
	stream Stream
	text   string
	at     time.Time
}

// recordingSink keeps every line it receives.
type recordingSink struct {
	mu    sync.Mutex
	lines []recordedLine
}

func (s *recordingSink) Line(stream Stream, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, recordedLine{stream: stream, text: text, at: time.Now()})
}

func (s *recordingSink) stream(stream Stream) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.lines {
		if l.stream == stream {
			out = append(out, l.text)
		}
	}
	return out
}

func TestExecutor_StreamsBothStreamsInOrder(t *testing.T) {
	sink := &recordingSink{}
	code, err := NewExecutor().Run(context.Background(), Command{
		Dir:    t.TempDir(),
		Script: "for i in 1 2 3; do echo out$i; echo err$i >&2; done",
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Equal(t, []string{"out1", "out2", "out3"}, sink.stream(Stdout))
	assert.Equal(t, []string{"err1", "err2", "err3"}, sink.stream(Stderr))
}

func TestExecutor_OversizedLineIsDroppedAlone(t *testing.T) {
	script := "echo before\n" +
		"head -c 1100000 /dev/zero | tr '\\0' x; echo\n" +
		"echo after1\n" +
		"printf after2"
	sink := &recordingSink{}
	code, err := NewExecutor().Run(context.Background(), Command{Dir: t.TempDir(), Script: script}, sink)
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Equal(t, []string{"before", "after1", "after2"}, sink.stream(Stdout))
}

func TestExecutor_LinesArriveBeforeExit(t *testing.T) {
	sink := &recordingSink{}
	start := time.Now()
	_, err := NewExecutor().Run(context.Background(), Command{
		Dir:    t.TempDir(),
		Script: "echo early; sleep 1; echo late",
	}, sink)
	require.NoError(t, err)

	require.Len(t, sink.lines, 2)
	assert.Less(t, sink.lines[0].at.Sub(start), 900*time.Millisecond, "first line must not wait for process exit")
}

func TestExecutor_NonZeroExit(t *testing.T) {
	code, err := NewExecutor().Run(context.Background(), Command{Dir: t.TempDir(), Script: "exit 7"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, code)
}

func TestExecutor_UsesExplicitDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker"), []byte("here"), 0644))

	sink := &recordingSink{}
	code, err := NewExecutor().Run(context.Background(), Command{Dir: dir, Script: "cat marker; pwd"}, sink)
	require.NoError(t, err)
	require.Equal(t, 0, code)

	out := sink.stream(Stdout)
	require.Len(t, out, 2)
	assert.Equal(t, "here", out[0])
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out[1], filepath.Base(resolved)))
}

func TestExecutor_RequiresDirectory(t *testing.T) {
	_, err := NewExecutor().Run(context.Background(), Command{Script: "true"}, nil)
	assert.Error(t, err)
}

func TestExecutor_AddsEnvironment(t *testing.T) {
	t.Setenv("STELLARSWEEP_INHERITED", "kept")
	sink := &recordingSink{}
	_, err := NewExecutor().Run(context.Background(), Command{
		Dir:    t.TempDir(),
		Script: `echo "$OMP_NUM_THREADS $STELLARSWEEP_INHERITED"`,
		Env:    map[string]string{"OMP_NUM_THREADS": "3"},
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, []string{"3 kept"}, sink.stream(Stdout))
}

func TestExecutor_CancellationKillsProcessGroup(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	// The child sleeps in a subshell so only a group kill stops it.
	code, err := NewExecutor().Run(ctx, Command{
		Dir:    dir,
		Script: "(sleep 5; touch survived) & wait",
	}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, -1, code)
	assert.Less(t, time.Since(start), 3*time.Second)

	time.Sleep(100 * time.Millisecond)
	_, statErr := os.Stat(filepath.Join(dir, "survived"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExecutor_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code, err := NewExecutor().Run(ctx, Command{Dir: t.TempDir(), Script: "true"}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, -1, code)
}
