package template

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Markers delimiting the toolchain environment block in a run script.
const (
	BlockBegin = "# BEGIN BLOCK"
	BlockEnd   = "# END BLOCK"
)

// ErrNoBlock is returned when a script lacks the block markers.
var ErrNoBlock = errors.New("environment block markers not found")

// Toolchain locates the simulator installation a job runs against.
type Toolchain struct {
	MesaDir string
	SDKRoot string
	Threads int
}

// Block renders the shell lines that prepare the toolchain for a run with
// the given OpenMP thread count.
func (t Toolchain) Block(threads int) []string {
	return []string{
		fmt.Sprintf("export MESA_DIR=%q", t.MesaDir),
		"export OMP_NUM_THREADS=" + strconv.Itoa(threads),
		fmt.Sprintf("export MESASDK_ROOT=%q", t.SDKRoot),
		`source "$MESASDK_ROOT/bin/mesasdk_init.sh"`,
		`export PATH="$PATH:$MESA_DIR/scripts/shmesa"`,
	}
}

// Environ is the subset of Block that can be passed as process environment.
func (t Toolchain) Environ(threads int) map[string]string {
	return map[string]string{
		"MESA_DIR":        t.MesaDir,
		"OMP_NUM_THREADS": strconv.Itoa(threads),
		"MESASDK_ROOT":    t.SDKRoot,
	}
}

// RewriteBlock replaces everything between the first BlockBegin and the
// following BlockEnd line in path with lines. The markers are kept.
func RewriteBlock(path string, lines []string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	src := strings.Split(string(data), "\n")
	begin, end := -1, -1
	for i, l := range src {
		switch strings.TrimSpace(l) {
		case BlockBegin:
			if begin < 0 {
				begin = i
			}
		case BlockEnd:
			if begin >= 0 && end < 0 {
				end = i
			}
		}
	}
	if begin < 0 || end < 0 {
		return fmt.Errorf("%s: %w", path, ErrNoBlock)
	}

	out := make([]string, 0, len(src)-(end-begin)+len(lines)+1)
	out = append(out, src[:begin+1]...)
	out = append(out, lines...)
	out = append(out, src[end:]...)
	return os.WriteFile(path, []byte(strings.Join(out, "\n")), info.Mode().Perm())
}
