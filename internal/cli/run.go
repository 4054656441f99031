package cli

import (
	"context"
	"io"

	"github.com/urfave/cli/v3"

	"stellarsweep/internal/config"
)

// NewCommand builds the stellarsweep command. The outcome of a sweep is
// stored in *res when the action runs.
func NewCommand(res *Result, stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "stellarsweep",
		Usage:     "run a MESA/Stella supernova parameter sweep",
		Flags:     flags(),
		Writer:    stdout,
		ErrWriter: stderr,
		OnUsageError: func(_ context.Context, _ *cli.Command, err error, _ bool) error {
			return invalidInvocationf("%v", err)
		},
		// Exit codes are decided by Run, never by the library.
		ExitErrHandler: func(context.Context, *cli.Command, error) {},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			workDir, err := requireWorkDir(cmd.String("workdir"))
			if err != nil {
				return err
			}
			envFile, err := resolveUnder(workDir, cmd.String("env"))
			if err != nil {
				return invalidInvocationf("--env: %v", err)
			}
			cfg, err := config.Load(envFile)
			if err != nil {
				return configError(err)
			}
			inv, err := ParseInvocation(cmd, cfg)
			if err != nil {
				return err
			}
			*res, err = Execute(ctx, inv, stderr)
			return err
		},
	}
}

// Run is the command-line entrypoint, suitable for black-box tests. args
// excludes argv[0].
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) (Result, error) {
	var res Result
	cmd := NewCommand(&res, stdout, stderr)
	err := cmd.Run(ctx, append([]string{cmd.Name}, args...))
	if err != nil && res.ExitCode == ExitSuccess {
		res.ExitCode = ExitCode(err)
		if res.ExitCode == ExitInternalError {
			// Flag errors the library reports on its own path.
			res.ExitCode = ExitInvalidInvocation
		}
	}
	return res, err
}
