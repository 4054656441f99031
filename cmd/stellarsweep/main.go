package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"stellarsweep/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	code := run(ctx)
	stop()
	os.Exit(code)
}

// run keeps deferred cleanup ahead of os.Exit and turns a panic in the
// wiring layer into an internal error.
func run(ctx context.Context) (code int) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "internal error: panic:", r)
			code = cli.ExitInternalError
		}
	}()

	result, err := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return result.ExitCode
}
