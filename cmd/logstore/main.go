package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/logstore/internal/cli"
)

func main() {
	if err := run(); err != nil {
		// Commands report their own failures and return an ExitError
		// carrying the exit code. Anything else (flag parsing, unknown
		// commands) still needs printing.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}

func run() error {
	return cli.NewRootCommand().Execute()
}
