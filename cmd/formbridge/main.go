// Package main provides the formbridge CLI entrypoint.
//
// `serve` runs the hub; every other command is a short-lived client of it,
// except `history`, which reads the deployment archive directly, and
// `version`.
//
// Usage:
//
//	formbridge <command> [options]
//
// Exit codes:
//   - 0: success
//   - 1: the request failed or the hub was unreachable
//   - 2: invalid flags or configuration
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ajolex/surveycto-vc-agent/cli/cmd"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:           "formbridge",
		Usage:          "Bridge SurveyCTO form deployments between spreadsheets and the console",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.ServeCommand(),
			cmd.StageCommand(),
			cmd.LookupCommand(),
			cmd.LogCommand(),
			cmd.StagedCommand(),
			cmd.StatusCommand(),
			cmd.HistoryCommand(),
			cmd.NativeHostCommand(),
			cmd.VersionCommand(commit),
		},
	}
}

// exitErrHandler preserves exit codes from cli.Exit().
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() is empty or "exit status N"; skip those.
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
