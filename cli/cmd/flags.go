// Package cmd provides CLI commands for the formbridge binary.
package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ajolex/surveycto-vc-agent/cli/config"
	"github.com/ajolex/surveycto-vc-agent/hub"
)

// Exit codes shared by every command.
const (
	exitSuccess = 0
	// exitFailed means the request reached the hub and was refused, or the
	// hub could not be reached.
	exitFailed = 1
	// exitUsage means bad flags or an invalid config file.
	exitUsage = 2
)

// Shared flags.
var (
	// ConfigFlag points at formbridge.yaml.
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to formbridge.yaml",
		EnvVars: []string{"FORMBRIDGE_CONFIG"},
	}

	// URLFlag is the hub address used by client commands.
	URLFlag = &cli.StringFlag{
		Name:    "url",
		Usage:   "Hub address (ws:// or http://)",
		Value:   "ws://" + config.DefaultListen + "/ws",
		EnvVars: []string{"FORMBRIDGE_URL"},
	}

	// TimeoutFlag bounds each hub request made by a client command.
	TimeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "Per-request timeout",
		Value: hub.DefaultCallTimeout,
	}

	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for status and history.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (status, history only)",
	}
)

// ReadOnlyFlags returns the output flags shared by commands that print
// results. Includes --tui so that unsupported commands can reject it
// explicitly instead of failing with "flag not defined".
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// ClientFlags returns ReadOnlyFlags plus the hub connection flags.
func ClientFlags() []cli.Flag {
	return append([]cli.Flag{URLFlag, TimeoutFlag}, ReadOnlyFlags()...)
}

// rejectTUI fails commands that have no interactive view.
func rejectTUI(c *cli.Context) error {
	if c.Bool("tui") {
		return cli.Exit(fmt.Sprintf("--tui is not supported for %s command", c.Command.Name), exitUsage)
	}
	return nil
}

// loadConfig reads --config, or returns a zero Config when unset.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, cli.Exit(err.Error(), exitUsage)
	}
	return cfg, nil
}

// isStderrTTY reports whether stderr is a terminal.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
