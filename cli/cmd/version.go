package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/ajolex/surveycto-vc-agent/cli/render"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// VersionResponse is the response for the version command.
type VersionResponse struct {
	Version  string `json:"version" yaml:"version"`
	Commit   string `json:"commit" yaml:"commit"`
	Protocol string `json:"protocol" yaml:"protocol"`
}

// VersionCommand returns the version command. It must not contact the hub.
func VersionCommand(commit string) *cli.Command {
	return &cli.Command{
		Name:   "version",
		Usage:  "Show version information",
		Flags:  ReadOnlyFlags(),
		Action: versionAction(commit),
	}
}

func versionAction(commit string) cli.ActionFunc {
	return func(c *cli.Context) error {
		if err := rejectTUI(c); err != nil {
			return err
		}
		r, err := render.NewRenderer(c)
		if err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
		return r.Render(VersionResponse{
			Version:  types.Version,
			Commit:   commit,
			Protocol: types.ProtocolVersion,
		})
	}
}
