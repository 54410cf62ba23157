package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/ajolex/surveycto-vc-agent/cli/render"
	"github.com/ajolex/surveycto-vc-agent/hub"
	"github.com/ajolex/surveycto-vc-agent/iox"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// StageCommand returns the stage command.
func StageCommand() *cli.Command {
	return &cli.Command{
		Name:      "stage",
		Usage:     "Stage a form for upload and open the SurveyCTO console",
		ArgsUsage: "<form.xlsx>",
		Flags: append(ClientFlags(),
			&cli.StringFlag{Name: "form-id", Usage: "Form id (default: file name without extension)"},
			&cli.StringSliceFlag{Name: "attachment", Aliases: []string{"a"}, Usage: "Attachment file (repeatable)"},
			&cli.StringFlag{Name: "server", Usage: "SurveyCTO server (default: hub's console.default_server)"},
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Deployment note"},
		),
		Action: stageAction,
	}
}

func stageAction(c *cli.Context) error {
	if err := rejectTUI(c); err != nil {
		return err
	}
	if c.NArg() != 1 {
		return cli.Exit("stage requires exactly one form file", exitUsage)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	msg, err := stageRequest(c.Args().First(), c.String("form-id"), c.StringSlice("attachment"))
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	msg.ServerURL = c.String("server")
	msg.Message = c.String("message")

	var reply types.StageReply
	if err := request(c, msg, &reply); err != nil {
		return err
	}
	if err := r.Render(&reply); err != nil {
		return err
	}
	if !reply.Success {
		return cli.Exit("", exitFailed)
	}
	return nil
}

// stageRequest reads the form and its attachments from disk.
func stageRequest(formPath, formID string, attachments []string) (*types.StageDeployment, error) {
	blob, err := os.ReadFile(formPath)
	if err != nil {
		return nil, fmt.Errorf("read form: %w", err)
	}
	name := filepath.Base(formPath)
	if formID == "" {
		formID = strings.TrimSuffix(name, filepath.Ext(name))
	}
	msg := &types.StageDeployment{
		FileBlob: blob,
		FileName: name,
		FormID:   formID,
	}
	for _, path := range attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		msg.AttachmentBlobs = append(msg.AttachmentBlobs, data)
	}
	return msg, nil
}

// LookupCommand returns the lookup command.
func LookupCommand() *cli.Command {
	return &cli.Command{
		Name:   "lookup",
		Usage:  "List form ids from the open spreadsheet sidebars",
		Flags:  ClientFlags(),
		Action: lookupAction,
	}
}

func lookupAction(c *cli.Context) error {
	if err := rejectTUI(c); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	var reply types.FormIDsReply
	if err := request(c, &types.LookupFormIDs{}, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return cli.Exit(reply.Error, exitFailed)
	}
	if reply.FormIDs == nil {
		reply.FormIDs = []string{}
	}
	return r.Render(reply.FormIDs)
}

// LogCommand returns the log command.
func LogCommand() *cli.Command {
	return &cli.Command{
		Name:  "log",
		Usage: "Record a deployment in the spreadsheet's deployment log",
		Flags: append(ClientFlags(),
			&cli.StringFlag{Name: "form-id", Usage: "Form id", Required: true},
			&cli.StringFlag{Name: "deployed-version", Usage: "Version reported by the server"},
			&cli.StringFlag{Name: "form-name", Usage: "Form title (default: form id)"},
			&cli.StringFlag{Name: "message", Aliases: []string{"m"}, Usage: "Deployment note"},
		),
		Action: logAction,
	}
}

func logAction(c *cli.Context) error {
	if err := rejectTUI(c); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	msg := &types.LogDeployment{DeploymentLog: types.DeploymentLog{
		FormID:          c.String("form-id"),
		DeployedVersion: c.String("deployed-version"),
		FormName:        c.String("form-name"),
		Message:         c.String("message"),
	}}
	var reply types.CommandReply
	if err := request(c, msg, &reply); err != nil {
		return err
	}
	if err := r.Render(&reply); err != nil {
		return err
	}
	if !reply.Success {
		return cli.Exit("", exitFailed)
	}
	return nil
}

// StagedCommand returns the staged command.
func StagedCommand() *cli.Command {
	return &cli.Command{
		Name:   "staged",
		Usage:  "Show the staged deployment, without its bytes",
		Flags:  ClientFlags(),
		Action: stagedAction,
	}
}

func stagedAction(c *cli.Context) error {
	if err := rejectTUI(c); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	var reply types.StagedReply
	if err := request(c, &types.QueryStaged{}, &reply); err != nil {
		return err
	}
	var summary *types.DeploymentSummary
	if reply.Data != nil {
		s := reply.Data.Summary()
		summary = &s
	}
	return r.Render(summary)
}

// request dials --url, sends msg and decodes the reply into out.
func request(c *cli.Context, msg types.Message, out any) error {
	client, err := hub.Dial(c.Context, c.String("url"), hub.DialOptions{
		Timeout: c.Duration("timeout"),
	})
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer iox.DiscardClose(client)

	if err := client.Request(c.Context, msg, out); err != nil {
		return cli.Exit(fmt.Sprintf("%s: %v", msg.Kind(), err), exitFailed)
	}
	return nil
}
