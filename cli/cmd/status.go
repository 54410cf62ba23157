package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/ajolex/surveycto-vc-agent/cli/config"
	"github.com/ajolex/surveycto-vc-agent/cli/render"
	"github.com/ajolex/surveycto-vc-agent/cli/tui"
	"github.com/ajolex/surveycto-vc-agent/lode"
	"github.com/ajolex/surveycto-vc-agent/status"
)

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show hub status: panels, staged deployment and counters",
		Flags: append(ClientFlags(),
			&cli.DurationFlag{Name: "watch", Usage: "Refresh interval for --tui (0 shows one snapshot)"},
		),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	base := c.String("url")
	fetch := func() (*status.Report, error) {
		ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
		defer cancel()
		return status.Fetch(ctx, base)
	}

	if c.Bool("tui") && c.Duration("watch") > 0 {
		return tui.RunStatusTUI(fetch, c.Duration("watch"))
	}
	if c.Duration("watch") > 0 {
		return cli.Exit("--watch requires --tui", exitUsage)
	}

	report, err := fetch()
	if err != nil {
		return cli.Exit(fmt.Sprintf("status: %v", err), exitFailed)
	}
	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewStatus, report)
	}
	return r.Render(report)
}

// HistoryCommand returns the history command, which reads archived
// upload outcomes.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show archived upload outcomes, newest first",
		Flags: append(ReadOnlyFlags(),
			ConfigFlag,
			&cli.StringFlag{Name: "form", Usage: "Filter by form id"},
			&cli.IntFlag{Name: "limit", Usage: "Maximum records (0 for all)", Value: 20},
			&cli.StringFlag{Name: "archive-backend", Usage: "Archive backend: fs or s3 (default: config archive.backend)"},
			&cli.StringFlag{Name: "archive-path", Usage: "Archive path (fs: directory, s3: bucket/prefix)"},
			&cli.StringFlag{Name: "archive-region", Usage: "AWS region for the s3 backend"},
			&cli.StringFlag{Name: "dataset", Usage: fmt.Sprintf("Lode dataset id (default: %q)", lode.DefaultDataset)},
		),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	archive := cfg.Archive
	if v := c.String("archive-backend"); v != "" {
		archive.Backend = v
	}
	if v := c.String("archive-path"); v != "" {
		archive.Path = v
	}
	if v := c.String("archive-region"); v != "" {
		archive.Region = v
	}
	if v := c.String("dataset"); v != "" {
		archive.Dataset = v
	}
	if archive.Backend == "" || archive.Path == "" {
		return cli.Exit("history needs an archive: set archive.backend and archive.path or pass --archive-backend and --archive-path", exitUsage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}

	ctx, cancel := context.WithTimeout(c.Context, 30*time.Second)
	defer cancel()

	ds, err := buildReadDataset(ctx, archive)
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize archive reader: %v", err), exitUsage)
	}
	records, err := lode.QueryOutcomes(ctx, ds, c.String("form"), c.Int("limit"))
	if errors.Is(err, lode.ErrNoOutcomes) {
		records = []lode.OutcomeRecord{}
	} else if err != nil {
		return cli.Exit(fmt.Sprintf("failed to read archive: %v", err), exitFailed)
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewHistory, records)
	}
	return r.Render(records)
}

// buildReadDataset opens the outcome dataset named by cfg for reading.
func buildReadDataset(ctx context.Context, cfg config.ArchiveConfig) (lodelibrary.Dataset, error) {
	switch cfg.Backend {
	case config.ArchiveFS:
		return lode.NewReadDatasetFS(cfg.Dataset, cfg.Path)
	case config.ArchiveS3:
		bucket, prefix := lode.ParseS3Path(cfg.Path)
		factory, err := lode.NewS3Factory(ctx, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return lode.NewReadDataset(cfg.Dataset, factory)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s (must be fs or s3)", cfg.Backend)
	}
}
