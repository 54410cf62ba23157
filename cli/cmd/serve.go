package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/ajolex/surveycto-vc-agent/adapter"
	"github.com/ajolex/surveycto-vc-agent/adapter/redis"
	"github.com/ajolex/surveycto-vc-agent/adapter/webhook"
	"github.com/ajolex/surveycto-vc-agent/cli/config"
	"github.com/ajolex/surveycto-vc-agent/controller"
	"github.com/ajolex/surveycto-vc-agent/deploy"
	"github.com/ajolex/surveycto-vc-agent/hub"
	"github.com/ajolex/surveycto-vc-agent/lode"
	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/relay"
	"github.com/ajolex/surveycto-vc-agent/status"
	"github.com/ajolex/surveycto-vc-agent/tabs"
	"github.com/ajolex/surveycto-vc-agent/tabs/devtools"
)

const shutdownTimeout = 5 * time.Second

// ServeCommand returns the serve command, the long-running hub process.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the hub that connects spreadsheets, console tabs and clients",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides config listen)",
			},
			&cli.StringFlag{
				Name:  "browser",
				Usage: "Browser backend: memory or devtools (overrides config)",
			},
			&cli.StringFlag{
				Name:  "devtools-url",
				Usage: "DevTools HTTP address, e.g. http://127.0.0.1:9222 (implies --browser devtools)",
			},
			&cli.StringFlag{
				Name:  "default-server",
				Usage: "SurveyCTO server used when a stage request names none",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	applyServeFlags(c, cfg)
	if err := cfg.Validate(); err != nil {
		return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), exitUsage)
	}

	logger := log.NewLogger(log.Meta{Component: "serve", InstanceID: uuid.NewString()})
	if cfg.Log.Level != "" {
		if err := logger.SetLevel(cfg.Log.Level); err != nil {
			return cli.Exit(err.Error(), exitUsage)
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		return cli.Exit(err.Error(), exitFailed)
	}
	defer st.Close()

	ln, err := net.Listen("tcp", cfg.ListenAddr())
	if err != nil {
		return cli.Exit(fmt.Sprintf("listen: %v", err), exitFailed)
	}
	st.listen = ln.Addr().String()

	srv := &http.Server{
		Handler:           st.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	logger.Info("hub listening", map[string]any{
		"addr":    st.listen,
		"browser": cfg.BrowserBackend(),
		"archive": cfg.Archive.Backend,
		"adapter": cfg.Adapter.Type,
	})
	if isStderrTTY() {
		fmt.Fprintf(os.Stderr, "formbridge listening on ws://%s/ws\n", st.listen)
	}

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return cli.Exit(fmt.Sprintf("serve: %v", err), exitFailed)
		}
	case <-ctx.Done():
		logger.Info("shutting down", nil)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	st.hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", map[string]any{"error": err.Error()})
	}
	return nil
}

func applyServeFlags(c *cli.Context, cfg *config.Config) {
	if v := c.String("listen"); v != "" {
		cfg.Listen = v
	}
	if v := c.String("browser"); v != "" {
		cfg.Browser.Backend = v
	}
	if v := c.String("devtools-url"); v != "" {
		cfg.Browser.DevToolsURL = v
		if c.String("browser") == "" {
			cfg.Browser.Backend = config.BrowserDevTools
		}
	}
	if v := c.String("default-server"); v != "" {
		cfg.Console.DefaultServer = v
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
}

// stack is a fully wired hub process.
type stack struct {
	cfg       *config.Config
	logger    *log.Logger
	metrics   *metrics.Collector
	store     *deploy.Slot
	relays    *relay.Registry
	hub       *hub.Server
	ctrl      *controller.Controller
	startedAt time.Time
	listen    string
	closers   []func() error
}

// buildStack wires every component named by cfg. The caller owns the
// returned stack and must Close it.
func buildStack(ctx context.Context, cfg *config.Config, logger *log.Logger) (_ *stack, err error) {
	st := &stack{
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics.NewCollector(cfg.BrowserBackend(), cfg.Archive.Backend, cfg.Adapter.Type),
		store:     deploy.NewSlot(),
		startedAt: time.Now(),
		listen:    cfg.ListenAddr(),
	}
	defer func() {
		if err != nil {
			st.Close()
		}
	}()

	st.relays = relay.NewRegistry(func(sheet string) *relay.Relay {
		return relay.New(sheet, st.hub.PanelBroadcaster(sheet), relay.Options{
			Timeout: cfg.Bridge.RequestTimeout.Duration,
			Metrics: st.metrics,
			Logger:  logger,
		})
	})

	memoryBrowser := cfg.BrowserBackend() == config.BrowserMemory
	st.hub = hub.NewServer(st.relays, hub.Options{
		AllowedOrigins:         cfg.AllowedOrigins,
		ConsoleCloseIsTabClose: memoryBrowser,
		Metrics:                st.metrics,
		Logger:                 logger,
	})
	st.closers = append(st.closers, func() error { st.hub.Close(); return nil })

	var (
		browser  tabs.Browser
		delivery tabs.Deliverer
		remote   *devtools.Browser
	)
	if memoryBrowser {
		browser = tabs.NewMemory()
		delivery = st.hub
	} else {
		ep, err := devtools.Resolve(ctx, devtools.ResolveConfig{
			WSEndpoint:  cfg.Browser.WSEndpoint,
			DevToolsURL: cfg.Browser.DevToolsURL,
		})
		if err != nil {
			return nil, err
		}
		remote, err = devtools.Connect(ctx, ep, devtools.Options{
			Binding: cfg.Browser.Binding,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, remote.Close)
		browser = remote
	}

	archive, err := buildArchive(ctx, cfg.Archive)
	if err != nil {
		return nil, err
	}
	opts := controller.Options{
		DefaultServer: cfg.Console.DefaultServer,
		Metrics:       st.metrics,
		Logger:        logger,
	}
	if archive != nil {
		st.closers = append(st.closers, archive.Close)
		opts.Archive = archive
	}

	pub, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return nil, err
	}
	if pub != nil {
		st.closers = append(st.closers, pub.Close)
		opts.Adapter = pub
	}

	orch := tabs.New(browser, st.store, tabs.Options{
		Delivery: delivery,
		Metrics:  st.metrics,
		Logger:   logger,
	})
	st.ctrl = controller.New(st.store, orch, st.relays, opts)
	st.hub.SetDispatcher(st.ctrl)
	if remote != nil {
		remote.SetHandler(st.ctrl)
	}
	return st, nil
}

// Handler serves /ws and /status.
func (s *stack) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", s.hub)
	mux.Handle(status.Path, status.Handler(status.Source{
		Listen:      s.listen,
		StartedAt:   s.startedAt,
		Store:       s.store,
		Relays:      s.relays,
		Metrics:     s.metrics,
		Connections: s.hub.Connections,
	}))
	return mux
}

// Close releases components in reverse construction order.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close failed", map[string]any{"error": err.Error()})
		}
	}
	s.closers = nil
}

func buildArchive(ctx context.Context, cfg config.ArchiveConfig) (*lode.Archive, error) {
	lcfg := lode.Config{Dataset: cfg.Dataset}
	switch cfg.Backend {
	case "":
		return nil, nil
	case config.ArchiveFS:
		return lode.NewArchive(lcfg, cfg.Path)
	case config.ArchiveS3:
		bucket, prefix := lode.ParseS3Path(cfg.Path)
		return lode.NewS3Archive(ctx, lcfg, lode.S3Config{
			Bucket:       bucket,
			Prefix:       prefix,
			Region:       cfg.Region,
			Endpoint:     cfg.Endpoint,
			UsePathStyle: cfg.S3PathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", cfg.Backend)
	}
}

func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case config.AdapterWebhook:
		retries := webhook.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Secret:  cfg.Secret,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	case config.AdapterRedis:
		retries := redis.DefaultRetries
		if cfg.Retries != nil {
			retries = *cfg.Retries
		}
		return redis.New(redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Mode:    cfg.Mode,
			Timeout: cfg.Timeout.Duration,
			Retries: retries,
		})
	default:
		return nil, fmt.Errorf("unsupported adapter type: %s", cfg.Type)
	}
}
