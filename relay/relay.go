// Package relay stands in for the script injected into a spreadsheet page:
// it forwards requests to that page's panel and tracks the panel's
// heartbeat.
package relay

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ajolex/surveycto-vc-agent/bridge"
	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// Options configures a Relay.
type Options struct {
	// Timeout bounds each request. Zero means bridge.DefaultTimeout.
	Timeout time.Duration
	Clock   clockwork.Clock
	Metrics *metrics.Collector
	Logger  *log.Logger
}

// Relay forwards correlated requests to one panel.
type Relay struct {
	sheet   string
	monitor *bridge.Monitor
	router  *bridge.Router
	logger  *log.Logger
}

// Status is a point-in-time view of a relay.
type Status struct {
	Sheet    string    `json:"sheet" yaml:"sheet"`
	Alive    bool      `json:"alive" yaml:"alive"`
	LastSeen time.Time `json:"last_seen" yaml:"last_seen"`
	Pending  int       `json:"pending" yaml:"pending"`
}

// New creates a Relay for sheet that reaches its panel through out.
// Call Start to begin heartbeat monitoring.
func New(sheet string, out bridge.Broadcaster, opts Options) *Relay {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.Named("relay")

	monitor := bridge.NewMonitor(out, bridge.MonitorOptions{
		Clock:   opts.Clock,
		Metrics: opts.Metrics,
		Logger:  logger,
	})
	router := bridge.NewRouter(out, bridge.Options{
		Timeout:  opts.Timeout,
		Clock:    opts.Clock,
		Liveness: monitor,
		Metrics:  opts.Metrics,
		Logger:   logger,
	})
	return &Relay{sheet: sheet, monitor: monitor, router: router, logger: logger}
}

// Sheet returns the spreadsheet identifier.
func (r *Relay) Sheet() string { return r.sheet }

// Start begins probing the panel.
func (r *Relay) Start() { r.monitor.Start() }

// Stop ends probing. Outstanding requests still expire on their own.
func (r *Relay) Stop() { r.monitor.Stop() }

// Alive reports the panel liveness flag.
func (r *Relay) Alive() bool { return r.monitor.Alive() }

// Status returns the relay status.
func (r *Relay) Status() Status {
	return Status{
		Sheet:    r.sheet,
		Alive:    r.monitor.Alive(),
		LastSeen: r.monitor.LastSeen(),
		Pending:  r.router.Pending(),
	}
}

// LookupFormIDs asks the panel for the form ids in its spreadsheet.
func (r *Relay) LookupFormIDs(ctx context.Context) types.FormIDsReply {
	res := r.router.Call(ctx, types.Stamp(&types.BridgeRequest{Action: types.TypeLookupFormIDs}))
	reply := res.FormIDs()
	if reply.Error != "" {
		r.logger.Debug("form id lookup failed", map[string]any{"sheet": r.sheet, "error": reply.Error})
	}
	return reply
}

// LogDeployment asks the panel to record a deployment.
func (r *Relay) LogDeployment(ctx context.Context, entry types.DeploymentLog) types.CommandReply {
	res := r.router.Call(ctx, types.Stamp(&types.BridgeRequest{
		Action:  types.TypeLogDeployment,
		Payload: &entry,
	}))
	return res.Command()
}

// HandleReady records a panel heartbeat.
func (r *Relay) HandleReady() {
	r.monitor.Heartbeat()
}

// HandleResponse completes the request resp answers.
func (r *Relay) HandleResponse(resp *types.BridgeResponse) {
	r.router.ResolveResponse(resp)
}
