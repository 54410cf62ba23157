// Package controller is the central dispatcher. It owns no transport: hub
// connections, the native host and tests all feed it decoded messages with
// a Sender and get back a reply body (or nil for fire-and-forget messages).
package controller

import (
	"context"

	"github.com/ajolex/surveycto-vc-agent/adapter"
	"github.com/ajolex/surveycto-vc-agent/deploy"
	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/relay"
	"github.com/ajolex/surveycto-vc-agent/tabs"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// Reply texts.
const (
	MsgNoSidebar      = "Sidebar not detected in any tab"
	MsgNoSpreadsheet  = "No spreadsheet tab open"
	MsgLogged         = "Deployment logged"
	MsgStaged         = "Opening SurveyCTO. Auto-upload will begin shortly."
	MsgOpenFailed     = "Could not open console tab"
	MsgResultRecorded = "Upload result recorded"
	MsgLogFailed      = "Could not log deployment"
)

// Archiver persists deployments. Both calls are best effort: failures are
// logged and counted, never surfaced to the caller.
type Archiver interface {
	ArchivePayload(ctx context.Context, d *types.DeploymentContext) error
	RecordOutcome(ctx context.Context, d *types.DeploymentContext) error
}

// Options configures a Controller.
type Options struct {
	// DefaultServer is used when a stage request carries no server.
	DefaultServer string
	Archive       Archiver
	Adapter       adapter.Adapter
	Metrics       *metrics.Collector
	Logger        *log.Logger
}

// Controller routes every inbound message to the component that owns it.
type Controller struct {
	store   deploy.Store
	tabs    *tabs.Orchestrator
	relays  *relay.Registry
	server  string
	archive Archiver
	adapter adapter.Adapter
	metrics *metrics.Collector
	logger  *log.Logger
}

// New creates a Controller.
func New(store deploy.Store, orch *tabs.Orchestrator, relays *relay.Registry, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	return &Controller{
		store:   store,
		tabs:    orch,
		relays:  relays,
		server:  opts.DefaultServer,
		archive: opts.Archive,
		adapter: opts.Adapter,
		metrics: opts.Metrics,
		logger:  logger.Named("controller"),
	}
}

// Store returns the deployment store.
func (c *Controller) Store() deploy.Store { return c.store }

// Relays returns the relay registry.
func (c *Controller) Relays() *relay.Registry { return c.relays }

// Dispatch handles msg from sender. The returned body is the reply to send
// back; nil means the message expects none.
func (c *Controller) Dispatch(ctx context.Context, from types.Sender, msg types.Message) any {
	c.metrics.IncMessage(string(msg.Kind()))

	switch m := msg.(type) {
	case *types.LookupFormIDs:
		return c.lookupFormIDs(ctx)
	case *types.LogDeployment:
		return c.logDeployment(ctx, m.DeploymentLog)
	case *types.StageDeployment:
		return c.stage(ctx, m)
	case *types.TabReady:
		return c.tabs.HandleReady(ctx, from.TabID)
	case *types.UploadResult:
		return c.uploadResult(ctx, from, m)
	case *types.QueryStaged:
		return types.StagedReply{Success: true, Data: c.store.Query()}
	case *types.RedirectRequest:
		if _, err := c.tabs.OpenOrFocus(ctx, m.URL); err != nil {
			c.logger.Warn("redirect failed", map[string]any{"url": m.URL, "error": err.Error()})
		}
		return nil
	case *types.Ready:
		if r := c.relays.Get(from.Sheet); r != nil {
			r.HandleReady()
		}
		return nil
	case *types.BridgeResponse:
		if r := c.relays.Get(from.Sheet); r != nil {
			r.HandleResponse(m)
		}
		return nil
	case *types.TabClosed:
		c.tabs.HandleClosed(m.TabID)
		return nil
	case *types.Ping:
		return nil
	case *types.PayloadPush, *types.BridgeRequest, *types.Response:
		c.logger.Warn("message in unexpected direction", map[string]any{
			"type": msg.Kind(),
			"role": from.Role,
		})
		return nil
	default:
		c.metrics.IncUnknownMessages()
		c.logger.Warn("unknown message type", map[string]any{
			"type": msg.Kind(),
			"role": from.Role,
		})
		return nil
	}
}

// lookupFormIDs asks every connected spreadsheet in connection order and
// returns the first non-empty answer.
func (c *Controller) lookupFormIDs(ctx context.Context) types.FormIDsReply {
	relays := c.relays.List()
	if len(relays) == 0 {
		return types.FormIDsReply{FormIDs: []string{}}
	}
	for _, r := range relays {
		reply := r.LookupFormIDs(ctx)
		if len(reply.FormIDs) > 0 {
			return reply
		}
	}
	return types.FormIDsReply{FormIDs: []string{}, Error: MsgNoSidebar}
}

func (c *Controller) logDeployment(ctx context.Context, entry types.DeploymentLog) types.CommandReply {
	relays := c.relays.List()
	if len(relays) == 0 {
		return types.CommandReply{Success: false, Error: MsgNoSpreadsheet}
	}
	if entry.FormName == "" {
		entry.FormName = entry.FormID
	}

	reply := relays[0].LogDeployment(ctx, entry)
	if !reply.Success {
		if reply.Error == "" {
			reply.Error = MsgLogFailed
		}
		c.logger.Warn("deployment log failed", map[string]any{
			"sheet":   relays[0].Sheet(),
			"form_id": entry.FormID,
			"error":   reply.Error,
		})
		return types.CommandReply{Success: false, Error: reply.Error}
	}
	return types.CommandReply{Success: true, Message: MsgLogged}
}

func (c *Controller) stage(ctx context.Context, m *types.StageDeployment) types.StageReply {
	server := m.ServerURL
	if server == "" {
		server = c.server
	}

	d := c.store.Stage(
		types.DeploymentPayload{FileBlob: m.FileBlob, Attachments: m.AttachmentBlobs},
		types.DeploymentMetadata{
			FormID:    m.FormID,
			FileName:  m.FileName,
			Message:   m.Message,
			ServerURL: server,
		},
	)
	c.metrics.IncDeploymentsStaged()
	c.logger.Info("deployment staged", map[string]any{
		"deployment_id": d.ID,
		"form_id":       d.Metadata.FormID,
		"server":        server,
		"bytes":         d.Payload.Size(),
	})

	if c.archive != nil {
		if err := c.archive.ArchivePayload(ctx, d); err != nil {
			c.metrics.IncArchiveWriteFailure()
			c.logger.Warn("payload archive failed", map[string]any{"deployment_id": d.ID, "error": err.Error()})
		} else {
			c.metrics.IncArchiveWriteSuccess()
		}
	}

	tab, err := c.tabs.OpenForDeployment(ctx, server)
	if err != nil {
		c.logger.Error("console tab open failed", map[string]any{
			"deployment_id": d.ID,
			"server":        server,
			"error":         err.Error(),
		})
		return types.StageReply{Success: false, Error: MsgOpenFailed}
	}
	return types.StageReply{Success: true, Message: MsgStaged, TabID: tab.ID}
}

// uploadResult records the outcome reported by the bound console tab.
// Reports from any other tab are rejected.
func (c *Controller) uploadResult(ctx context.Context, from types.Sender, m *types.UploadResult) types.CommandReply {
	cur := c.store.Query()
	if cur == nil || !cur.Bound() || cur.TargetTabID != from.TabID {
		c.logger.Debug("upload result from unbound tab", map[string]any{"tab_id": from.TabID})
		return types.CommandReply{Success: false, Error: deploy.MsgNoDeployment}
	}

	d := c.store.RecordResult(m.Success, m.Message)
	if d == nil {
		return types.CommandReply{Success: false, Error: deploy.MsgNoDeployment}
	}
	if m.Success {
		c.metrics.IncUploadsSucceeded()
	} else {
		c.metrics.IncUploadsFailed()
	}
	c.logger.Info("upload result recorded", map[string]any{
		"deployment_id": d.ID,
		"form_id":       d.Metadata.FormID,
		"success":       m.Success,
		"message":       m.Message,
	})

	if c.archive != nil {
		if err := c.archive.RecordOutcome(ctx, d); err != nil {
			c.metrics.IncArchiveWriteFailure()
			c.logger.Warn("outcome archive failed", map[string]any{"deployment_id": d.ID, "error": err.Error()})
		} else {
			c.metrics.IncArchiveWriteSuccess()
		}
	}
	c.publish(ctx, d)

	return types.CommandReply{Success: true, Message: MsgResultRecorded}
}

func (c *Controller) publish(ctx context.Context, d *types.DeploymentContext) {
	if c.adapter == nil {
		return
	}
	event := adapter.NewDeploymentCompletedEvent(d)
	if event == nil {
		return
	}
	if err := c.adapter.Publish(ctx, event); err != nil {
		c.metrics.IncAdapterPublishFailure()
		c.logger.Warn("completion event publish failed", map[string]any{
			"deployment_id": d.ID,
			"error":         err.Error(),
		})
		return
	}
	c.metrics.IncAdapterPublishSuccess()
}
