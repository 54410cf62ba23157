package tabs

import (
	"context"
	"strings"

	"github.com/ajolex/surveycto-vc-agent/deploy"
	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// Reply texts for the readiness handshake.
const (
	MsgUploadInProgress = "Upload in progress"
	MsgPushFailed       = "Failed to send upload command"
)

// Options configures an Orchestrator.
type Options struct {
	// Delivery overrides the Deliverer used for payload pushes. By default
	// the browser is used if it implements Deliverer.
	Delivery Deliverer
	Metrics  *metrics.Collector
	Logger   *log.Logger
}

// Orchestrator owns tab matching and the readiness handshake.
type Orchestrator struct {
	browser  Browser
	delivery Deliverer
	store    deploy.Store
	metrics  *metrics.Collector
	logger   *log.Logger
}

// Outcome reports what OpenOrFocus did.
type Outcome struct {
	Tab     Tab
	Focused bool
}

// New creates an Orchestrator.
func New(browser Browser, store deploy.Store, opts Options) *Orchestrator {
	o := &Orchestrator{
		browser:  browser,
		delivery: opts.Delivery,
		store:    store,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
	if o.delivery == nil {
		if d, ok := browser.(Deliverer); ok {
			o.delivery = d
		}
	}
	if o.logger == nil {
		o.logger = log.Nop()
	}
	return o
}

// OpenOrFocus focuses the first tab whose URL contains the normalized
// target, or opens a new tab at the exact target. A target that does not
// parse is always opened.
func (o *Orchestrator) OpenOrFocus(ctx context.Context, target string) (Outcome, error) {
	norm, err := Normalize(target)
	if err != nil {
		o.logger.Warn("target not normalizable, opening new tab", map[string]any{
			"url":   target,
			"error": err.Error(),
		})
		return o.open(ctx, target)
	}

	open, err := o.browser.Tabs(ctx)
	if err != nil {
		o.logger.Warn("tab listing failed, opening new tab", map[string]any{"error": err.Error()})
		return o.open(ctx, target)
	}

	for _, tab := range open {
		if !strings.Contains(tab.URL, norm) {
			continue
		}
		if err := o.browser.Focus(ctx, tab.ID); err != nil {
			o.logger.Warn("focus failed, opening new tab", map[string]any{
				"tab_id": tab.ID,
				"error":  err.Error(),
			})
			return o.open(ctx, target)
		}
		o.metrics.IncTabsFocused()
		o.logger.Info("focused existing tab", map[string]any{"tab_id": tab.ID, "url": tab.URL})
		return Outcome{Tab: tab, Focused: true}, nil
	}

	return o.open(ctx, target)
}

func (o *Orchestrator) open(ctx context.Context, target string) (Outcome, error) {
	tab, err := o.browser.Open(ctx, target)
	if err != nil {
		return Outcome{}, types.NewError(types.ErrorDeliveryFailure, "could not open tab", err)
	}
	o.metrics.IncTabsOpened()
	o.logger.Info("opened tab", map[string]any{"tab_id": tab.ID, "url": target})
	return Outcome{Tab: tab}, nil
}

// OpenForDeployment opens the console for server in a new tab and binds
// that tab as the consumer of the staged deployment.
func (o *Orchestrator) OpenForDeployment(ctx context.Context, server string) (Tab, error) {
	out, err := o.open(ctx, ConsoleURL(server))
	if err != nil {
		return Tab{}, err
	}
	o.store.BindTarget(out.Tab.ID)
	return out.Tab, nil
}

// HandleReady pushes the staged payload to tabID if it is the bound
// consumer. Nothing is sent to any other tab.
func (o *Orchestrator) HandleReady(ctx context.Context, tabID types.TabID) types.CommandReply {
	d, err := o.store.RetrieveIfOwner(tabID)
	if err != nil {
		o.metrics.IncReadyRejected()
		o.logger.Debug("ready from tab without deployment", map[string]any{"tab_id": tabID})
		return types.CommandReply{Success: false, Error: types.ErrorMessage(err)}
	}

	push := types.Stamp(&types.PayloadPush{
		FileBlob:        d.Payload.FileBlob,
		FileName:        d.Metadata.FileName,
		FormID:          d.Metadata.FormID,
		AttachmentBlobs: d.Payload.Attachments,
	})

	if o.delivery == nil {
		o.metrics.IncPayloadDeliveryFailures()
		o.logger.Error("no delivery path for payload push", map[string]any{"tab_id": tabID})
		return types.CommandReply{Success: false, Error: MsgPushFailed}
	}
	if err := o.delivery.Deliver(ctx, tabID, push); err != nil {
		o.metrics.IncPayloadDeliveryFailures()
		o.logger.Warn("payload push failed", map[string]any{
			"tab_id":        tabID,
			"deployment_id": d.ID,
			"error":         err.Error(),
		})
		return types.CommandReply{Success: false, Error: MsgPushFailed}
	}

	o.metrics.IncPayloadsDelivered()
	o.logger.Info("payload pushed", map[string]any{
		"tab_id":        tabID,
		"deployment_id": d.ID,
		"form_id":       d.Metadata.FormID,
		"bytes":         d.Payload.Size(),
	})
	return types.CommandReply{Success: true, Message: MsgUploadInProgress}
}

// HandleClosed retires the staged deployment when its bound tab closes.
func (o *Orchestrator) HandleClosed(tabID types.TabID) bool {
	if !o.store.ReleaseTab(tabID) {
		return false
	}
	o.metrics.IncDeploymentsReleased()
	o.logger.Info("deployment released by tab close", map[string]any{"tab_id": tabID})
	return true
}
