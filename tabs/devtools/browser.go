// Package devtools drives a running Chrome through the DevTools protocol.
//
// It lists, focuses and opens tabs for the orchestrator and gives console
// tabs a message path without a websocket: a runtime binding carries
// messages from the page, and window.postMessage carries them back.
package devtools

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/ajolex/surveycto-vc-agent/ipc"
	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/tabs"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// DefaultBinding is the page function console tabs call to send a message.
const DefaultBinding = "formbridgeSend"

const opTimeout = 10 * time.Second

// ErrUnknownTab is returned for tab ids the browser never reported.
var ErrUnknownTab = errors.New("unknown tab")

// Handler receives messages sent by console tabs and tab lifecycle
// events. *controller.Controller implements it.
type Handler interface {
	Dispatch(ctx context.Context, from types.Sender, msg types.Message) any
}

// Options configures Connect.
type Options struct {
	// Binding overrides DefaultBinding.
	Binding string
	Logger  *log.Logger
}

// Browser is a tabs.Browser and tabs.Deliverer backed by DevTools.
type Browser struct {
	ctx         context.Context
	allocCancel context.CancelFunc
	cancel      context.CancelFunc
	binding     string
	logger      *log.Logger

	mu       sync.Mutex
	handler  Handler
	next     types.TabID
	ids      map[target.ID]types.TabID
	targets  map[types.TabID]target.ID
	attached map[types.TabID]tabContext
}

type tabContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

var (
	_ tabs.Browser   = (*Browser)(nil)
	_ tabs.Deliverer = (*Browser)(nil)
)

// Connect attaches to the browser at ep.
func Connect(ctx context.Context, ep Endpoint, opts Options) (*Browser, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	binding := opts.Binding
	if binding == "" {
		binding = DefaultBinding
	}

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), ep.WSEndpoint)
	var ctxOpts []chromedp.ContextOption
	if ep.AttachTarget != "" {
		ctxOpts = append(ctxOpts, chromedp.WithTargetID(target.ID(ep.AttachTarget)))
	}
	bctx, cancel := chromedp.NewContext(allocCtx, ctxOpts...)

	connectCtx, stop := context.WithTimeout(bctx, opTimeout)
	defer stop()
	if err := chromedp.Run(connectCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("connect to %s: %w", ep.WSEndpoint, err)
	}
	if err := ctx.Err(); err != nil {
		cancel()
		allocCancel()
		return nil, err
	}

	b := &Browser{
		ctx:         bctx,
		allocCancel: allocCancel,
		cancel:      cancel,
		binding:     binding,
		logger:      logger.Named("devtools"),
		ids:         make(map[target.ID]types.TabID),
		targets:     make(map[types.TabID]target.ID),
		attached:    make(map[types.TabID]tabContext),
	}

	chromedp.ListenBrowser(bctx, func(ev any) {
		if e, ok := ev.(*target.EventTargetDestroyed); ok {
			go b.targetGone(e.TargetID)
		}
	})
	if err := b.browserDo(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(ctx)
	}); err != nil {
		b.logger.Warn("target discovery not enabled", map[string]any{"error": err.Error()})
	}
	return b, nil
}

// SetHandler installs the receiver for console messages and tab closes.
func (b *Browser) SetHandler(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

// Close disconnects from the browser.
func (b *Browser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}

// browserDo runs f against the browser-level executor.
func (b *Browser) browserDo(f func(ctx context.Context) error) error {
	c := chromedp.FromContext(b.ctx)
	if c == nil || c.Browser == nil {
		return errors.New("devtools: not connected")
	}
	ctx, cancel := context.WithTimeout(b.ctx, opTimeout)
	defer cancel()
	return f(cdp.WithExecutor(ctx, c.Browser))
}

// tabID returns the stable id for tid, assigning one on first sight.
func (b *Browser) tabID(tid target.ID) types.TabID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.ids[tid]; ok {
		return id
	}
	b.next++
	b.ids[tid] = b.next
	b.targets[b.next] = tid
	return b.next
}

func (b *Browser) target(id types.TabID) (target.ID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tid, ok := b.targets[id]
	return tid, ok
}

// Tabs implements tabs.Browser. Only page targets are listed.
func (b *Browser) Tabs(context.Context) ([]tabs.Tab, error) {
	ctx, cancel := context.WithTimeout(b.ctx, opTimeout)
	defer cancel()
	infos, err := chromedp.Targets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]tabs.Tab, 0, len(infos))
	for _, info := range infos {
		if info.Type != "page" {
			continue
		}
		out = append(out, tabs.Tab{ID: b.tabID(info.TargetID), URL: info.URL, Title: info.Title})
	}
	return out, nil
}

// Focus implements tabs.Browser.
func (b *Browser) Focus(_ context.Context, id types.TabID) error {
	tid, ok := b.target(id)
	if !ok {
		return fmt.Errorf("tab %d: %w", id, ErrUnknownTab)
	}
	return b.browserDo(func(ctx context.Context) error {
		return target.ActivateTarget(tid).Do(ctx)
	})
}

// Open implements tabs.Browser. The new tab gets the message binding so a
// console page can talk back without a hub connection.
func (b *Browser) Open(_ context.Context, rawURL string) (tabs.Tab, error) {
	var tid target.ID
	err := b.browserDo(func(ctx context.Context) error {
		var err error
		tid, err = target.CreateTarget(rawURL).Do(ctx)
		return err
	})
	if err != nil {
		return tabs.Tab{}, fmt.Errorf("create target: %w", err)
	}

	tab := tabs.Tab{ID: b.tabID(tid), URL: rawURL}
	if _, err := b.attach(tab.ID); err != nil {
		b.logger.Warn("binding not installed", map[string]any{"tab_id": tab.ID, "error": err.Error()})
	}
	return tab, nil
}

// attach returns the chromedp context for tab id, attaching and installing
// the binding on first use.
func (b *Browser) attach(id types.TabID) (context.Context, error) {
	b.mu.Lock()
	if tc, ok := b.attached[id]; ok {
		b.mu.Unlock()
		return tc.ctx, nil
	}
	tid, ok := b.targets[id]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("tab %d: %w", id, ErrUnknownTab)
	}

	tctx, tcancel := chromedp.NewContext(b.ctx, chromedp.WithTargetID(tid))
	chromedp.ListenTarget(tctx, func(ev any) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == b.binding {
			go b.fromPage(id, e.Payload)
		}
	})

	runCtx, cancel := context.WithTimeout(tctx, opTimeout)
	defer cancel()
	if err := chromedp.Run(runCtx, runtime.Enable(), runtime.AddBinding(b.binding)); err != nil {
		tcancel()
		return nil, err
	}

	b.mu.Lock()
	b.attached[id] = tabContext{ctx: tctx, cancel: tcancel}
	b.mu.Unlock()
	return tctx, nil
}

// Deliver implements tabs.Deliverer by posting msg into the page as JSON.
func (b *Browser) Deliver(_ context.Context, id types.TabID, msg types.Message) error {
	payload, err := ipc.EncodeMessage(ipc.JSON, msg)
	if err != nil {
		return err
	}
	tctx, err := b.attach(id)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(tctx, opTimeout)
	defer cancel()
	var posted bool
	script := fmt.Sprintf("(window.postMessage(%s, '*'), true)", payload)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &posted)); err != nil {
		return fmt.Errorf("post to tab %d: %w", id, err)
	}
	return nil
}

// fromPage handles one binding call from tab id and posts the reply back.
func (b *Browser) fromPage(id types.TabID, payload string) {
	b.mu.Lock()
	h := b.handler
	b.mu.Unlock()
	if h == nil {
		return
	}

	msg, err := ipc.DecodeMessage(ipc.JSON, []byte(payload))
	if err != nil {
		b.logger.Warn("undecodable page message", map[string]any{"tab_id": id, "error": err.Error()})
		return
	}
	reply := h.Dispatch(b.ctx, types.Sender{Role: types.RoleConsole, TabID: id}, msg)
	if reply == nil {
		return
	}
	resp := types.Stamp(&types.Response{Body: reply})
	resp.RequestID = msg.Head().RequestID
	if err := b.Deliver(b.ctx, id, resp); err != nil {
		b.logger.Warn("reply to page failed", map[string]any{"tab_id": id, "error": err.Error()})
	}
}

// targetGone forgets a destroyed target and reports the close.
func (b *Browser) targetGone(tid target.ID) {
	b.mu.Lock()
	id, ok := b.ids[tid]
	tc, wasAttached := b.attached[id]
	if ok {
		delete(b.ids, tid)
		delete(b.targets, id)
		delete(b.attached, id)
	}
	h := b.handler
	b.mu.Unlock()

	if ok && wasAttached {
		tc.cancel()
	}
	if !ok || h == nil {
		return
	}
	h.Dispatch(b.ctx, types.Sender{Role: types.RoleBrowser}, types.Stamp(&types.TabClosed{TabID: id}))
}
