// Package bridge implements correlated request/response messaging between
// isolated contexts, and the heartbeat monitor that gates it.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// DefaultTimeout is how long a request waits for its response.
const DefaultTimeout = 10 * time.Second

// Messages placed in Result errors. They end up verbatim in response
// "error" fields seen by callers.
const (
	MsgTimeout         = "Timeout"
	MsgPeerUnreachable = "Sidebar not open"
	MsgDeliveryFailure = "Failed to deliver request"
	MsgRemoteFailure   = "Request failed"
)

// Broadcaster hands a message to the peer context. An error means the
// message certainly did not leave.
type Broadcaster interface {
	Broadcast(msg types.Message) error
}

// BroadcastFunc adapts a function to Broadcaster.
type BroadcastFunc func(msg types.Message) error

// Broadcast calls f(msg).
func (f BroadcastFunc) Broadcast(msg types.Message) error { return f(msg) }

// Liveness gates sends on the peer being reachable.
type Liveness interface {
	Alive() bool
	// EnsureAlive reports, possibly later and on another goroutine,
	// whether the peer is alive after at most one probe.
	EnsureAlive(done func(alive bool))
}

// Options configures a Router.
type Options struct {
	// Timeout bounds each request. Zero means DefaultTimeout.
	Timeout time.Duration
	// Clock drives deadlines. Nil means the wall clock.
	Clock clockwork.Clock
	// Liveness, when set, is consulted before every send.
	Liveness Liveness
	Metrics  *metrics.Collector
	Logger   *log.Logger
}

// Router correlates requests with responses.
//
// Every request gets a fresh id and a single-use continuation. The
// continuation runs exactly once: with the response, with a timeout, or
// with a send failure. Entries are removed from the pending table before
// their continuation runs, so a late response finds nothing and is dropped.
type Router struct {
	out     Broadcaster
	timeout time.Duration
	clock   clockwork.Clock
	live    Liveness
	metrics *metrics.Collector
	logger  *log.Logger

	mu      sync.Mutex
	nextID  int64
	pending map[int64]*pendingRequest
}

type pendingRequest struct {
	kind  types.MessageType
	done  func(Result)
	timer clockwork.Timer
}

// NewRouter creates a Router that sends through out.
func NewRouter(out Broadcaster, opts Options) *Router {
	r := &Router{
		out:     out,
		timeout: opts.Timeout,
		clock:   opts.Clock,
		live:    opts.Liveness,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		pending: make(map[int64]*pendingRequest),
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.logger == nil {
		r.logger = log.Nop()
	}
	return r
}

// Send issues msg as a correlated request and arranges for done to be
// called exactly once. It returns the request id, or 0 when the send was
// deferred behind a liveness probe (the id is then assigned later, if the
// peer answers the probe).
//
// done may run on the calling goroutine (send failure) or on a timer or
// transport goroutine. It must not block.
func (r *Router) Send(msg types.Message, done func(Result)) int64 {
	if r.live != nil && !r.live.Alive() {
		kind := requestKind(msg)
		r.live.EnsureAlive(func(alive bool) {
			if alive {
				r.dispatch(msg, done)
				return
			}
			r.metrics.IncPeerUnreachable()
			r.logger.Debug("peer unreachable", map[string]any{"kind": string(kind)})
			done(Result{
				Kind: kind,
				Err:  types.NewError(types.ErrorPeerUnreachable, MsgPeerUnreachable, nil),
			})
		})
		return 0
	}
	return r.dispatch(msg, done)
}

func (r *Router) dispatch(msg types.Message, done func(Result)) int64 {
	kind := requestKind(msg)

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	p := &pendingRequest{kind: kind, done: done}
	r.pending[id] = p
	msg.Head().RequestID = id
	p.timer = r.clock.AfterFunc(r.timeout, func() { r.expire(id) })
	r.mu.Unlock()

	r.metrics.IncRequestsSent()

	if err := r.out.Broadcast(msg); err != nil {
		if p := r.take(id); p != nil {
			p.timer.Stop()
			r.metrics.IncSendFailures()
			r.logger.Warn("request send failed", map[string]any{
				"request_id": id,
				"kind":       string(kind),
				"error":      err.Error(),
			})
			p.done(Result{
				ID:   id,
				Kind: kind,
				Err:  types.NewError(types.ErrorDeliveryFailure, MsgDeliveryFailure, err),
			})
		}
	}
	return id
}

// Resolve completes request id. It reports whether a pending request was
// found; unknown and already-completed ids are ignored.
func (r *Router) Resolve(id int64, success bool, data any, errMsg string) bool {
	p := r.take(id)
	if p == nil {
		r.metrics.IncLateResponses()
		r.logger.Debug("response for unknown request dropped", map[string]any{"request_id": id})
		return false
	}
	p.timer.Stop()
	r.metrics.IncRequestsResolved()

	res := Result{ID: id, Kind: p.kind, Success: success, Data: data}
	if !success {
		if errMsg == "" {
			errMsg = MsgRemoteFailure
		}
		res.Err = types.NewError(types.ErrorRemote, errMsg, nil)
	}
	p.done(res)
	return true
}

// ResolveResponse completes the request answered by resp.
func (r *Router) ResolveResponse(resp *types.BridgeResponse) bool {
	return r.Resolve(resp.RequestID, resp.Success, resp.Data, resp.Error)
}

// Call sends msg and waits for its result or for ctx to end. When ctx ends
// first the pending entry is left to expire on its own deadline.
func (r *Router) Call(ctx context.Context, msg types.Message) Result {
	ch := make(chan Result, 1)
	r.Send(msg, func(res Result) { ch <- res })

	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return Result{Kind: requestKind(msg), Err: ctx.Err()}
	}
}

// Pending returns the number of outstanding requests.
func (r *Router) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) expire(id int64) {
	p := r.take(id)
	if p == nil {
		return
	}
	r.metrics.IncRequestsTimedOut()
	r.logger.Warn("request timed out", map[string]any{
		"request_id": id,
		"kind":       string(p.kind),
		"timeout_ms": r.timeout.Milliseconds(),
	})
	p.done(Result{
		ID:   id,
		Kind: p.kind,
		Err:  types.NewError(types.ErrorTimeout, MsgTimeout, nil),
	})
}

// take removes and returns the pending entry for id, or nil.
func (r *Router) take(id int64) *pendingRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pending[id]
	if !ok {
		return nil
	}
	delete(r.pending, id)
	return p
}

// requestKind is the operation a message requests. Relay envelopes carry
// it in Action.
func requestKind(msg types.Message) types.MessageType {
	if br, ok := msg.(*types.BridgeRequest); ok && br.Action != "" {
		return br.Action
	}
	return msg.Kind()
}
