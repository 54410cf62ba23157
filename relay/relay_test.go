package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ajolex/surveycto-vc-agent/bridge"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// panelSim plays the trusted panel: it answers PING with READY and
// BRIDGE_REQUEST with whatever respond returns.
type panelSim struct {
	mu      sync.Mutex
	relay   *Relay
	silent  bool
	respond func(req *types.BridgeRequest) *types.BridgeResponse
	logged  []types.DeploymentLog
}

func (p *panelSim) Broadcast(msg types.Message) error {
	p.mu.Lock()
	silent, relay, respond := p.silent, p.relay, p.respond
	p.mu.Unlock()
	if silent {
		return nil
	}
	switch m := msg.(type) {
	case *types.Ping:
		relay.HandleReady()
	case *types.BridgeRequest:
		if m.Payload != nil {
			p.mu.Lock()
			p.logged = append(p.logged, *m.Payload)
			p.mu.Unlock()
		}
		if respond == nil {
			return nil
		}
		resp := respond(m)
		resp.RequestID = m.RequestID
		go relay.HandleResponse(resp)
	}
	return nil
}

func newRelay(t *testing.T, p *panelSim) (*Relay, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC))
	r := New("sheet-1", p, Options{Clock: clk})
	p.relay = r
	return r, clk
}

// advanceWhenPending waits until exactly n timers are scheduled, then
// advances.
func advanceWhenPending(t *testing.T, clk *clockwork.FakeClock, n int, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d timers: %v", n, err)
	}
	clk.Advance(d)
}

func TestRelay_LookupHappyPath(t *testing.T) {
	p := &panelSim{respond: func(*types.BridgeRequest) *types.BridgeResponse {
		return &types.BridgeResponse{Success: true, Data: []any{"hh_2024", "listing_v2"}}
	}}
	r, _ := newRelay(t, p)
	r.HandleReady()

	reply := r.LookupFormIDs(t.Context())
	if reply.Error != "" || len(reply.FormIDs) != 2 || reply.FormIDs[0] != "hh_2024" {
		t.Errorf("reply = %+v", reply)
	}
	if r.Status().Pending != 0 {
		t.Errorf("Pending = %d, want 0", r.Status().Pending)
	}
}

func TestRelay_LookupRevivesAfterProbe(t *testing.T) {
	p := &panelSim{respond: func(*types.BridgeRequest) *types.BridgeResponse {
		return &types.BridgeResponse{Success: true, Data: []any{"a"}}
	}}
	r, clk := newRelay(t, p)

	done := make(chan types.FormIDsReply, 1)
	go func() { done <- r.LookupFormIDs(t.Context()) }()

	advanceWhenPending(t, clk, 1, bridge.ProbeWait)
	reply := <-done
	if reply.Error != "" || len(reply.FormIDs) != 1 {
		t.Errorf("reply = %+v", reply)
	}
}

func TestRelay_SilentPanelIsUnreachable(t *testing.T) {
	p := &panelSim{silent: true}
	r, clk := newRelay(t, p)

	done := make(chan types.FormIDsReply, 1)
	go func() { done <- r.LookupFormIDs(t.Context()) }()

	advanceWhenPending(t, clk, 1, bridge.ProbeWait)
	reply := <-done
	if reply.Error != bridge.MsgPeerUnreachable || reply.FormIDs == nil || len(reply.FormIDs) != 0 {
		t.Errorf("reply = %#v", reply)
	}
	if r.Status().Pending != 0 {
		t.Error("pending entry allocated for an unreachable panel")
	}
}

func TestRelay_LogTimeout(t *testing.T) {
	p := &panelSim{}
	r, clk := newRelay(t, p)
	r.HandleReady()

	done := make(chan types.CommandReply, 1)
	go func() {
		done <- r.LogDeployment(t.Context(), types.DeploymentLog{FormID: "hh", FormName: "Household"})
	}()

	advanceWhenPending(t, clk, 1, bridge.DefaultTimeout)
	reply := <-done
	if reply.Success || reply.Error != bridge.MsgTimeout {
		t.Errorf("reply = %+v, want {false, Timeout}", reply)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.logged) != 1 || p.logged[0].FormID != "hh" {
		t.Errorf("panel saw %+v", p.logged)
	}
}

func TestRelay_LogSuccess(t *testing.T) {
	p := &panelSim{respond: func(req *types.BridgeRequest) *types.BridgeResponse {
		if req.Action != types.TypeLogDeployment {
			return &types.BridgeResponse{Success: false, Error: "wrong action"}
		}
		return &types.BridgeResponse{Success: true}
	}}
	r, _ := newRelay(t, p)
	r.HandleReady()

	reply := r.LogDeployment(t.Context(), types.DeploymentLog{FormID: "hh"})
	if !reply.Success {
		t.Errorf("reply = %+v", reply)
	}
}
