package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ajolex/surveycto-vc-agent/types"
)

// recorder is a Broadcaster that keeps every message it is given.
type recorder struct {
	mu     sync.Mutex
	msgs   []types.Message
	err    error
	onSend func(types.Message)
}

func (r *recorder) Broadcast(msg types.Message) error {
	r.mu.Lock()
	err := r.err
	if err == nil {
		r.msgs = append(r.msgs, msg)
	}
	hook := r.onSend
	r.mu.Unlock()
	if err == nil && hook != nil {
		hook(msg)
	}
	return err
}

func (r *recorder) count(kind types.MessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Kind() == kind {
			n++
		}
	}
	return n
}

func (r *recorder) last() types.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return nil
	}
	return r.msgs[len(r.msgs)-1]
}

func newFakeClock() *clockwork.FakeClock {
	return clockwork.NewFakeClockAt(time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC))
}

// waitTimers blocks until exactly n timers are scheduled on clk. Timer
// callbacks run on their own goroutines, so rescheduling lags Advance.
func waitTimers(t *testing.T, clk *clockwork.FakeClock, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	if err := clk.BlockUntilContext(ctx, n); err != nil {
		t.Fatalf("waiting for %d timers: %v", n, err)
	}
}

// receive returns the next value from ch or fails the test.
func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a callback")
	}
	var zero T
	return zero
}

// expectNone fails the test if ch already holds a value.
func expectNone[T any](t *testing.T, ch <-chan T, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("%s: unexpected %v", what, v)
	default:
	}
}

func lookupRequest() *types.BridgeRequest {
	return types.Stamp(&types.BridgeRequest{Action: types.TypeLookupFormIDs})
}
