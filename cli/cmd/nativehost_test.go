package cmd

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ajolex/surveycto-vc-agent/ipc"
	"github.com/ajolex/surveycto-vc-agent/log"
	"github.com/ajolex/surveycto-vc-agent/types"
)

type fakePeer struct {
	mu    sync.Mutex
	calls []types.MessageType
	sent  []types.MessageType
}

func (p *fakePeer) Call(_ context.Context, msg types.Message) (any, error) {
	p.mu.Lock()
	p.calls = append(p.calls, msg.Kind())
	p.mu.Unlock()
	// The hub client renumbers requests; the native host must not rely on
	// the browser's id surviving the call.
	msg.Head().RequestID = 9999
	if _, ok := msg.(*types.QueryStaged); ok {
		return nil, errors.New("hub unreachable")
	}
	return map[string]any{"formIds": []any{"household"}}, nil
}

func (p *fakePeer) Send(msg types.Message) error {
	p.mu.Lock()
	p.sent = append(p.sent, msg.Kind())
	p.mu.Unlock()
	return nil
}

func TestServeNative(t *testing.T) {
	var in bytes.Buffer
	enc := ipc.NewFrameEncoder(&in, ipc.NativeMessaging)

	lookup := types.Stamp(&types.LookupFormIDs{})
	lookup.RequestID = 7
	query := types.Stamp(&types.QueryStaged{})
	query.RequestID = 8
	for _, msg := range []types.Message{lookup, types.Stamp(&types.Ready{}), query} {
		if err := enc.WriteMessage(msg); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.WriteFrame([]byte("not json")); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	peer := &fakePeer{}
	err := serveNative(t.Context(), ipc.NewFrameDecoder(&in, ipc.NativeMessaging),
		ipc.NewFrameEncoder(&out, ipc.NativeMessaging), peer, log.Nop())
	if err != nil {
		t.Fatalf("serveNative: %v", err)
	}

	if len(peer.calls) != 2 || len(peer.sent) != 1 || peer.sent[0] != types.TypeReady {
		t.Errorf("calls = %v sent = %v", peer.calls, peer.sent)
	}

	dec := ipc.NewFrameDecoder(&out, ipc.NativeMessaging)
	replies := map[int64]map[string]any{}
	for range 2 {
		msg, err := dec.ReadMessage()
		if err != nil {
			t.Fatalf("read reply: %v", err)
		}
		resp, ok := msg.(*types.Response)
		if !ok {
			t.Fatalf("reply is %T", msg)
		}
		body, _ := resp.Body.(map[string]any)
		replies[resp.RequestID] = body
	}

	if ids, _ := replies[7]["formIds"].([]any); len(ids) != 1 || ids[0] != "household" {
		t.Errorf("lookup reply = %v", replies[7])
	}
	if replies[8]["success"] != false || replies[8]["error"] != "hub unreachable" {
		t.Errorf("failed call reply = %v", replies[8])
	}
}

func TestServeNative_TruncatedFrame(t *testing.T) {
	in := bytes.NewReader([]byte{0x10, 0x00, 0x00, 0x00, '{'})
	err := serveNative(t.Context(), ipc.NewFrameDecoder(in, ipc.NativeMessaging),
		ipc.NewFrameEncoder(&bytes.Buffer{}, ipc.NativeMessaging), &fakePeer{}, log.Nop())
	if !ipc.IsFatalFrameError(err) {
		t.Errorf("err = %v, want fatal frame error", err)
	}
}
