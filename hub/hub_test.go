package hub

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ajolex/surveycto-vc-agent/controller"
	"github.com/ajolex/surveycto-vc-agent/deploy"
	"github.com/ajolex/surveycto-vc-agent/iox"
	"github.com/ajolex/surveycto-vc-agent/ipc"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/relay"
	"github.com/ajolex/surveycto-vc-agent/tabs"
	"github.com/ajolex/surveycto-vc-agent/types"
)

type fixture struct {
	srv     *Server
	http    *httptest.Server
	store   *deploy.Slot
	browser *tabs.Memory
	relays  *relay.Registry
	metrics *metrics.Collector
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		store:   deploy.NewSlot(),
		browser: tabs.NewMemory(),
		metrics: metrics.NewCollector("memory", "", ""),
	}
	opts.Metrics = f.metrics
	f.relays = relay.NewRegistry(func(sheet string) *relay.Relay {
		return relay.New(sheet, f.srv.PanelBroadcaster(sheet), relay.Options{Metrics: f.metrics})
	})
	f.srv = NewServer(f.relays, opts)
	orch := tabs.New(f.browser, f.store, tabs.Options{Delivery: f.srv, Metrics: f.metrics})
	f.srv.SetDispatcher(controller.New(f.store, orch, f.relays, controller.Options{
		DefaultServer: "acme.surveycto.com",
		Metrics:       f.metrics,
	}))

	mux := http.NewServeMux()
	mux.Handle("/ws", f.srv)
	f.http = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.srv.Close()
		f.http.Close()
	})
	return f
}

func (f *fixture) dial(t *testing.T, opts DialOptions) *Client {
	t.Helper()
	c, err := Dial(t.Context(), f.http.URL, opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(iox.CloseFunc(c))
	return c
}

// panelPeer answers PING with READY and lookups with formIDs, over JSON,
// the way the sidebar does.
func (f *fixture) panelPeer(t *testing.T, sheet string, formIDs ...string) *Client {
	t.Helper()
	var c *Client
	ready := make(chan struct{})
	c = f.dial(t, DialOptions{
		Role:  types.RolePanel,
		Sheet: sheet,
		Codec: ipc.JSON,
		OnMessage: func(msg types.Message) {
			<-ready
			switch m := msg.(type) {
			case *types.Ping:
				_ = c.Send(&types.Ready{})
			case *types.BridgeRequest:
				resp := &types.BridgeResponse{Success: true, Data: formIDs}
				resp.RequestID = m.RequestID
				_ = c.Send(resp)
			}
		},
	})
	close(ready)
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_LookupThroughPanel(t *testing.T) {
	f := newFixture(t, Options{})
	f.panelPeer(t, "sheet-1", "household_2026", "listing")
	waitFor(t, "panel heartbeat", func() bool {
		r := f.relays.Get("sheet-1")
		return r != nil && r.Alive()
	})

	cli := f.dial(t, DialOptions{})
	var reply types.FormIDsReply
	if err := cli.Request(t.Context(), &types.LookupFormIDs{}, &reply); err != nil {
		t.Fatalf("request: %v", err)
	}
	if reply.Error != "" || len(reply.FormIDs) != 2 || reply.FormIDs[1] != "listing" {
		t.Errorf("reply = %+v", reply)
	}
}

func TestHub_PanelDisconnectReleasesRelay(t *testing.T) {
	f := newFixture(t, Options{})
	panel := f.panelPeer(t, "sheet-1")
	waitFor(t, "relay", func() bool { return f.relays.Get("sheet-1") != nil })

	_ = panel.Close()
	waitFor(t, "relay release", func() bool { return f.relays.Get("sheet-1") == nil })
}

func TestHub_StageDeliverAndReport(t *testing.T) {
	f := newFixture(t, Options{})
	cli := f.dial(t, DialOptions{})

	blob := bytes.Repeat([]byte{0x50, 0x4b, 0x00, 0xff}, 1024)
	var staged types.StageReply
	err := cli.Request(t.Context(), &types.StageDeployment{
		FileBlob: blob,
		FileName: "hh.xlsx",
		FormID:   "hh",
	}, &staged)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if !staged.Success || staged.TabID == 0 {
		t.Fatalf("staged = %+v", staged)
	}

	pushes := make(chan *types.PayloadPush, 1)
	console := f.dial(t, DialOptions{
		Role:  types.RoleConsole,
		TabID: staged.TabID,
		Codec: ipc.JSON,
		OnMessage: func(msg types.Message) {
			if p, ok := msg.(*types.PayloadPush); ok {
				pushes <- p
			}
		},
	})

	var ready types.CommandReply
	if err := console.Request(t.Context(), &types.TabReady{}, &ready); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if !ready.Success {
		t.Fatalf("ready = %+v", ready)
	}

	select {
	case p := <-pushes:
		if !bytes.Equal(p.FileBlob, blob) || p.FileName != "hh.xlsx" {
			t.Errorf("push = %s/%d bytes", p.FileName, len(p.FileBlob))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("payload never pushed")
	}

	var ack types.CommandReply
	if err := console.Request(t.Context(), &types.UploadResult{Success: true, Message: "Deployed"}, &ack); err != nil {
		t.Fatalf("upload result: %v", err)
	}
	if !ack.Success {
		t.Errorf("ack = %+v", ack)
	}

	var q types.StagedReply
	if err := cli.Request(t.Context(), &types.QueryStaged{}, &q); err != nil {
		t.Fatalf("query: %v", err)
	}
	if q.Data == nil || q.Data.Result == nil || !q.Data.Result.Success || !bytes.Equal(q.Data.Payload.FileBlob, blob) {
		t.Errorf("query = %+v", q.Data)
	}
}

func TestHub_ConsoleCloseReleasesDeployment(t *testing.T) {
	f := newFixture(t, Options{ConsoleCloseIsTabClose: true})
	cli := f.dial(t, DialOptions{})

	var staged types.StageReply
	if err := cli.Request(t.Context(), &types.StageDeployment{FileBlob: []byte("x"), FormID: "hh"}, &staged); err != nil {
		t.Fatalf("stage: %v", err)
	}

	console := f.dial(t, DialOptions{Role: types.RoleConsole, TabID: staged.TabID})
	waitFor(t, "console registration", func() bool { return f.srv.Connections() == 2 })
	_ = console.Close()

	waitFor(t, "deployment release", func() bool { return f.store.Query() == nil })
}

func TestHub_RawJSONWire(t *testing.T) {
	f := newFixture(t, Options{})
	url := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws?role=client"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	// Garbage is dropped without closing the connection.
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"QUERY_STAGED","requestId":7}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	kind, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Errorf("frame type = %d, want text", kind)
	}
	want := `{"type":"RESPONSE","requestId":7,"body":{"success":true,"data":null}}`
	if string(data) != want {
		t.Errorf("reply = %s\nwant    %s", data, want)
	}
	waitFor(t, "decode error count", func() bool { return f.metrics.Snapshot().DecodeErrors == 1 })
}

func TestHub_RejectsBadQuery(t *testing.T) {
	f := newFixture(t, Options{})
	base := "ws" + strings.TrimPrefix(f.http.URL, "http") + "/ws"

	for _, q := range []string{"?role=admin", "?role=panel", "?role=console&tab=x", "?codec=xml"} {
		_, resp, err := websocket.DefaultDialer.Dial(base+q, nil)
		if err == nil {
			t.Errorf("%s: dial succeeded", q)
			continue
		}
		if resp == nil || resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: response = %v", q, resp)
		}
	}
}

func TestHub_CheckOrigin(t *testing.T) {
	f := newFixture(t, Options{AllowedOrigins: []string{"chrome-extension://abcdef"}})

	good := http.Header{"Origin": []string{"chrome-extension://abcdef"}}
	c, err := Dial(t.Context(), f.http.URL, DialOptions{Header: good})
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	_ = c.Close()

	bad := http.Header{"Origin": []string{"https://evil.example"}}
	if _, err := Dial(t.Context(), f.http.URL, DialOptions{Header: bad}); err == nil {
		t.Error("foreign origin accepted")
	}
}

func TestDeliver_UnknownTab(t *testing.T) {
	f := newFixture(t, Options{})
	err := f.srv.Deliver(t.Context(), 42, &types.PayloadPush{})
	if !errors.Is(err, ErrNoConsole) {
		t.Errorf("err = %v, want ErrNoConsole", err)
	}
}

func TestPanelBroadcaster_NoPanel(t *testing.T) {
	f := newFixture(t, Options{})
	if err := f.srv.PanelBroadcaster("nobody").Broadcast(&types.Ping{}); !errors.Is(err, ErrNoPanel) {
		t.Errorf("err = %v, want ErrNoPanel", err)
	}
}

func TestClient_CallAfterClose(t *testing.T) {
	f := newFixture(t, Options{})
	c := f.dial(t, DialOptions{})
	_ = c.Close()

	<-c.Done()
	var reply types.StagedReply
	if err := c.Request(t.Context(), &types.QueryStaged{}, &reply); err == nil {
		t.Error("request on closed client succeeded")
	}
}

func TestWSURL(t *testing.T) {
	got, err := wsURL("http://127.0.0.1:8765", DialOptions{Role: types.RoleConsole, TabID: 3, Codec: ipc.JSON})
	if err != nil {
		t.Fatalf("wsURL: %v", err)
	}
	if got != "ws://127.0.0.1:8765/ws?codec=json&role=console&tab=3" {
		t.Errorf("got %q", got)
	}
	if _, err := wsURL("ftp://host", DialOptions{}); err == nil {
		t.Error("ftp scheme accepted")
	}
}
