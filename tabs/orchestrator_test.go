package tabs

import (
	"errors"
	"testing"

	"github.com/ajolex/surveycto-vc-agent/deploy"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/types"
)

func TestOpenOrFocus_MatchIgnoresQuery(t *testing.T) {
	browser := NewMemory(
		"https://mail.example.com/",
		"https://docs.google.com/spreadsheets/d/abc/edit?gid=0",
	)
	m := metrics.NewCollector("memory", "", "")
	o := New(browser, deploy.NewSlot(), Options{Metrics: m})

	out, err := o.OpenOrFocus(t.Context(), "https://docs.google.com/spreadsheets/d/abc/edit?gid=5")
	if err != nil {
		t.Fatalf("OpenOrFocus failed: %v", err)
	}
	if !out.Focused || out.Tab.ID != 2 {
		t.Errorf("Outcome = %+v, want focus of tab 2", out)
	}
	if browser.Focused() != 2 {
		t.Errorf("Focused() = %d, want 2", browser.Focused())
	}
	tabs, _ := browser.Tabs(t.Context())
	if len(tabs) != 2 {
		t.Errorf("tab count = %d, want 2 (no new tab)", len(tabs))
	}
	if tabs[1].URL != "https://docs.google.com/spreadsheets/d/abc/edit?gid=0" {
		t.Errorf("focused tab was navigated: %q", tabs[1].URL)
	}
	if s := m.Snapshot(); s.TabsFocused != 1 || s.TabsOpened != 0 {
		t.Errorf("focused/opened = %d/%d", s.TabsFocused, s.TabsOpened)
	}
}

func TestOpenOrFocus_FirstMatchWins(t *testing.T) {
	browser := NewMemory(
		"https://acme.surveycto.com/main.html#Design",
		"https://acme.surveycto.com/main.html#Data",
	)
	o := New(browser, deploy.NewSlot(), Options{})

	out, err := o.OpenOrFocus(t.Context(), "https://acme.surveycto.com/main.html")
	if err != nil {
		t.Fatalf("OpenOrFocus failed: %v", err)
	}
	if out.Tab.ID != 1 {
		t.Errorf("focused tab %d, want 1", out.Tab.ID)
	}
}

func TestOpenOrFocus_NoMatchOpensExactURL(t *testing.T) {
	browser := NewMemory("https://mail.example.com/")
	o := New(browser, deploy.NewSlot(), Options{})

	target := "https://acme.surveycto.com/main.html?lang=fr#Design"
	out, err := o.OpenOrFocus(t.Context(), target)
	if err != nil {
		t.Fatalf("OpenOrFocus failed: %v", err)
	}
	if out.Focused || out.Tab.URL != target {
		t.Errorf("Outcome = %+v, want new tab at %q", out, target)
	}
}

func TestOpenOrFocus_UnparsableAlwaysOpens(t *testing.T) {
	browser := NewMemory("not a url")
	o := New(browser, deploy.NewSlot(), Options{})

	out, err := o.OpenOrFocus(t.Context(), "not a url")
	if err != nil {
		t.Fatalf("OpenOrFocus failed: %v", err)
	}
	if out.Focused || out.Tab.ID != 2 {
		t.Errorf("Outcome = %+v, want a new tab", out)
	}
}

func stagedOrchestrator(t *testing.T) (*Orchestrator, *Memory, *deploy.Slot, Tab) {
	t.Helper()
	browser := NewMemory("https://docs.google.com/spreadsheets/d/abc/edit")
	store := deploy.NewSlot()
	o := New(browser, store, Options{})

	store.Stage(types.DeploymentPayload{FileBlob: []byte("xlsx-bytes")}, types.DeploymentMetadata{
		FormID:   "household",
		FileName: "household.xlsx",
	})
	tab, err := o.OpenForDeployment(t.Context(), "acme.surveycto.com")
	if err != nil {
		t.Fatalf("OpenForDeployment failed: %v", err)
	}
	return o, browser, store, tab
}

func TestOpenForDeployment_Binds(t *testing.T) {
	_, _, store, tab := stagedOrchestrator(t)

	if tab.URL != "https://acme.surveycto.com/main.html#Design" {
		t.Errorf("tab URL = %q", tab.URL)
	}
	if got := store.Query().TargetTabID; got != tab.ID {
		t.Errorf("TargetTabID = %d, want %d", got, tab.ID)
	}
}

func TestHandleReady_PushesToBoundTab(t *testing.T) {
	o, browser, _, tab := stagedOrchestrator(t)

	reply := o.HandleReady(t.Context(), tab.ID)
	if !reply.Success || reply.Message != MsgUploadInProgress {
		t.Fatalf("reply = %+v", reply)
	}

	msgs := browser.Delivered(tab.ID)
	if len(msgs) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(msgs))
	}
	push, ok := msgs[0].(*types.PayloadPush)
	if !ok {
		t.Fatalf("delivered %T, want *types.PayloadPush", msgs[0])
	}
	if string(push.FileBlob) != "xlsx-bytes" || push.FormID != "household" || push.FileName != "household.xlsx" {
		t.Errorf("push = %+v", push)
	}
	if push.Type != types.TypePayloadPush {
		t.Errorf("push type = %q", push.Type)
	}
}

func TestHandleReady_ForeignTabGetsNothing(t *testing.T) {
	o, browser, _, _ := stagedOrchestrator(t)

	reply := o.HandleReady(t.Context(), 1)
	if reply.Success || reply.Error != deploy.MsgNoDeployment {
		t.Errorf("reply = %+v", reply)
	}
	if n := len(browser.Delivered(1)); n != 0 {
		t.Errorf("foreign tab received %d messages", n)
	}
}

func TestHandleReady_PushFailure(t *testing.T) {
	o, browser, _, tab := stagedOrchestrator(t)
	browser.DeliverErr = errors.New("tab crashed")

	reply := o.HandleReady(t.Context(), tab.ID)
	if reply.Success || reply.Error != MsgPushFailed {
		t.Errorf("reply = %+v", reply)
	}
}

func TestHandleReady_DeliveryOverride(t *testing.T) {
	browser := NewMemory()
	sink := NewMemory("https://acme.surveycto.com/main.html#Design")
	store := deploy.NewSlot()
	o := New(browser, store, Options{Delivery: sink})

	store.Stage(types.DeploymentPayload{FileBlob: []byte("x")}, types.DeploymentMetadata{})
	store.BindTarget(1)

	if reply := o.HandleReady(t.Context(), 1); !reply.Success {
		t.Fatalf("reply = %+v", reply)
	}
	if len(sink.Delivered(1)) != 1 {
		t.Error("override deliverer not used")
	}
}

func TestHandleClosed(t *testing.T) {
	o, _, store, tab := stagedOrchestrator(t)

	if o.HandleClosed(tab.ID + 100) {
		t.Error("unrelated close released the deployment")
	}
	if !o.HandleClosed(tab.ID) {
		t.Error("bound tab close did not release")
	}
	if store.Query() != nil {
		t.Error("slot not cleared")
	}
	if reply := o.HandleReady(t.Context(), tab.ID); reply.Success {
		t.Error("ready succeeded after release")
	}
}
