package status

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ajolex/surveycto-vc-agent/bridge"
	"github.com/ajolex/surveycto-vc-agent/deploy"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/relay"
	"github.com/ajolex/surveycto-vc-agent/types"
)

func newSource(t *testing.T) Source {
	t.Helper()
	started := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	store := deploy.NewSlot()
	store.Stage(
		types.DeploymentPayload{FileBlob: []byte("PK\x03\x04"), Attachments: [][]byte{[]byte("img")}},
		types.DeploymentMetadata{FormID: "household", FileName: "household.xlsx", ServerURL: "acme.surveycto.com"},
	)
	store.BindTarget(3)

	m := metrics.NewCollector("memory", "fs", "webhook")
	m.IncDeploymentsStaged()

	relays := relay.NewRegistry(func(sheet string) *relay.Relay {
		return relay.New(sheet, bridge.BroadcastFunc(func(types.Message) error { return nil }), relay.Options{})
	})
	relays.Acquire("sheet-1")
	t.Cleanup(func() { relays.Release("sheet-1") })

	return Source{
		Listen:      "127.0.0.1:8765",
		StartedAt:   started,
		Store:       store,
		Relays:      relays,
		Metrics:     m,
		Connections: func() int { return 2 },
		Now:         func() time.Time { return started.Add(90*time.Minute + 500*time.Millisecond) },
	}
}

func TestBuild(t *testing.T) {
	r := newSource(t).Build()

	if r.Version != types.Version || r.Listen != "127.0.0.1:8765" || r.Connections != 2 {
		t.Errorf("report = %+v", r)
	}
	if r.Uptime != "1h30m0s" {
		t.Errorf("Uptime = %q, want 1h30m0s", r.Uptime)
	}
	if len(r.Relays) != 1 || r.Relays[0].Sheet != "sheet-1" {
		t.Errorf("Relays = %+v", r.Relays)
	}
	d := r.Deployment
	if d == nil {
		t.Fatal("Deployment = nil")
	}
	if d.FormID != "household" || d.State != types.DeploymentStateBound || d.PayloadBytes != 7 || d.TargetTabID != 3 {
		t.Errorf("Deployment = %+v", d)
	}
	if r.Metrics.DeploymentsStaged != 1 || r.Metrics.ArchiveBackend != "fs" {
		t.Errorf("Metrics = %+v", r.Metrics)
	}
}

func TestBuild_Empty(t *testing.T) {
	r := Source{StartedAt: time.Now()}.Build()
	if r.Deployment != nil || r.Relays == nil || len(r.Relays) != 0 {
		t.Errorf("report = %+v", r)
	}
}

func TestHandlerAndFetch(t *testing.T) {
	srv := httptest.NewServer(Handler(newSource(t)))
	defer srv.Close()

	for _, base := range []string{srv.URL, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?role=client"} {
		r, err := Fetch(t.Context(), base)
		if err != nil {
			t.Fatalf("Fetch(%s): %v", base, err)
		}
		if r.Deployment == nil || r.Deployment.FileName != "household.xlsx" {
			t.Errorf("Fetch(%s) deployment = %+v", base, r.Deployment)
		}
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler(Source{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, Path, nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestFetch_Errors(t *testing.T) {
	notFound := httptest.NewServer(http.NotFoundHandler())
	defer notFound.Close()

	if _, err := Fetch(t.Context(), notFound.URL); err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want HTTP 404", err)
	}
	if _, err := Fetch(t.Context(), "ftp://127.0.0.1"); err == nil {
		t.Error("ftp scheme accepted")
	}
}
