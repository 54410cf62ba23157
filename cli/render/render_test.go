package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ajolex/surveycto-vc-agent/lode"
	"github.com/ajolex/surveycto-vc-agent/metrics"
	"github.com/ajolex/surveycto-vc-agent/relay"
	"github.com/ajolex/surveycto-vc-agent/status"
	"github.com/ajolex/surveycto-vc-agent/types"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}

	if _, err := ParseFormat("csv"); err == nil || !strings.Contains(err.Error(), "json, table, or yaml") {
		t.Errorf("error should list valid formats, got: %v", err)
	}
}

func report() *status.Report {
	return &status.Report{
		Version:     types.Version,
		Listen:      "127.0.0.1:8765",
		Uptime:      "2m0s",
		Connections: 2,
		Relays:      []relay.Status{{Sheet: "sheet-1", Alive: true, Pending: 1}},
		Deployment: &types.DeploymentSummary{
			ID:           "dep-1",
			FormID:       "household",
			FileName:     "household.xlsx",
			ServerURL:    "acme.surveycto.com",
			PayloadBytes: 512,
			Attachments:  1,
			TargetTabID:  5,
			State:        types.DeploymentStateBound,
		},
		Metrics: metrics.Snapshot{DeploymentsStaged: 1, RequestsSent: 4, RequestsResolved: 3, RequestsTimedOut: 1},
	}
}

func TestRenderer_ReportFormats(t *testing.T) {
	tests := []struct {
		format Format
		want   []string
	}{
		{FormatJSON, []string{`"listen": "127.0.0.1:8765"`, `"form_id": "household"`, `"deployments_staged": 1`}},
		{FormatYAML, []string{"listen: 127.0.0.1:8765", "form_id: household", "sheet: sheet-1"}},
		{FormatTable, []string{
			"listen:", "household (household.xlsx)", "state:", "bound", "tab:", "5",
			"panel sheet-1:", "alive, 1 pending", "4 sent, 3 resolved, 1 timed out",
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewRendererWithWriter(tt.format, true, &buf).Render(report()); err != nil {
				t.Fatalf("Render failed: %v", err)
			}
			for _, want := range tt.want {
				if !strings.Contains(buf.String(), want) {
					t.Errorf("output missing %q:\n%s", want, buf.String())
				}
			}
		})
	}
}

func TestRenderer_Table_EmptyReport(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)
	if err := r.Render(&status.Report{}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "(none)") {
		t.Errorf("empty report: %s", buf.String())
	}
}

func TestRenderer_Table_Color(t *testing.T) {
	var color, plain bytes.Buffer
	_ = NewRendererWithWriter(FormatTable, false, &color).Render(report())
	_ = NewRendererWithWriter(FormatTable, true, &plain).Render(report())

	if !strings.Contains(color.String(), ansiAmber+"bound"+ansiReset) {
		t.Errorf("colored table missing ANSI state: %q", color.String())
	}
	if strings.Contains(plain.String(), "\x1b[") {
		t.Errorf("--no-color table contains ANSI escapes: %q", plain.String())
	}
}

func TestRenderer_Table_History(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)
	records := []lode.OutcomeRecord{{
		FormID: "household", FileName: "household.xlsx", Success: true,
		DurationMs: 1500, CompletedAt: "2026-10-16T08:00:00Z", Message: "Deployed",
	}}
	if err := r.Render(records); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"completed_at", "household.xlsx", "ok", "1.5s", "Deployed"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("history missing %q:\n%s", want, buf.String())
		}
	}

	buf.Reset()
	_ = r.Render([]lode.OutcomeRecord{})
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("empty history: %s", buf.String())
	}
}

func TestRenderer_Table_Struct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	reply := types.StageReply{Success: true, Message: "Opening SurveyCTO", TabID: 3}
	if err := r.Render(&reply); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	got := buf.String()
	for _, want := range []string{"success:", "true", "Opening SurveyCTO"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q: %s", want, got)
		}
	}
}

func TestRenderer_Table_Strings(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)
	if err := r.Render([]string{"household", "listing"}); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "household\nlisting\n" {
		t.Errorf("got %q", buf.String())
	}

	buf.Reset()
	_ = r.Render([]string{})
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("empty slice should show '(no results)', got: %s", buf.String())
	}
}

func TestFormatValue_Time(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)
	at := time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC)
	_ = r.Render(struct {
		StagedAt time.Time `json:"staged_at"`
		Tags     []string  `json:"tags"`
	}{at, []string{"a", "b"}})
	if !strings.Contains(buf.String(), "2026-10-16T08:00:00Z") || !strings.Contains(buf.String(), "a, b") {
		t.Errorf("got %q", buf.String())
	}
}

func TestRenderer_RenderTUI_Unsupported(t *testing.T) {
	r := NewRendererWithWriter(FormatTable, true, &bytes.Buffer{})
	if err := r.RenderTUI("lookup", nil); err == nil {
		t.Error("expected error for unsupported TUI view")
	}
}
