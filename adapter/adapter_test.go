package adapter

import (
	"testing"
	"time"

	"github.com/ajolex/surveycto-vc-agent/types"
)

func TestNewDeploymentCompletedEvent(t *testing.T) {
	staged := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	d := &types.DeploymentContext{
		ID:          "dep-1",
		Payload:     types.DeploymentPayload{FileBlob: []byte("abc"), Attachments: [][]byte{[]byte("zz")}},
		Metadata:    types.DeploymentMetadata{FormID: "hh", FileName: "hh.xlsx", ServerURL: "acme.surveycto.com"},
		TargetTabID: 12,
		StagedAt:    staged,
		Result:      &types.DeploymentResult{Success: true, Message: "Form uploaded", CompletedAt: staged.Add(42 * time.Second)},
	}

	ev := NewDeploymentCompletedEvent(d)
	if ev == nil {
		t.Fatal("event is nil")
	}
	if ev.EventType != EventTypeDeploymentCompleted || ev.ProtocolVersion != types.ProtocolVersion {
		t.Errorf("header fields = %q/%q", ev.EventType, ev.ProtocolVersion)
	}
	if ev.DeploymentID != "dep-1" || ev.FormID != "hh" || ev.TabID != 12 || !ev.Success {
		t.Errorf("event = %+v", ev)
	}
	if ev.PayloadBytes != 5 || ev.Attachments != 1 {
		t.Errorf("PayloadBytes/Attachments = %d/%d", ev.PayloadBytes, ev.Attachments)
	}
	if ev.DurationMs != 42000 {
		t.Errorf("DurationMs = %d, want 42000", ev.DurationMs)
	}
	if ev.CompletedAt != "2026-04-01T08:00:42Z" {
		t.Errorf("CompletedAt = %q", ev.CompletedAt)
	}
}

func TestNewDeploymentCompletedEvent_NoResult(t *testing.T) {
	if ev := NewDeploymentCompletedEvent(&types.DeploymentContext{ID: "x"}); ev != nil {
		t.Errorf("event = %+v, want nil", ev)
	}
	if ev := NewDeploymentCompletedEvent(nil); ev != nil {
		t.Errorf("event = %+v, want nil", ev)
	}
}
