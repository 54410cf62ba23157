// Package adapter defines the boundary for deployment completion
// notifications.
//
// Adapters publish one event per reported upload result to a downstream
// system. The controller owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/ajolex/surveycto-vc-agent/types"
)

// EventTypeDeploymentCompleted is the event_type of every published event.
const EventTypeDeploymentCompleted = "deployment_completed"

// DeploymentCompletedEvent is the payload published when a console tab
// reports an upload result.
type DeploymentCompletedEvent struct {
	ProtocolVersion string `json:"protocol_version"`
	EventType       string `json:"event_type"` // always "deployment_completed"
	DeploymentID    string `json:"deployment_id"`
	FormID          string `json:"form_id"`
	FileName        string `json:"file_name"`
	ServerURL       string `json:"server_url"`
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	TabID           int64  `json:"tab_id"`
	Attachments     int    `json:"attachments"`
	PayloadBytes    int    `json:"payload_bytes"`
	StagedAt        string `json:"staged_at"`    // ISO 8601
	CompletedAt     string `json:"completed_at"` // ISO 8601
	DurationMs      int64  `json:"duration_ms"`
}

// NewDeploymentCompletedEvent builds the event for a deployment that has a
// result. It returns nil if d has none.
func NewDeploymentCompletedEvent(d *types.DeploymentContext) *DeploymentCompletedEvent {
	if d == nil || d.Result == nil {
		return nil
	}
	return &DeploymentCompletedEvent{
		ProtocolVersion: types.ProtocolVersion,
		EventType:       EventTypeDeploymentCompleted,
		DeploymentID:    d.ID,
		FormID:          d.Metadata.FormID,
		FileName:        d.Metadata.FileName,
		ServerURL:       d.Metadata.ServerURL,
		Success:         d.Result.Success,
		Message:         d.Result.Message,
		TabID:           int64(d.TargetTabID),
		Attachments:     len(d.Payload.Attachments),
		PayloadBytes:    d.Payload.Size(),
		StagedAt:        d.StagedAt.UTC().Format(time.RFC3339Nano),
		CompletedAt:     d.Result.CompletedAt.UTC().Format(time.RFC3339Nano),
		DurationMs:      d.Result.CompletedAt.Sub(d.StagedAt).Milliseconds(),
	}
}

// Adapter publishes deployment completion events to a downstream system.
type Adapter interface {
	// Publish sends a completion event to the downstream system.
	// Must respect context cancellation and deadlines.
	Publish(ctx context.Context, event *DeploymentCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
