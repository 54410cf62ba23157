package lode

import (
	"time"

	"github.com/ajolex/surveycto-vc-agent/types"
)

// RecordKindOutcome is the record_kind discriminator of outcome records.
const RecordKindOutcome = "deployment_outcome"

// OutcomeRecord is the storage format of one upload outcome.
type OutcomeRecord struct {
	RecordKind      string `json:"record_kind"`
	ProtocolVersion string `json:"protocol_version"`

	DeploymentID string `json:"deployment_id"`
	FileName     string `json:"file_name"`
	ServerURL    string `json:"server_url"`
	TabID        int64  `json:"tab_id"`
	PayloadBytes int    `json:"payload_bytes"`
	Attachments  int    `json:"attachments"`

	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	StagedAt    string `json:"staged_at"`
	CompletedAt string `json:"completed_at"`
	DurationMs  int64  `json:"duration_ms"`

	// Partition keys
	FormID string `json:"form_id"`
	Day    string `json:"day"`
}

// toOutcomeRecordMap converts a completed deployment to a record map.
// Lode HiveLayout requires records as map[string]any.
func toOutcomeRecordMap(d *types.DeploymentContext) map[string]any {
	m := map[string]any{
		"record_kind":      RecordKindOutcome,
		"protocol_version": types.ProtocolVersion,
		"deployment_id":    d.ID,
		"file_name":        d.Metadata.FileName,
		"server_url":       d.Metadata.ServerURL,
		"tab_id":           int64(d.TargetTabID),
		"payload_bytes":    d.Payload.Size(),
		"attachments":      len(d.Payload.Attachments),
		"success":          d.Result.Success,
		"staged_at":        d.StagedAt.UTC().Format(time.RFC3339Nano),
		"completed_at":     d.Result.CompletedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms":      d.Result.CompletedAt.Sub(d.StagedAt).Milliseconds(),
		"form_id":          partitionValue(d.Metadata.FormID),
		"day":              DeriveDay(d.Result.CompletedAt),
	}
	if d.Result.Message != "" {
		m["message"] = d.Result.Message
	}
	return m
}

// fromRecordMap reads back a record map written by toOutcomeRecordMap.
// Numbers decode from JSONL as float64.
func fromRecordMap(m map[string]any) OutcomeRecord {
	return OutcomeRecord{
		RecordKind:      toString(m["record_kind"]),
		ProtocolVersion: toString(m["protocol_version"]),
		DeploymentID:    toString(m["deployment_id"]),
		FileName:        toString(m["file_name"]),
		ServerURL:       toString(m["server_url"]),
		TabID:           toInt64(m["tab_id"]),
		PayloadBytes:    int(toInt64(m["payload_bytes"])),
		Attachments:     int(toInt64(m["attachments"])),
		Success:         m["success"] == true,
		Message:         toString(m["message"]),
		StagedAt:        toString(m["staged_at"]),
		CompletedAt:     toString(m["completed_at"]),
		DurationMs:      toInt64(m["duration_ms"]),
		FormID:          toString(m["form_id"]),
		Day:             toString(m["day"]),
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}
