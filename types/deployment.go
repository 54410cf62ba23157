package types

import "time"

// DeploymentPayload is the opaque file content of a deployment.
type DeploymentPayload struct {
	FileBlob    []byte   `json:"fileBlob" msgpack:"fileBlob"`
	Attachments [][]byte `json:"attachmentBlobs,omitempty" msgpack:"attachmentBlobs,omitempty"`
}

// Size returns the total number of payload bytes.
func (p DeploymentPayload) Size() int {
	n := len(p.FileBlob)
	for _, a := range p.Attachments {
		n += len(a)
	}
	return n
}

// DeploymentMetadata describes what is being deployed and where.
type DeploymentMetadata struct {
	FormID    string `json:"formId" msgpack:"formId"`
	FileName  string `json:"fileName" msgpack:"fileName"`
	Message   string `json:"message,omitempty" msgpack:"message,omitempty"`
	ServerURL string `json:"serverUrl,omitempty" msgpack:"serverUrl,omitempty"`
}

// DeploymentResult is the outcome reported by the consumer tab.
type DeploymentResult struct {
	Success     bool      `json:"success" msgpack:"success"`
	Message     string    `json:"message,omitempty" msgpack:"message,omitempty"`
	CompletedAt time.Time `json:"completedAt" msgpack:"completedAt"`
}

// DeploymentContext is the single in-flight deployment.
// TargetTabID is zero until a consumer tab is bound; Result is nil until one
// is reported.
type DeploymentContext struct {
	ID          string             `json:"id" msgpack:"id"`
	Payload     DeploymentPayload  `json:"payload" msgpack:"payload"`
	Metadata    DeploymentMetadata `json:"metadata" msgpack:"metadata"`
	TargetTabID TabID              `json:"targetTabId,omitempty" msgpack:"targetTabId,omitempty"`
	Result      *DeploymentResult  `json:"result,omitempty" msgpack:"result,omitempty"`
	StagedAt    time.Time          `json:"stagedAt" msgpack:"stagedAt"`
}

// Bound reports whether a consumer tab has been bound.
func (d *DeploymentContext) Bound() bool {
	return d.TargetTabID != 0
}

// Clone returns a copy that shares no mutable state with d.
func (d *DeploymentContext) Clone() *DeploymentContext {
	if d == nil {
		return nil
	}
	out := *d
	out.Payload.FileBlob = append([]byte(nil), d.Payload.FileBlob...)
	if d.Payload.Attachments != nil {
		out.Payload.Attachments = make([][]byte, len(d.Payload.Attachments))
		for i, a := range d.Payload.Attachments {
			out.Payload.Attachments[i] = append([]byte(nil), a...)
		}
	}
	if d.Result != nil {
		r := *d.Result
		out.Result = &r
	}
	return &out
}

// DeploymentSummary is a byte-free view of a deployment for status output.
type DeploymentSummary struct {
	ID           string    `json:"id" yaml:"id"`
	FormID       string    `json:"form_id" yaml:"form_id"`
	FileName     string    `json:"file_name" yaml:"file_name"`
	ServerURL    string    `json:"server_url" yaml:"server_url"`
	PayloadBytes int       `json:"payload_bytes" yaml:"payload_bytes"`
	Attachments  int       `json:"attachments" yaml:"attachments"`
	TargetTabID  TabID     `json:"target_tab_id" yaml:"target_tab_id"`
	StagedAt     time.Time `json:"staged_at" yaml:"staged_at"`
	State        string    `json:"state" yaml:"state"`
	Result       string    `json:"result,omitempty" yaml:"result,omitempty"`
}

// Deployment states reported in DeploymentSummary.State.
const (
	DeploymentStateStaged    = "staged"
	DeploymentStateBound     = "bound"
	DeploymentStateSucceeded = "succeeded"
	DeploymentStateFailed    = "failed"
)

// Summary returns the status view of d.
func (d *DeploymentContext) Summary() DeploymentSummary {
	s := DeploymentSummary{
		ID:           d.ID,
		FormID:       d.Metadata.FormID,
		FileName:     d.Metadata.FileName,
		ServerURL:    d.Metadata.ServerURL,
		PayloadBytes: d.Payload.Size(),
		Attachments:  len(d.Payload.Attachments),
		TargetTabID:  d.TargetTabID,
		StagedAt:     d.StagedAt,
		State:        DeploymentStateStaged,
	}
	switch {
	case d.Result != nil && d.Result.Success:
		s.State = DeploymentStateSucceeded
		s.Result = d.Result.Message
	case d.Result != nil:
		s.State = DeploymentStateFailed
		s.Result = d.Result.Message
	case d.Bound():
		s.State = DeploymentStateBound
	}
	return s
}
