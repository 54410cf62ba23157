package types

// MessageType is the operation tag carried in every envelope's "type" field.
type MessageType string

// Operation tags. The set is closed: anything else decodes to Unknown.
const (
	TypeLookupFormIDs   MessageType = "LOOKUP_FORM_IDS"
	TypeLogDeployment   MessageType = "LOG_DEPLOYMENT"
	TypeStageDeployment MessageType = "STAGE_DEPLOYMENT"
	TypeTabReady        MessageType = "TAB_READY"
	TypePayloadPush     MessageType = "PAYLOAD_PUSH"
	TypeUploadResult    MessageType = "UPLOAD_RESULT"
	TypeQueryStaged     MessageType = "QUERY_STAGED"
	TypeRedirectRequest MessageType = "REDIRECT_REQUEST"
	TypePing            MessageType = "PING"
	TypeReady           MessageType = "READY"
	TypeBridgeRequest   MessageType = "BRIDGE_REQUEST"
	TypeBridgeResponse  MessageType = "BRIDGE_RESPONSE"
	TypeTabClosed       MessageType = "TAB_CLOSED"
	TypeResponse        MessageType = "RESPONSE"
)

// Known reports whether t is one of the defined operation tags.
func (t MessageType) Known() bool {
	switch t {
	case TypeLookupFormIDs, TypeLogDeployment, TypeStageDeployment,
		TypeTabReady, TypePayloadPush, TypeUploadResult, TypeQueryStaged,
		TypeRedirectRequest, TypePing, TypeReady, TypeBridgeRequest,
		TypeBridgeResponse, TypeTabClosed, TypeResponse:
		return true
	}
	return false
}

// TabID identifies a browser tab. Zero means "no tab".
type TabID int64

// Header is embedded in every message variant. Both codecs inline it, so the
// wire envelope stays flat: {"type": ..., "requestId": ..., ...}.
type Header struct {
	Type MessageType `json:"type" msgpack:"type"`
	// RequestID correlates a request with its response. Zero when the
	// message is fire-and-forget.
	RequestID int64 `json:"requestId,omitempty" msgpack:"requestId,omitempty"`
}

// Head returns the header for in-place updates.
func (h *Header) Head() *Header { return h }

// Message is implemented by every envelope variant.
type Message interface {
	Kind() MessageType
	Head() *Header
}

// DeploymentLog is the body of a LOG_DEPLOYMENT request.
type DeploymentLog struct {
	FormID          string `json:"formId" msgpack:"formId"`
	DeployedVersion string `json:"deployedVersion,omitempty" msgpack:"deployedVersion,omitempty"`
	FormName        string `json:"formName,omitempty" msgpack:"formName,omitempty"`
	Message         string `json:"message,omitempty" msgpack:"message,omitempty"`
}

// LookupFormIDs asks the panel for the form identifiers in its spreadsheet.
type LookupFormIDs struct {
	Header `msgpack:",inline"`
}

// LogDeployment asks the panel to append a deployment log row.
type LogDeployment struct {
	Header        `msgpack:",inline"`
	DeploymentLog `msgpack:",inline"`
}

// StageDeployment hands a deployment to the controller.
type StageDeployment struct {
	Header          `msgpack:",inline"`
	FileBlob        []byte   `json:"fileBlob" msgpack:"fileBlob"`
	FileName        string   `json:"fileName" msgpack:"fileName"`
	FormID          string   `json:"formId" msgpack:"formId"`
	Message         string   `json:"message,omitempty" msgpack:"message,omitempty"`
	AttachmentBlobs [][]byte `json:"attachmentBlobs,omitempty" msgpack:"attachmentBlobs,omitempty"`
	ServerURL       string   `json:"serverUrl,omitempty" msgpack:"serverUrl,omitempty"`
}

// TabReady is sent by a console tab once its upload UI is usable.
type TabReady struct {
	Header `msgpack:",inline"`
}

// PayloadPush carries the staged payload to the bound console tab.
type PayloadPush struct {
	Header          `msgpack:",inline"`
	FileBlob        []byte   `json:"fileBlob" msgpack:"fileBlob"`
	FileName        string   `json:"fileName" msgpack:"fileName"`
	FormID          string   `json:"formId" msgpack:"formId"`
	AttachmentBlobs [][]byte `json:"attachmentBlobs,omitempty" msgpack:"attachmentBlobs,omitempty"`
}

// UploadResult reports how the console upload went.
type UploadResult struct {
	Header  `msgpack:",inline"`
	Success bool   `json:"success" msgpack:"success"`
	Message string `json:"message,omitempty" msgpack:"message,omitempty"`
}

// QueryStaged asks the controller for the current deployment context.
type QueryStaged struct {
	Header `msgpack:",inline"`
}

// RedirectRequest asks the controller to open or focus a tab at URL.
type RedirectRequest struct {
	Header `msgpack:",inline"`
	URL    string `json:"url" msgpack:"url"`
}

// Ping is the liveness probe sent to the panel.
type Ping struct {
	Header `msgpack:",inline"`
}

// Ready is the panel's heartbeat. It is sent on load, periodically, and in
// answer to Ping.
type Ready struct {
	Header `msgpack:",inline"`
}

// BridgeRequest is the relay-to-panel envelope for a correlated request.
type BridgeRequest struct {
	Header  `msgpack:",inline"`
	Action  MessageType    `json:"action" msgpack:"action"`
	Payload *DeploymentLog `json:"payload,omitempty" msgpack:"payload,omitempty"`
}

// BridgeResponse is the panel's answer to a BridgeRequest.
type BridgeResponse struct {
	Header  `msgpack:",inline"`
	Success bool   `json:"success" msgpack:"success"`
	Data    any    `json:"data,omitempty" msgpack:"data,omitempty"`
	Error   string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// TabClosed is raised by a browser backend when a tab goes away.
type TabClosed struct {
	Header `msgpack:",inline"`
	TabID  TabID `json:"tabId" msgpack:"tabId"`
}

// Response wraps a controller reply body for transports that need a
// standalone envelope. RequestID echoes the request it answers.
type Response struct {
	Header `msgpack:",inline"`
	Body   any `json:"body,omitempty" msgpack:"body,omitempty"`
}

// Unknown holds any envelope whose type tag is not recognized.
type Unknown struct {
	Header `msgpack:",inline"`
}

// Kind implementations. Each variant reports its own tag regardless of
// what the Header currently holds.

func (*LookupFormIDs) Kind() MessageType   { return TypeLookupFormIDs }
func (*LogDeployment) Kind() MessageType   { return TypeLogDeployment }
func (*StageDeployment) Kind() MessageType { return TypeStageDeployment }
func (*TabReady) Kind() MessageType        { return TypeTabReady }
func (*PayloadPush) Kind() MessageType     { return TypePayloadPush }
func (*UploadResult) Kind() MessageType    { return TypeUploadResult }
func (*QueryStaged) Kind() MessageType     { return TypeQueryStaged }
func (*RedirectRequest) Kind() MessageType { return TypeRedirectRequest }
func (*Ping) Kind() MessageType            { return TypePing }
func (*Ready) Kind() MessageType           { return TypeReady }
func (*BridgeRequest) Kind() MessageType   { return TypeBridgeRequest }
func (*BridgeResponse) Kind() MessageType  { return TypeBridgeResponse }
func (*TabClosed) Kind() MessageType       { return TypeTabClosed }
func (*Response) Kind() MessageType        { return TypeResponse }

// Kind returns the tag exactly as received.
func (u *Unknown) Kind() MessageType { return u.Type }

// Stamp sets the type tag on msg from its Kind and returns msg.
// Constructors use it so callers never build a header by hand.
func Stamp[M Message](msg M) M {
	msg.Head().Type = msg.Kind()
	return msg
}

// Reply bodies. The controller returns one of these for every request that
// expects an answer; they never carry a type tag of their own.

// FormIDsReply answers LOOKUP_FORM_IDS. FormIDs is never nil.
type FormIDsReply struct {
	FormIDs []string `json:"formIds" msgpack:"formIds"`
	Error   string   `json:"error,omitempty" msgpack:"error,omitempty"`
}

// CommandReply is the uniform success/error shape.
type CommandReply struct {
	Success bool   `json:"success" msgpack:"success"`
	Message string `json:"message,omitempty" msgpack:"message,omitempty"`
	Error   string `json:"error,omitempty" msgpack:"error,omitempty"`
}

// StageReply answers STAGE_DEPLOYMENT.
type StageReply struct {
	Success bool   `json:"success" msgpack:"success"`
	Message string `json:"message,omitempty" msgpack:"message,omitempty"`
	Error   string `json:"error,omitempty" msgpack:"error,omitempty"`
	TabID   TabID  `json:"tabId,omitempty" msgpack:"tabId,omitempty"`
}

// StagedReply answers QUERY_STAGED. Data is nil when nothing is staged.
type StagedReply struct {
	Success bool               `json:"success" msgpack:"success"`
	Data    *DeploymentContext `json:"data" msgpack:"data"`
}

// Role says which kind of context a message came from.
type Role string

// Sender roles.
const (
	// RolePanel is the trusted spreadsheet sidebar.
	RolePanel Role = "panel"
	// RoleConsole is a console tab that consumes deployments.
	RoleConsole Role = "console"
	// RoleClient is any other caller: CLI, popup, native host.
	RoleClient Role = "client"
	// RoleBrowser is the browser backend itself (tab lifecycle events).
	RoleBrowser Role = "browser"
)

// Sender describes the origin of an inbound message.
type Sender struct {
	Role   Role
	TabID  TabID
	Sheet  string
	ConnID string
}
