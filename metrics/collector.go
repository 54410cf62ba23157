// Package metrics provides process-wide counters for the bridge.
//
// The Collector is a leaf package with no internal dependencies. Every
// increment method is nil-receiver safe so components can run without one.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Bridge router
	RequestsSent     int64 `json:"requests_sent" yaml:"requests_sent"`
	RequestsResolved int64 `json:"requests_resolved" yaml:"requests_resolved"`
	RequestsTimedOut int64 `json:"requests_timed_out" yaml:"requests_timed_out"`
	LateResponses    int64 `json:"late_responses" yaml:"late_responses"`
	PeerUnreachable  int64 `json:"peer_unreachable" yaml:"peer_unreachable"`
	SendFailures     int64 `json:"send_failures" yaml:"send_failures"`

	// Liveness
	Heartbeats   int64 `json:"heartbeats" yaml:"heartbeats"`
	LivenessLost int64 `json:"liveness_lost" yaml:"liveness_lost"`

	// Deployments
	DeploymentsStaged       int64 `json:"deployments_staged" yaml:"deployments_staged"`
	PayloadsDelivered       int64 `json:"payloads_delivered" yaml:"payloads_delivered"`
	PayloadDeliveryFailures int64 `json:"payload_delivery_failures" yaml:"payload_delivery_failures"`
	ReadyRejected           int64 `json:"ready_rejected" yaml:"ready_rejected"`
	UploadsSucceeded        int64 `json:"uploads_succeeded" yaml:"uploads_succeeded"`
	UploadsFailed           int64 `json:"uploads_failed" yaml:"uploads_failed"`
	DeploymentsReleased     int64 `json:"deployments_released" yaml:"deployments_released"`

	// Tabs
	TabsOpened  int64 `json:"tabs_opened" yaml:"tabs_opened"`
	TabsFocused int64 `json:"tabs_focused" yaml:"tabs_focused"`

	// Transport
	ConnectionsOpened int64 `json:"connections_opened" yaml:"connections_opened"`
	ConnectionsClosed int64 `json:"connections_closed" yaml:"connections_closed"`
	DecodeErrors      int64 `json:"decode_errors" yaml:"decode_errors"`
	UnknownMessages   int64 `json:"unknown_messages" yaml:"unknown_messages"`

	// Sinks
	AdapterPublishSuccess int64 `json:"adapter_publish_success" yaml:"adapter_publish_success"`
	AdapterPublishFailure int64 `json:"adapter_publish_failure" yaml:"adapter_publish_failure"`
	ArchiveWriteSuccess   int64 `json:"archive_write_success" yaml:"archive_write_success"`
	ArchiveWriteFailure   int64 `json:"archive_write_failure" yaml:"archive_write_failure"`

	// MessagesByType counts inbound envelopes per type tag.
	MessagesByType map[string]int64 `json:"messages_by_type" yaml:"messages_by_type"`

	// Dimensions (informational, set at construction)
	BrowserBackend string `json:"browser_backend" yaml:"browser_backend"`
	ArchiveBackend string `json:"archive_backend" yaml:"archive_backend"`
	Adapter        string `json:"adapter" yaml:"adapter"`
}

// Collector accumulates counters for the life of the process.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	requestsSent     int64
	requestsResolved int64
	requestsTimedOut int64
	lateResponses    int64
	peerUnreachable  int64
	sendFailures     int64

	heartbeats   int64
	livenessLost int64

	deploymentsStaged       int64
	payloadsDelivered       int64
	payloadDeliveryFailures int64
	readyRejected           int64
	uploadsSucceeded        int64
	uploadsFailed           int64
	deploymentsReleased     int64

	tabsOpened  int64
	tabsFocused int64

	connectionsOpened int64
	connectionsClosed int64
	decodeErrors      int64
	unknownMessages   int64

	adapterPublishSuccess int64
	adapterPublishFailure int64
	archiveWriteSuccess   int64
	archiveWriteFailure   int64

	messagesByType map[string]int64

	browserBackend string
	archiveBackend string
	adapter        string
}

// NewCollector creates a Collector with dimension labels.
// Empty dimensions mean the component is not configured.
func NewCollector(browserBackend, archiveBackend, adapter string) *Collector {
	return &Collector{
		messagesByType: make(map[string]int64),
		browserBackend: browserBackend,
		archiveBackend: archiveBackend,
		adapter:        adapter,
	}
}

// --- Bridge router ---

// IncRequestsSent records a correlated request handed to the peer.
func (c *Collector) IncRequestsSent() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsSent++
	c.mu.Unlock()
}

// IncRequestsResolved records a request resolved by a matching response.
func (c *Collector) IncRequestsResolved() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsResolved++
	c.mu.Unlock()
}

// IncRequestsTimedOut records a request evicted by its deadline.
func (c *Collector) IncRequestsTimedOut() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.requestsTimedOut++
	c.mu.Unlock()
}

// IncLateResponses records a response whose request was already gone.
func (c *Collector) IncLateResponses() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lateResponses++
	c.mu.Unlock()
}

// IncPeerUnreachable records a request refused because the peer was not alive.
func (c *Collector) IncPeerUnreachable() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.peerUnreachable++
	c.mu.Unlock()
}

// IncSendFailures records a request that could not be broadcast.
func (c *Collector) IncSendFailures() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sendFailures++
	c.mu.Unlock()
}

// --- Liveness ---

// IncHeartbeats records a READY heartbeat.
func (c *Collector) IncHeartbeats() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.heartbeats++
	c.mu.Unlock()
}

// IncLivenessLost records an alive to not-alive transition.
func (c *Collector) IncLivenessLost() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.livenessLost++
	c.mu.Unlock()
}

// --- Deployments ---

// IncDeploymentsStaged records a staged deployment.
func (c *Collector) IncDeploymentsStaged() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.deploymentsStaged++
	c.mu.Unlock()
}

// IncPayloadsDelivered records a payload pushed to its bound tab.
func (c *Collector) IncPayloadsDelivered() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.payloadsDelivered++
	c.mu.Unlock()
}

// IncPayloadDeliveryFailures records a payload push that failed.
func (c *Collector) IncPayloadDeliveryFailures() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.payloadDeliveryFailures++
	c.mu.Unlock()
}

// IncReadyRejected records a TAB_READY from a tab that is not the bound target.
func (c *Collector) IncReadyRejected() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.readyRejected++
	c.mu.Unlock()
}

// IncUploadsSucceeded records a successful upload result.
func (c *Collector) IncUploadsSucceeded() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploadsSucceeded++
	c.mu.Unlock()
}

// IncUploadsFailed records a failed upload result.
func (c *Collector) IncUploadsFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.uploadsFailed++
	c.mu.Unlock()
}

// IncDeploymentsReleased records a slot cleared because its tab closed.
func (c *Collector) IncDeploymentsReleased() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.deploymentsReleased++
	c.mu.Unlock()
}

// --- Tabs ---

// IncTabsOpened records a newly created tab.
func (c *Collector) IncTabsOpened() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tabsOpened++
	c.mu.Unlock()
}

// IncTabsFocused records an existing tab brought to front.
func (c *Collector) IncTabsFocused() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.tabsFocused++
	c.mu.Unlock()
}

// --- Transport ---

// IncConnectionsOpened records an accepted peer connection.
func (c *Collector) IncConnectionsOpened() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsOpened++
	c.mu.Unlock()
}

// IncConnectionsClosed records a closed peer connection.
func (c *Collector) IncConnectionsClosed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.connectionsClosed++
	c.mu.Unlock()
}

// IncDecodeErrors records an inbound payload that failed to decode.
func (c *Collector) IncDecodeErrors() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.decodeErrors++
	c.mu.Unlock()
}

// IncUnknownMessages records an envelope with an unrecognized type tag.
func (c *Collector) IncUnknownMessages() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.unknownMessages++
	c.mu.Unlock()
}

// --- Sinks ---

// IncAdapterPublishSuccess records a delivered completion event.
func (c *Collector) IncAdapterPublishSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.adapterPublishSuccess++
	c.mu.Unlock()
}

// IncAdapterPublishFailure records a completion event that could not be delivered.
func (c *Collector) IncAdapterPublishFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.adapterPublishFailure++
	c.mu.Unlock()
}

// IncArchiveWriteSuccess records a successful archive write (per call).
func (c *Collector) IncArchiveWriteSuccess() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteSuccess++
	c.mu.Unlock()
}

// IncArchiveWriteFailure records a failed archive write (per call).
func (c *Collector) IncArchiveWriteFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.archiveWriteFailure++
	c.mu.Unlock()
}

// IncMessage records an inbound envelope with the given type tag.
func (c *Collector) IncMessage(messageType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.messagesByType[messageType]++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	byType := make(map[string]int64, len(c.messagesByType))
	for k, v := range c.messagesByType {
		byType[k] = v
	}

	return Snapshot{
		RequestsSent:     c.requestsSent,
		RequestsResolved: c.requestsResolved,
		RequestsTimedOut: c.requestsTimedOut,
		LateResponses:    c.lateResponses,
		PeerUnreachable:  c.peerUnreachable,
		SendFailures:     c.sendFailures,

		Heartbeats:   c.heartbeats,
		LivenessLost: c.livenessLost,

		DeploymentsStaged:       c.deploymentsStaged,
		PayloadsDelivered:       c.payloadsDelivered,
		PayloadDeliveryFailures: c.payloadDeliveryFailures,
		ReadyRejected:           c.readyRejected,
		UploadsSucceeded:        c.uploadsSucceeded,
		UploadsFailed:           c.uploadsFailed,
		DeploymentsReleased:     c.deploymentsReleased,

		TabsOpened:  c.tabsOpened,
		TabsFocused: c.tabsFocused,

		ConnectionsOpened: c.connectionsOpened,
		ConnectionsClosed: c.connectionsClosed,
		DecodeErrors:      c.decodeErrors,
		UnknownMessages:   c.unknownMessages,

		AdapterPublishSuccess: c.adapterPublishSuccess,
		AdapterPublishFailure: c.adapterPublishFailure,
		ArchiveWriteSuccess:   c.archiveWriteSuccess,
		ArchiveWriteFailure:   c.archiveWriteFailure,

		MessagesByType: byType,

		BrowserBackend: c.browserBackend,
		ArchiveBackend: c.archiveBackend,
		Adapter:        c.adapter,
	}
}
