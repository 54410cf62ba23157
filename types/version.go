// Package types defines the message and deployment types shared by the
// controller, the page relays and every transport.
//
//nolint:revive // types is a common Go package naming convention
package types

// Version is the canonical project version.
// The CLI, the websocket protocol and the native-messaging host share it.
const Version = "0.3.0"

// ProtocolVersion is the message envelope version advertised on /status and
// in the hub handshake. It moves in lockstep with Version.
const ProtocolVersion = Version
