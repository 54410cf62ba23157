package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that cross a context boundary.
type ErrorKind int

const (
	// ErrorPeerUnreachable means the liveness check failed before sending.
	ErrorPeerUnreachable ErrorKind = iota
	// ErrorTimeout means no response arrived before the request deadline.
	ErrorTimeout
	// ErrorNoActiveDeployment means nothing is staged or the caller is not
	// the bound consumer.
	ErrorNoActiveDeployment
	// ErrorInvalidTarget means a target URL could not be parsed.
	ErrorInvalidTarget
	// ErrorDeliveryFailure means a message could not be handed to its
	// destination context.
	ErrorDeliveryFailure
	// ErrorRemote means the peer answered with success=false.
	ErrorRemote
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorPeerUnreachable:
		return "peer_unreachable"
	case ErrorTimeout:
		return "timeout"
	case ErrorNoActiveDeployment:
		return "no_active_deployment"
	case ErrorInvalidTarget:
		return "invalid_target"
	case ErrorDeliveryFailure:
		return "delivery_failure"
	case ErrorRemote:
		return "remote"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// Error is the error type used across the bridge.
// Msg is the human-readable text that ends up in response "error" fields.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error of the given kind.
func NewError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrorMessage returns the text to put in a response "error" field.
// For *Error it is Msg alone, without the wrapped cause.
func ErrorMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}
