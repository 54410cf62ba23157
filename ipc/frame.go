// Package ipc implements the wire codecs and length-prefixed framing used by
// every transport that carries bridge messages.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ajolex/surveycto-vc-agent/types"
)

// Frame size constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
	// MaxFrameSize is the maximum stream frame size (16 MiB), including
	// the length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum stream payload size.
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// NativeInboundLimit is the largest message the browser will send to a
	// native-messaging host.
	NativeInboundLimit = 64 * 1024 * 1024
	// NativeOutboundLimit is the largest message a native-messaging host may
	// send to the browser.
	NativeOutboundLimit = 1024 * 1024
)

// Framing describes a length-prefixed stream dialect.
type Framing struct {
	// Order is the byte order of the length prefix.
	Order binary.ByteOrder
	// MaxInbound bounds payloads read from the stream.
	MaxInbound uint32
	// MaxOutbound bounds payloads written to the stream.
	MaxOutbound uint32
	// Codec encodes message payloads.
	Codec Codec
}

var (
	// StreamFraming is used between Go processes: big-endian prefix,
	// msgpack payloads.
	StreamFraming = Framing{
		Order:       binary.BigEndian,
		MaxInbound:  MaxPayloadSize,
		MaxOutbound: MaxPayloadSize,
		Codec:       Msgpack,
	}
	// NativeMessaging is the browser native-messaging dialect: a 32-bit
	// length in native (little-endian on every supported platform) order
	// followed by UTF-8 JSON.
	NativeMessaging = Framing{
		Order:       binary.LittleEndian,
		MaxInbound:  NativeInboundLimit,
		MaxOutbound: NativeOutboundLimit,
		Codec:       JSON,
	}
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding the framing limit.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a payload that could not be decoded.
	FrameErrorDecode
)

// FrameError represents a framing or decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the stream cannot continue after this error.
// Partial and oversized frames desynchronize the stream; decode errors
// only lose one message.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorPartial || e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// FrameDecoder reads length-prefixed frames from a stream.
type FrameDecoder struct {
	reader  io.Reader
	framing Framing
}

// NewFrameDecoder creates a frame decoder for the given dialect.
func NewFrameDecoder(r io.Reader, f Framing) *FrameDecoder {
	return &FrameDecoder{reader: r, framing: f}
}

// ReadFrame reads a single frame and returns its raw payload.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *FrameError with Kind=FrameErrorPartial: incomplete frame (fatal)
//   - *FrameError with Kind=FrameErrorTooLarge: frame exceeds limit (fatal)
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := d.framing.Order.Uint32(lengthBuf[:])
	if payloadSize > d.framing.MaxInbound {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, d.framing.MaxInbound),
		}
	}

	payload := make([]byte, payloadSize)
	_, err = io.ReadFull(d.reader, payload)
	if err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}

	return payload, nil
}

// ReadMessage reads one frame and decodes it with the framing's codec.
func (d *FrameDecoder) ReadMessage() (types.Message, error) {
	payload, err := d.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeMessage(d.framing.Codec, payload)
}

// FrameEncoder writes length-prefixed frames. Safe for concurrent use.
type FrameEncoder struct {
	mu      sync.Mutex
	writer  io.Writer
	framing Framing
}

// NewFrameEncoder creates a frame encoder for the given dialect.
func NewFrameEncoder(w io.Writer, f Framing) *FrameEncoder {
	return &FrameEncoder{writer: w, framing: f}
}

// WriteFrame writes payload with its length prefix as a single write.
func (e *FrameEncoder) WriteFrame(payload []byte) error {
	if uint64(len(payload)) > uint64(e.framing.MaxOutbound) {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), e.framing.MaxOutbound),
		}
	}

	buf := make([]byte, LengthPrefixSize+len(payload))
	e.framing.Order.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.writer.Write(buf)
	return err
}

// WriteMessage encodes msg with the framing's codec and writes it.
func (e *FrameEncoder) WriteMessage(msg types.Message) error {
	payload, err := EncodeMessage(e.framing.Codec, msg)
	if err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to encode message", Err: err}
	}
	return e.WriteFrame(payload)
}
