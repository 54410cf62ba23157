package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes message envelopes.
type Codec interface {
	// Name is the value used in configuration and the hub "codec" query
	// parameter.
	Name() string
	// Binary reports whether encoded payloads are binary (websocket binary
	// frames) or text.
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Codec names.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

var (
	// JSON is the codec spoken by browser contexts. Byte slices travel as
	// base64 strings.
	JSON Codec = jsonCodec{}
	// Msgpack is the codec spoken by Go peers. Byte slices travel as bin.
	Msgpack Codec = msgpackCodec{}
)

// CodecByName resolves a codec name. The empty name selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSON, nil
	case CodecMsgpack:
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (expected json or msgpack)", name)
	}
}

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return CodecJSON }
func (jsonCodec) Binary() bool                       { return false }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return CodecMsgpack }
func (msgpackCodec) Binary() bool                       { return true }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }
