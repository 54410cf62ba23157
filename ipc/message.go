package ipc

import (
	"github.com/ajolex/surveycto-vc-agent/types"
)

// typeProbe peeks at the type tag without decoding the whole envelope.
type typeProbe struct {
	Type string `json:"type" msgpack:"type"`
}

// DecodeMessage decodes an envelope into its concrete variant.
// Envelopes with an unrecognized tag decode to *types.Unknown; only
// malformed payloads return an error (a non-fatal FrameErrorDecode).
func DecodeMessage(c Codec, payload []byte) (types.Message, error) {
	var probe typeProbe
	if err := c.Unmarshal(payload, &probe); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode message type",
			Err:  err,
		}
	}

	msg := newMessage(types.MessageType(probe.Type))
	if err := c.Unmarshal(payload, msg); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorDecode,
			Msg:  "failed to decode " + probe.Type + " message",
			Err:  err,
		}
	}
	return msg, nil
}

// EncodeMessage stamps msg with its type tag and encodes it.
func EncodeMessage(c Codec, msg types.Message) ([]byte, error) {
	types.Stamp(msg)
	return c.Marshal(msg)
}

// DecodeBody converts a generically decoded value (such as Response.Body or
// BridgeResponse.Data) into v by round-tripping it through the codec.
func DecodeBody(c Codec, body any, v any) error {
	if body == nil {
		return nil
	}
	raw, err := c.Marshal(body)
	if err != nil {
		return err
	}
	return c.Unmarshal(raw, v)
}

func newMessage(t types.MessageType) types.Message {
	switch t {
	case types.TypeLookupFormIDs:
		return &types.LookupFormIDs{}
	case types.TypeLogDeployment:
		return &types.LogDeployment{}
	case types.TypeStageDeployment:
		return &types.StageDeployment{}
	case types.TypeTabReady:
		return &types.TabReady{}
	case types.TypePayloadPush:
		return &types.PayloadPush{}
	case types.TypeUploadResult:
		return &types.UploadResult{}
	case types.TypeQueryStaged:
		return &types.QueryStaged{}
	case types.TypeRedirectRequest:
		return &types.RedirectRequest{}
	case types.TypePing:
		return &types.Ping{}
	case types.TypeReady:
		return &types.Ready{}
	case types.TypeBridgeRequest:
		return &types.BridgeRequest{}
	case types.TypeBridgeResponse:
		return &types.BridgeResponse{}
	case types.TypeTabClosed:
		return &types.TabClosed{}
	case types.TypeResponse:
		return &types.Response{}
	default:
		return &types.Unknown{}
	}
}
