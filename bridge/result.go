package bridge

import (
	"fmt"

	"github.com/ajolex/surveycto-vc-agent/types"
)

// Result is what a request continuation receives.
type Result struct {
	// ID is the request id; zero when the request never left.
	ID      int64
	Kind    types.MessageType
	Success bool
	// Data is the peer's response data as decoded by the transport codec.
	Data any
	// Err is set on every failure: *types.Error for bridge failures,
	// context errors for abandoned Calls.
	Err error
}

// OK reports whether the request succeeded.
func (r Result) OK() bool {
	return r.Err == nil && r.Success
}

// FormIDs normalizes r into the lookup reply shape. The list is never nil.
func (r Result) FormIDs() types.FormIDsReply {
	if r.Err != nil {
		return types.FormIDsReply{FormIDs: []string{}, Error: types.ErrorMessage(r.Err)}
	}
	return types.FormIDsReply{FormIDs: StringList(r.Data)}
}

// Command normalizes r into the success/error reply shape.
func (r Result) Command() types.CommandReply {
	if r.Err != nil {
		return types.CommandReply{Success: false, Error: types.ErrorMessage(r.Err)}
	}
	reply := types.CommandReply{Success: r.Success}
	if s, ok := r.Data.(string); ok {
		reply.Message = s
	}
	return reply
}

// StringList converts decoded response data into a string slice. Codecs
// decode arrays into []any, so non-string elements are formatted.
func StringList(data any) []string {
	switch v := data.(type) {
	case []string:
		return append([]string{}, v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
				continue
			}
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return []string{}
	}
}
