// Package wire defines the cross-context message protocol between the
// host context (which holds the wallet signer and the durable mirror) and
// the isolated context (which holds the messaging session). The two
// contexts share no memory; every interaction is a frame correlated by a
// unique id.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Action names a frame's purpose. Request frames carry an Action; event
// frames originating in the isolated context carry a Type; response frames
// carry neither and are matched to their request by id.
type Action string

const (
	// Host -> isolated context requests.
	ActionInitClient         Action = "initClient"
	ActionSendMessage        Action = "sendMessage"
	ActionGetHistory         Action = "getHistory"
	ActionWarmupConversation Action = "warmupConversation"
	ActionPerformWarmup      Action = "performWarmup"
	ActionDebugClient        Action = "debugClient"

	// Isolated context -> host events and requests.
	ActionSignRequest Action = "signRequest"
	ActionMirrorSave  Action = "firestoreSave"
	ActionMirrorQuery Action = "mirrorQuery"
)

// Frame is the unit of cross-context communication.
type Frame struct {
	ID      string          `json:"id"`
	Action  Action          `json:"action,omitempty"`
	Type    Action          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Success bool            `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// IsResponse reports whether the frame answers an earlier request.
func (f Frame) IsResponse() bool {
	return f.Action == "" && f.Type == ""
}

// Name returns whichever of Action or Type is set.
func (f Frame) Name() Action {
	if f.Action != "" {
		return f.Action
	}
	return f.Type
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v interface{}) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("frame %s has no payload", f.ID)
	}
	if err := json.Unmarshal(f.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", f.Name(), err)
	}
	return nil
}

// NewRequest builds a host-originated request frame with a fresh
// correlation id.
func NewRequest(action Action, payload interface{}) (Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{ID: uuid.NewString(), Action: action, Payload: raw}, nil
}

// NewEvent builds an isolated-context-originated frame with a fresh
// correlation id.
func NewEvent(typ Action, payload interface{}) (Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{ID: uuid.NewString(), Type: typ, Payload: raw}, nil
}

// OKResponse builds a success response for the given request id.
func OKResponse(id string, payload interface{}) (Frame, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{ID: id, Success: true, Payload: raw}, nil
}

// ErrResponse builds a failure response for the given request id.
func ErrResponse(id string, err error) Frame {
	return Frame{ID: id, Success: false, Error: err.Error()}
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return raw, nil
}
