// Package protocol defines the envelope pushed to websocket clients.
package protocol

import "encoding/json"

const (
	TypeEvent = "event"
	TypeError = "error"
)

type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
	Error   *ErrPayload     `json:"error,omitempty"`
}

type ErrPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewEvent(id, op string, payload any) Message {
	return Message{ID: id, Type: TypeEvent, Op: op, Payload: MustRaw(payload)}
}

// MustRaw marshals v, falling back to JSON null when v cannot be encoded.
func MustRaw(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}
