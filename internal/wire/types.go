package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Reserved and collaboration message types.
const (
	TypePing            = "ping"  // outbound only
	TypePong            = "pong"  // inbound only, absorbed by the heartbeat
	TypeError           = "error" // inbound, server-reported failure
	TypeStartEditing    = "start_editing"
	TypeStopEditing     = "stop_editing"
	TypeTyping          = "typing"
	TypeCursorPosition  = "cursor_position"
	TypeRequestPresence = "request_presence"
)

// Errors
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrMissingType    = fmt.Errorf("%w: missing type", ErrMalformedFrame)
)

// Inbound is a decoded server frame.
type Inbound interface {
	MessageType() string
}

// Pong acknowledges a ping.
type Pong struct {
	Raw json.RawMessage
}

func (Pong) MessageType() string { return TypePong }

// ServerError is an application error reported by the server.
type ServerError struct {
	Message string          `json:"message"`
	Raw     json.RawMessage `json:"-"`
}

func (ServerError) MessageType() string { return TypeError }

// Error implements error so a ServerError can travel as one.
func (e ServerError) Error() string {
	return "server error: " + e.Message
}

// Frame is any frame without a dedicated variant. Type is never empty.
type Frame struct {
	Type string
	Raw  json.RawMessage // the complete frame, including "type"
}

func (f Frame) MessageType() string { return f.Type }

// Decode unmarshals the complete frame into v.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Raw, v)
}

// Fields returns the frame as a generic object.
func (f Frame) Fields() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(f.Raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Ping is the heartbeat probe.
type Ping struct {
	Type string `json:"type"`
}

// StartEditing announces that the participant focused a field.
type StartEditing struct {
	Type  string `json:"type"`
	Field string `json:"field"`
}

// StopEditing announces that the participant left the field they were editing.
type StopEditing struct {
	Type string `json:"type"`
}

// Typing carries in-progress field content.
type Typing struct {
	Type    string `json:"type"`
	Field   string `json:"field"`
	Content string `json:"content"`
}

// CursorPosition carries the caret offset within a field.
type CursorPosition struct {
	Type     string `json:"type"`
	Field    string `json:"field"`
	Position int    `json:"position"`
}

// RequestPresence asks the server for the current participant list.
type RequestPresence struct {
	Type string `json:"type"`
}

func NewPing() Ping { return Ping{Type: TypePing} }

func NewStartEditing(field string) StartEditing {
	return StartEditing{Type: TypeStartEditing, Field: field}
}

func NewStopEditing() StopEditing { return StopEditing{Type: TypeStopEditing} }

func NewTyping(field, content string) Typing {
	return Typing{Type: TypeTyping, Field: field, Content: content}
}

func NewCursorPosition(field string, position int) CursorPosition {
	return CursorPosition{Type: TypeCursorPosition, Field: field, Position: position}
}

func NewRequestPresence() RequestPresence { return RequestPresence{Type: TypeRequestPresence} }
