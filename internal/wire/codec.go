package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type envelope struct {
	Type *string `json:"type"`
}

// Decode parses one inbound frame into its variant.
// Frames that are not JSON objects with a non-empty string "type" return an
// error wrapping ErrMalformedFrame.
func Decode(data []byte) (Inbound, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedFrame)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == nil || *env.Type == "" {
		return nil, ErrMissingType
	}

	raw := json.RawMessage(append([]byte(nil), trimmed...))

	switch *env.Type {
	case TypePong:
		return Pong{Raw: raw}, nil
	case TypeError:
		se := ServerError{Raw: raw}
		if err := json.Unmarshal(raw, &se); err != nil {
			return nil, fmt.Errorf("%w: error frame: %v", ErrMalformedFrame, err)
		}
		return se, nil
	default:
		return Frame{Type: *env.Type, Raw: raw}, nil
	}
}

// Encode serializes an outbound message. Strings, byte slices and
// json.RawMessage are treated as already serialized and copied, so the
// caller may reuse its buffer.
func Encode(message any) ([]byte, error) {
	switch v := message.(type) {
	case nil:
		return nil, fmt.Errorf("encode message: nil message")
	case string:
		return []byte(v), nil
	case []byte:
		return append([]byte(nil), v...), nil
	case json.RawMessage:
		return append([]byte(nil), v...), nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		return data, nil
	}
}
