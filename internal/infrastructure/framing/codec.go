// Package framing converts between the relay's wire forms and MIDI payload bytes.
//
// Two forms exist. A text envelope is a JSON object such as
// {"type":"midi","payload":[144,60,100]}; a binary message carries the
// payload bytes verbatim. The relay itself forwards the original raw form
// and uses Decode only to classify what it received.
package framing

import (
	"bytes"
	"encoding/json"
	"fmt"

	"midirelay/internal/core/domain"
)

// KindMIDI is the only discriminant value the relay accepts.
const KindMIDI = "midi"

// Envelope is the decoded view of one inbound message.
type Envelope struct {
	Encoding domain.Encoding
	// Kind is the text discriminant. Empty for binary messages.
	Kind    string
	Payload []byte
}

type wireEnvelope struct {
	Type    string `json:"type"`
	Payload []int  `json:"payload"`
}

// Decode parses raw according to its encoding. Binary input never fails.
func Decode(encoding domain.Encoding, raw []byte) (Envelope, error) {
	switch encoding {
	case domain.EncodingBinary:
		return Envelope{Encoding: domain.EncodingBinary, Payload: raw}, nil
	case domain.EncodingText:
		return decodeText(raw)
	default:
		return Envelope{}, fmt.Errorf("unknown encoding %q", encoding)
	}
}

func decodeText(raw []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedEnvelope, err)
	}
	if fields == nil {
		return Envelope{}, fmt.Errorf("%w: not an object", domain.ErrMalformedEnvelope)
	}

	rawType, ok := fields["type"]
	if !ok {
		return Envelope{}, fmt.Errorf("%w: missing type", domain.ErrUnexpectedMessageKind)
	}
	var kind string
	if err := json.Unmarshal(rawType, &kind); err != nil {
		return Envelope{}, fmt.Errorf("%w: type is not a string", domain.ErrMalformedEnvelope)
	}
	if kind != KindMIDI {
		return Envelope{}, fmt.Errorf("%w: %q", domain.ErrUnexpectedMessageKind, kind)
	}

	rawPayload, ok := fields["payload"]
	if !ok || bytes.Equal(bytes.TrimSpace(rawPayload), []byte("null")) {
		return Envelope{}, fmt.Errorf("%w: missing payload", domain.ErrMalformedEnvelope)
	}
	var values []int
	if err := json.Unmarshal(rawPayload, &values); err != nil {
		return Envelope{}, fmt.Errorf("%w: payload: %v", domain.ErrMalformedEnvelope, err)
	}

	payload := make([]byte, len(values))
	for i, v := range values {
		if v < 0 || v > 255 {
			return Envelope{}, fmt.Errorf("%w: payload[%d]=%d out of byte range", domain.ErrMalformedEnvelope, i, v)
		}
		payload[i] = byte(v)
	}

	return Envelope{Encoding: domain.EncodingText, Kind: kind, Payload: payload}, nil
}

// Encode builds the wire form of payload. The result for binary is a copy.
func Encode(payload []byte, encoding domain.Encoding) ([]byte, error) {
	switch encoding {
	case domain.EncodingBinary:
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case domain.EncodingText:
		values := make([]int, len(payload))
		for i, b := range payload {
			values[i] = int(b)
		}
		return json.Marshal(wireEnvelope{Type: KindMIDI, Payload: values})
	default:
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
}

// Describe renders a short, log-friendly summary of an envelope.
func Describe(env Envelope) string {
	if env.Encoding == domain.EncodingBinary {
		return fmt.Sprintf("binary %d bytes", len(env.Payload))
	}
	return fmt.Sprintf("text %s %d bytes", env.Kind, len(env.Payload))
}
