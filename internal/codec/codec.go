package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is one decoded data-channel frame: a topic name and its opaque payload.
type Envelope struct {
	Topic   string
	Payload msgpack.RawMessage
}

// Unmarshal decodes the payload into v.
func (e Envelope) Unmarshal(v any) error {
	return UnmarshalPayload(e.Payload, v)
}

// DecodeError reports a frame that is not a valid [topic, payload] pair.
type DecodeError struct {
	Reason string
	Size   int
	Cause  error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode frame (%d bytes): %s: %v", e.Size, e.Reason, e.Cause)
	}
	return fmt.Sprintf("decode frame (%d bytes): %s", e.Size, e.Reason)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Decode parses one binary frame into an Envelope.
func Decode(data []byte) (Envelope, error) {
	if len(data) == 0 {
		return Envelope{}, &DecodeError{Reason: "empty frame"}
	}

	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Envelope{}, &DecodeError{Reason: "frame is not an array", Size: len(data), Cause: err}
	}
	if n != 2 {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("expected 2 elements, got %d", n), Size: len(data)}
	}

	topic, err := dec.DecodeString()
	if err != nil {
		return Envelope{}, &DecodeError{Reason: "topic is not a string", Size: len(data), Cause: err}
	}
	if topic == "" {
		return Envelope{}, &DecodeError{Reason: "empty topic", Size: len(data)}
	}

	payload, err := dec.DecodeRaw()
	if err != nil {
		return Envelope{}, &DecodeError{Reason: "truncated payload", Size: len(data), Cause: err}
	}

	// bytes.Reader is an io.ByteScanner, so the decoder reads from it without buffering.
	if r.Len() > 0 {
		return Envelope{}, &DecodeError{Reason: fmt.Sprintf("%d trailing bytes", r.Len()), Size: len(data)}
	}

	return Envelope{Topic: topic, Payload: payload}, nil
}

// Encode builds a frame for topic carrying payload.
func Encode(topic string, payload any) ([]byte, error) {
	if topic == "" {
		return nil, fmt.Errorf("encode frame: empty topic")
	}
	data, err := msgpack.Marshal([]any{topic, payload})
	if err != nil {
		return nil, fmt.Errorf("encode frame for %s: %w", topic, err)
	}
	return data, nil
}

// EncodePayload encodes a standalone payload, as returned by snapshot calls.
func EncodePayload(v any) (msgpack.RawMessage, error) {
	if raw, ok := v.(msgpack.RawMessage); ok {
		return raw, nil
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return msgpack.RawMessage(data), nil
}

// UnmarshalPayload decodes a raw payload into v.
func UnmarshalPayload(raw msgpack.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("unmarshal payload: empty")
	}
	if err := msgpack.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}
