package codec

import (
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode("speed", 187)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Topic != "speed" {
		t.Errorf("Expected topic speed, got %q", env.Topic)
	}

	var speed int
	if err := env.Unmarshal(&speed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if speed != 187 {
		t.Errorf("Expected payload 187, got %d", speed)
	}
}

func TestDecodeStructPayload(t *testing.T) {
	type proximity struct {
		IsLeft  bool `msgpack:"is_left"`
		IsRight bool `msgpack:"is_right"`
	}

	frame, err := Encode("proximity", map[string]any{"is_left": true, "is_right": false})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	env, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	var got proximity
	if err := env.Unmarshal(&got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !got.IsLeft || got.IsRight {
		t.Errorf("Unexpected payload: %+v", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	mustMarshal := func(v any) []byte {
		data, err := msgpack.Marshal(v)
		if err != nil {
			t.Fatalf("marshal fixture: %v", err)
		}
		return data
	}

	valid, err := Encode("gear", "3")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"garbage", []byte{0xc1, 0xff, 0x00}},
		{"not an array", mustMarshal("speed")},
		{"one element", mustMarshal([]any{"speed"})},
		{"three elements", mustMarshal([]any{"speed", 1, 2})},
		{"numeric topic", mustMarshal([]any{42, "x"})},
		{"empty topic", mustMarshal([]any{"", 1})},
		{"truncated", valid[:len(valid)-1]},
		{"trailing bytes", append(append([]byte{}, valid...), 0x01)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if err == nil {
				t.Fatal("Expected decode error")
			}
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Expected *DecodeError, got %T", err)
			}
		})
	}
}

func TestEncodeRejectsEmptyTopic(t *testing.T) {
	if _, err := Encode("", 1); err == nil {
		t.Error("Expected error for empty topic")
	}
}

func TestEncodePayloadPassesRawThrough(t *testing.T) {
	raw, err := EncodePayload("N")
	if err != nil {
		t.Fatalf("EncodePayload failed: %v", err)
	}

	again, err := EncodePayload(raw)
	if err != nil {
		t.Fatalf("EncodePayload(raw) failed: %v", err)
	}
	if string(again) != string(raw) {
		t.Error("Raw payload should pass through unchanged")
	}

	var gear string
	if err := UnmarshalPayload(again, &gear); err != nil {
		t.Fatalf("UnmarshalPayload failed: %v", err)
	}
	if gear != "N" {
		t.Errorf("Expected N, got %q", gear)
	}
}
