// Package codec decodes the binary envelope carried on the telemetry data channel.
//
// Every frame is a msgpack array of exactly two elements:
//
//	[topic string, payload any]
//
// The payload stays opaque ([msgpack.RawMessage]) until a consumer decodes it into
// the concrete shape it expects. Malformed frames produce a [*DecodeError]; callers
// drop the frame and keep the connection open.
package codec
