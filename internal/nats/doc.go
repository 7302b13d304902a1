// Package nats provides the optional NATS control plane between racewire clients
// and the host process.
//
// # Architecture
//
//   - Server: embedded NATS server started by "racewire host --nats-embedded"
//   - Responder: host-side request/reply handlers for the control subjects
//   - Connect: shared client connection setup with infinite reconnects
//
// The client side of the control plane lives in the bridge package, which sends
// requests on the subjects defined here.
//
// # Subjects
//
//	racewire.host.endpoint     # → {"host":"127.0.0.1","port":53122}
//	racewire.host.register     # data: topic name
//	racewire.host.unregister   # data: topic name
//	racewire.host.current      # data: topic name → msgpack payload
//
// Failures come back as an empty reply with a Racewire-Error header. A current
// request for a topic with no value yet carries Racewire-Status: no-value.
//
// # Debugging with nats CLI
//
//	nats req racewire.host.endpoint ''
//	nats req racewire.host.register gear
//	nats sub "racewire.>"
package nats
