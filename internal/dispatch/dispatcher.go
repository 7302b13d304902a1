// Package dispatch routes decoded envelopes to the listener registered for their topic.
package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/racewire/internal/codec"
	"github.com/smazurov/racewire/internal/events"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/vmihailenco/msgpack/v5"
)

// Listener consumes the payload of one topic. A returned error is logged and
// published; it never stops delivery of later envelopes.
type Listener func(payload msgpack.RawMessage) error

// DispatchError reports a listener that failed or panicked.
type DispatchError struct {
	Topic   string
	Payload msgpack.RawMessage
	Panic   any
	Cause   error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("listener for %s panicked: %v", e.Topic, e.Panic)
	}
	return fmt.Sprintf("listener for %s failed: %v", e.Topic, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// Stats counts frames seen by a Dispatcher.
type Stats struct {
	Received  uint64 `json:"received" doc:"Frames handed to the dispatcher"`
	Dropped   uint64 `json:"dropped" doc:"Frames that failed to decode"`
	Unrouted  uint64 `json:"unrouted" doc:"Envelopes with no registered listener"`
	Delivered uint64 `json:"delivered" doc:"Envelopes delivered to a listener"`
	Failed    uint64 `json:"failed" doc:"Deliveries whose listener failed or panicked"`
}

// Dispatcher holds at most one listener per topic. Registering a topic again
// replaces the previous listener.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string]Listener
	bus       *events.Bus
	logger    *slog.Logger

	received  atomic.Uint64
	dropped   atomic.Uint64
	unrouted  atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

// New creates a dispatcher. bus and logger may be nil.
func New(bus *events.Bus, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.GetLogger("dispatch")
	}
	return &Dispatcher{
		listeners: make(map[string]Listener),
		bus:       bus,
		logger:    logger,
	}
}

// Register installs listener for topic, replacing any existing one.
func (d *Dispatcher) Register(topic string, listener Listener) {
	d.mu.Lock()
	_, replaced := d.listeners[topic]
	d.listeners[topic] = listener
	d.mu.Unlock()

	if replaced {
		d.logger.Debug("Listener replaced", "topic", topic)
	}
}

// Deregister removes the listener for topic. Later envelopes for it are ignored.
func (d *Dispatcher) Deregister(topic string) {
	d.mu.Lock()
	delete(d.listeners, topic)
	d.mu.Unlock()
}

// Topics returns the registered topics in sorted order.
func (d *Dispatcher) Topics() []string {
	d.mu.RLock()
	topics := make([]string, 0, len(d.listeners))
	for topic := range d.listeners {
		topics = append(topics, topic)
	}
	d.mu.RUnlock()

	sort.Strings(topics)
	return topics
}

// HandleFrame decodes one inbound frame and dispatches it. Malformed frames
// are logged and dropped.
func (d *Dispatcher) HandleFrame(data []byte) {
	d.received.Add(1)

	env, err := codec.Decode(data)
	if err != nil {
		d.dropped.Add(1)
		d.logger.Warn("Dropping malformed frame", "error", err, "size", len(data))

		reason := err.Error()
		var decodeErr *codec.DecodeError
		if errors.As(err, &decodeErr) {
			reason = decodeErr.Reason
		}
		d.bus.Publish(events.FrameDroppedEvent{
			Size:      len(data),
			Reason:    reason,
			Timestamp: time.Now().Format(time.RFC3339),
		})
		return
	}

	d.Dispatch(env)
}

// Dispatch delivers env to its topic's listener and reports whether one was registered.
func (d *Dispatcher) Dispatch(env codec.Envelope) bool {
	d.mu.RLock()
	listener, ok := d.listeners[env.Topic]
	d.mu.RUnlock()

	if !ok {
		d.unrouted.Add(1)
		return false
	}

	if err := invoke(env, listener); err != nil {
		d.failed.Add(1)
		d.logger.Error("Listener failed",
			"topic", env.Topic,
			"payload", FormatPayload(env.Payload),
			"error", err)

		d.bus.Publish(events.DispatchFailedEvent{
			Topic:     env.Topic,
			Error:     err.Error(),
			Panic:     err.Panic != nil,
			Timestamp: time.Now().Format(time.RFC3339),
		})
		return true
	}

	d.delivered.Add(1)
	return true
}

// Stats returns a snapshot of the frame counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Received:  d.received.Load(),
		Dropped:   d.dropped.Load(),
		Unrouted:  d.unrouted.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
	}
}

func invoke(env codec.Envelope, listener Listener) (dispatchErr *DispatchError) {
	defer func() {
		if r := recover(); r != nil {
			dispatchErr = &DispatchError{
				Topic:   env.Topic,
				Payload: env.Payload,
				Panic:   r,
				Cause:   fmt.Errorf("panic: %v\n%s", r, debug.Stack()),
			}
		}
	}()

	if err := listener(env.Payload); err != nil {
		return &DispatchError{Topic: env.Topic, Payload: env.Payload, Cause: err}
	}
	return nil
}

// FormatPayload renders a payload for logs as its decoded value, falling back to hex.
func FormatPayload(raw msgpack.RawMessage) any {
	var v any
	if err := msgpack.Unmarshal(raw, &v); err != nil {
		return fmt.Sprintf("%x", []byte(raw))
	}
	return v
}
