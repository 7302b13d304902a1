// Package host is a companion host process. It pushes telemetry frames to
// websocket clients for the topics they registered, and serves the control
// plane over HTTP and NATS.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/smazurov/racewire/internal/codec"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/smazurov/racewire/internal/topics"
	"github.com/vmihailenco/msgpack/v5"
)

// Control-plane errors.
var (
	ErrUnknownTopic  = errors.New("unknown topic")
	ErrNotRegistered = errors.New("topic not registered")
)

// TopicError ties a control-plane failure to a topic.
type TopicError struct {
	Topic string
	Err   error
}

func (e *TopicError) Error() string {
	return fmt.Sprintf("%s: %v", e.Topic, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TopicError) Unwrap() error {
	return e.Err
}

// Emitter tracks registered topics and turns source values into frames.
// A topic is emitted when it was just registered or reset, when nothing has
// been emitted for it yet, or when its value changed since the last emission.
// Registration is a set: registering twice is the same as once, and one
// unregister stops the topic.
type Emitter struct {
	mu         sync.Mutex
	values     map[string]msgpack.RawMessage
	latest     map[string]msgpack.RawMessage
	registered map[string]bool
	forced     map[string]bool
	broadcast  func(frame []byte)
	logger     *slog.Logger
}

// NewEmitter creates an emitter that hands frames to broadcast.
func NewEmitter(broadcast func(frame []byte), logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = logging.GetLogger("host")
	}
	if broadcast == nil {
		broadcast = func([]byte) {}
	}
	return &Emitter{
		values:     make(map[string]msgpack.RawMessage),
		latest:     make(map[string]msgpack.RawMessage),
		registered: make(map[string]bool),
		forced:     make(map[string]bool),
		broadcast:  broadcast,
		logger:     logger.With("component", "emitter"),
	}
}

// encodeValue encodes v with sorted map keys so equal values compare equal.
func encodeValue(v any) (msgpack.RawMessage, error) {
	if raw, ok := v.(msgpack.RawMessage); ok {
		return raw, nil
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}
	return msgpack.RawMessage(buf.Bytes()), nil
}

// Set stores the source value for topic. It is emitted on the next EmitAll.
func (e *Emitter) Set(topic string, value any) error {
	if !topics.Known(topic) {
		return &TopicError{Topic: topic, Err: ErrUnknownTopic}
	}
	raw, err := encodeValue(value)
	if err != nil {
		return &TopicError{Topic: topic, Err: err}
	}

	e.mu.Lock()
	e.values[topic] = raw
	e.mu.Unlock()
	return nil
}

// Replace swaps every source value for those in values. Topics missing from
// values lose their current value. Unknown topics are skipped.
func (e *Emitter) Replace(values map[string]any) {
	encoded := make(map[string]msgpack.RawMessage, len(values))
	for topic, value := range values {
		if !topics.Known(topic) {
			e.logger.Warn("Skipping unknown topic", "topic", topic)
			continue
		}
		raw, err := encodeValue(value)
		if err != nil {
			e.logger.Warn("Skipping value that cannot be encoded", "topic", topic, "error", err)
			continue
		}
		encoded[topic] = raw
	}

	e.mu.Lock()
	e.values = encoded
	e.mu.Unlock()

	e.logger.Debug("Source values replaced", "topics", len(encoded))
}

// Register marks topic as wanted and forces its next emission.
func (e *Emitter) Register(topic string) error {
	if !topics.Known(topic) {
		e.logger.Error("Register for unknown topic", "topic", topic)
		return &TopicError{Topic: topic, Err: ErrUnknownTopic}
	}

	e.mu.Lock()
	again := e.registered[topic]
	e.registered[topic] = true
	e.forced[topic] = true
	e.mu.Unlock()

	e.logger.Debug("Topic registered", "topic", topic, "again", again)
	return nil
}

// Unregister stops emission of topic.
func (e *Emitter) Unregister(topic string) error {
	e.mu.Lock()
	if !e.registered[topic] {
		e.mu.Unlock()
		e.logger.Error("Unregister for topic that is not registered", "topic", topic)
		return &TopicError{Topic: topic, Err: ErrNotRegistered}
	}
	delete(e.registered, topic)
	delete(e.latest, topic)
	delete(e.forced, topic)
	e.mu.Unlock()

	e.logger.Debug("Topic unregistered", "topic", topic)
	return nil
}

// Current returns the source value held for topic.
func (e *Emitter) Current(topic string) (msgpack.RawMessage, bool, error) {
	if !topics.Known(topic) {
		return nil, false, &TopicError{Topic: topic, Err: ErrUnknownTopic}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	raw, ok := e.values[topic]
	return raw, ok, nil
}

// Registered returns the set of registered topics.
func (e *Emitter) Registered() map[string]bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]bool, len(e.registered))
	for topic := range e.registered {
		out[topic] = true
	}
	return out
}

// Reset forgets what was emitted and forces every registered topic out again.
func (e *Emitter) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	clear(e.latest)
	for topic := range e.registered {
		e.forced[topic] = true
	}
}

// EmitAll broadcasts a frame for every registered topic that is due and
// returns how many frames were sent.
func (e *Emitter) EmitAll() int {
	e.mu.Lock()
	names := make([]string, 0, len(e.registered))
	for topic := range e.registered {
		names = append(names, topic)
	}
	sort.Strings(names)

	frames := make([][]byte, 0, len(names))
	for _, topic := range names {
		value, ok := e.values[topic]
		if !ok {
			continue
		}
		last, emitted := e.latest[topic]
		if !e.forced[topic] && emitted && bytes.Equal(last, value) {
			continue
		}

		frame, err := codec.Encode(topic, value)
		if err != nil {
			e.logger.Warn("Failed to encode frame", "topic", topic, "error", err)
			continue
		}
		frames = append(frames, frame)
		e.latest[topic] = value
		delete(e.forced, topic)
	}
	e.mu.Unlock()

	for _, frame := range frames {
		e.broadcast(frame)
	}
	return len(frames)
}

// Run calls EmitAll every interval until ctx is done.
func (e *Emitter) Run(ctx context.Context, clk clock.Clock, interval time.Duration) error {
	if clk == nil {
		clk = clock.New()
	}
	ticker := clk.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.EmitAll()
		}
	}
}
