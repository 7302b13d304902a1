// Package subscription reference-counts topic interest and fans live updates out
// to every attached sink.
//
// The Arena is the only component that talks to both the dispatcher and the host
// bridge. The first sink on a topic registers one dispatcher listener, asks the host
// to start emitting the topic and fetches a snapshot. The last sink to leave
// reverses this. Host calls for one topic run in FIFO order, so a register always
// reaches the host before its matching deregister.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/smazurov/racewire/internal/bridge"
	"github.com/smazurov/racewire/internal/dispatch"
	"github.com/smazurov/racewire/internal/events"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/vmihailenco/msgpack/v5"
)

// DefaultCallTimeout bounds each host call.
const DefaultCallTimeout = 5 * time.Second

// Source tells a sink where an update came from.
type Source int

const (
	// SourceLive is an envelope from the data channel.
	SourceLive Source = iota
	// SourceSnapshot is a host current-value response.
	SourceSnapshot
	// SourceReplay is the last held value handed to a sink that joined late.
	SourceReplay
)

func (s Source) String() string {
	switch s {
	case SourceLive:
		return "live"
	case SourceSnapshot:
		return "snapshot"
	case SourceReplay:
		return "replay"
	default:
		return "unknown"
	}
}

// Update is one value delivered to a sink.
type Update struct {
	Topic   string
	Payload msgpack.RawMessage
	Source  Source
}

// Sink receives updates for one topic. A returned error is logged; the sink keeps
// receiving later updates.
type Sink func(Update) error

// ArenaOptions configures an Arena.
type ArenaOptions struct {
	Dispatcher  *dispatch.Dispatcher
	Bridge      bridge.Bridge
	Bus         *events.Bus
	Logger      *slog.Logger
	CallTimeout time.Duration
}

// TopicInfo describes one attached topic.
type TopicInfo struct {
	Topic      string `json:"topic" example:"standings" doc:"Topic name"`
	Refs       int    `json:"refs" example:"2" doc:"Attached sinks"`
	Generation uint64 `json:"generation" example:"4" doc:"Snapshot generation"`
	HasValue   bool   `json:"has_value" doc:"Whether a value has been received"`
	LiveSeen   bool   `json:"live_seen" doc:"Whether a live update arrived since the last snapshot request"`
}

type sink struct {
	id     uint64
	fn     Sink
	primed bool
}

type entry struct {
	topic      string
	generation uint64
	value      msgpack.RawMessage
	source     Source
	hasValue   bool
	liveSeen   bool
	sinks      []*sink
	serial     Serial
}

type call struct {
	op string
	fn func(ctx context.Context) error
}

type callQueue struct {
	pending []call
}

// Arena tracks per-topic references and the host interest that goes with them.
type Arena struct {
	dispatcher *dispatch.Dispatcher
	bridge     bridge.Bridge
	bus        *events.Bus
	logger     *slog.Logger
	timeout    time.Duration

	fetchCtx    context.Context
	cancelFetch context.CancelFunc

	mu         sync.Mutex
	entries    map[string]*entry
	queues     map[string]*callQueue
	generation uint64
	nextSink   uint64
	inflight   int
	closed     bool
	wg         sync.WaitGroup
}

// NewArena creates an Arena. A nil Dispatcher gets a private one and a nil
// Bridge behaves like bridge.Noop.
func NewArena(opts ArenaOptions) *Arena {
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("subscription")
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.New(opts.Bus, nil)
	}
	if opts.Bridge == nil {
		opts.Bridge = bridge.Noop{}
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Arena{
		dispatcher:  opts.Dispatcher,
		bridge:      opts.Bridge,
		bus:         opts.Bus,
		logger:      opts.Logger.With("component", "arena"),
		timeout:     opts.CallTimeout,
		fetchCtx:    ctx,
		cancelFetch: cancel,
		entries:     make(map[string]*entry),
		queues:      make(map[string]*callQueue),
	}
}

// Dispatcher returns the dispatcher the arena registers listeners with.
func (a *Arena) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Acquire attaches fn to topic and returns its release function. Release is
// idempotent. If the topic already holds a value, fn receives it right away.
// After Close, Acquire returns a no-op release and fn is never called.
func (a *Arena) Acquire(topic string, fn Sink) (release func()) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return func() {}
	}

	e, ok := a.entries[topic]
	attached := !ok
	if attached {
		a.generation++
		e = &entry{topic: topic, generation: a.generation}
		a.entries[topic] = e

		a.dispatcher.Register(topic, a.listener(e))
		a.enqueue(topic, call{op: bridge.OpRegister, fn: func(ctx context.Context) error {
			return a.bridge.RegisterInterest(ctx, topic)
		}})
		a.fetch(e, e.generation)
	}

	a.nextSink++
	s := &sink{id: a.nextSink, fn: fn}
	e.sinks = append(e.sinks, s)
	refs := len(e.sinks)
	generation := e.generation
	hasValue := e.hasValue
	a.mu.Unlock()

	if attached {
		a.logger.Debug("Topic attached", "topic", topic, "generation", generation)
		a.bus.Publish(events.TopicAttachedEvent{
			Topic:      topic,
			Generation: generation,
			Timestamp:  time.Now().Format(time.RFC3339),
		})
	} else {
		a.logger.Debug("Sink joined", "topic", topic, "refs", refs)
	}

	if hasValue {
		e.serial.Do(func() { a.replay(e, s) })
	}

	var once sync.Once
	return func() {
		once.Do(func() { a.release(e, s) })
	}
}

func (a *Arena) release(e *entry, s *sink) {
	a.mu.Lock()
	if a.entries[e.topic] != e {
		a.mu.Unlock()
		return
	}

	for i, candidate := range e.sinks {
		if candidate == s {
			e.sinks = append(e.sinks[:i], e.sinks[i+1:]...)
			break
		}
	}
	if len(e.sinks) > 0 {
		a.mu.Unlock()
		return
	}

	a.detachLocked(e)
	a.mu.Unlock()

	a.detached(e)
}

// detachLocked drops e and queues its deregister. Caller holds mu.
func (a *Arena) detachLocked(e *entry) {
	delete(a.entries, e.topic)
	a.dispatcher.Deregister(e.topic)

	topic := e.topic
	a.enqueue(topic, call{op: bridge.OpDeregister, fn: func(ctx context.Context) error {
		return a.bridge.DeregisterInterest(ctx, topic)
	}})
}

func (a *Arena) detached(e *entry) {
	a.logger.Debug("Topic detached", "topic", e.topic)
	a.bus.Publish(events.TopicDetachedEvent{
		Topic:      e.topic,
		Generation: e.generation,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
}

func (a *Arena) listener(e *entry) dispatch.Listener {
	return func(payload msgpack.RawMessage) error {
		e.serial.Do(func() { a.applyLive(e, payload) })
		return nil
	}
}

func (a *Arena) applyLive(e *entry, payload msgpack.RawMessage) {
	a.mu.Lock()
	if a.entries[e.topic] != e {
		a.mu.Unlock()
		return
	}
	e.liveSeen = true
	sinks := e.store(payload, SourceLive)
	a.mu.Unlock()

	a.deliver(Update{Topic: e.topic, Payload: payload, Source: SourceLive}, sinks)
}

func (a *Arena) applySnapshot(e *entry, generation uint64, payload msgpack.RawMessage) {
	a.mu.Lock()
	if a.entries[e.topic] != e || e.generation != generation || e.liveSeen {
		a.mu.Unlock()
		a.logger.Debug("Discarding snapshot", "topic", e.topic, "generation", generation)
		return
	}
	sinks := e.store(payload, SourceSnapshot)
	a.mu.Unlock()

	a.deliver(Update{Topic: e.topic, Payload: payload, Source: SourceSnapshot}, sinks)
}

func (a *Arena) replay(e *entry, s *sink) {
	a.mu.Lock()
	if a.entries[e.topic] != e || s.primed || !e.hasValue || !e.holds(s) {
		a.mu.Unlock()
		return
	}
	s.primed = true
	payload := e.value
	a.mu.Unlock()

	a.deliver(Update{Topic: e.topic, Payload: payload, Source: SourceReplay}, []Sink{s.fn})
}

// store records payload and returns the sinks to deliver it to, in attach order.
// Caller holds the arena lock.
func (e *entry) store(payload msgpack.RawMessage, source Source) []Sink {
	e.value = payload
	e.source = source
	e.hasValue = true

	sinks := make([]Sink, len(e.sinks))
	for i, s := range e.sinks {
		s.primed = true
		sinks[i] = s.fn
	}
	return sinks
}

func (e *entry) holds(s *sink) bool {
	for _, candidate := range e.sinks {
		if candidate == s {
			return true
		}
	}
	return false
}

func (a *Arena) deliver(update Update, sinks []Sink) {
	for _, fn := range sinks {
		if err := callSink(fn, update); err != nil {
			a.logger.Error("Sink rejected update",
				"topic", update.Topic,
				"source", update.Source.String(),
				"payload", dispatch.FormatPayload(update.Payload),
				"error", err)
			a.bus.Publish(events.DispatchFailedEvent{
				Topic:     update.Topic,
				Error:     err.Error(),
				Panic:     err.Panic != nil,
				Timestamp: time.Now().Format(time.RFC3339),
			})
		}
	}

	a.bus.Publish(events.TopicUpdatedEvent{
		Topic:     update.Topic,
		Source:    update.Source.String(),
		Size:      len(update.Payload),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func callSink(fn Sink, update Update) (dispatchErr *dispatch.DispatchError) {
	defer func() {
		if r := recover(); r != nil {
			dispatchErr = &dispatch.DispatchError{
				Topic:   update.Topic,
				Payload: update.Payload,
				Panic:   r,
				Cause:   fmt.Errorf("panic: %v", r),
			}
		}
	}()

	if err := fn(update); err != nil {
		return &dispatch.DispatchError{Topic: update.Topic, Payload: update.Payload, Cause: err}
	}
	return nil
}

// fetch requests a snapshot for generation. Caller holds mu.
func (a *Arena) fetch(e *entry, generation uint64) {
	a.inflight++
	a.wg.Add(1)
	go func() {
		defer func() {
			a.mu.Lock()
			a.inflight--
			a.mu.Unlock()
			a.wg.Done()
		}()

		ctx, cancel := context.WithTimeout(a.fetchCtx, a.timeout)
		defer cancel()

		payload, err := a.bridge.CurrentValue(ctx, e.topic)
		if err != nil {
			if errors.Is(err, bridge.ErrNoValue) || errors.Is(err, context.Canceled) {
				a.logger.Debug("No snapshot", "topic", e.topic, "error", err)
				return
			}
			a.hostCallFailed(bridge.OpCurrent, e.topic, err)
			return
		}

		e.serial.Do(func() { a.applySnapshot(e, generation, payload) })
	}()
}

// enqueue appends c to topic's call queue, starting a worker if idle. Caller holds mu.
func (a *Arena) enqueue(topic string, c call) {
	q, ok := a.queues[topic]
	if ok {
		q.pending = append(q.pending, c)
		return
	}

	q = &callQueue{pending: []call{c}}
	a.queues[topic] = q
	a.wg.Add(1)
	go a.runQueue(topic, q)
}

func (a *Arena) runQueue(topic string, q *callQueue) {
	defer a.wg.Done()

	for {
		a.mu.Lock()
		if len(q.pending) == 0 {
			delete(a.queues, topic)
			a.mu.Unlock()
			return
		}
		c := q.pending[0]
		q.pending = q.pending[1:]
		a.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		err := c.fn(ctx)
		cancel()

		if err != nil {
			a.hostCallFailed(c.op, topic, err)
		}
	}
}

func (a *Arena) hostCallFailed(op, topic string, err error) {
	a.logger.Warn("Host call failed", "op", op, "topic", topic, "error", err)
	a.bus.Publish(events.HostCallFailedEvent{
		Op:        op,
		Topic:     topic,
		Error:     err.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// Resync re-registers interest in every attached topic and refetches its
// snapshot. The registers run on each topic's call queue, behind any pending
// register or deregister. A live update that arrives before the snapshot still
// wins.
func (a *Arena) Resync() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	for _, e := range a.entries {
		topic := e.topic
		a.enqueue(topic, call{op: bridge.OpRegister, fn: func(ctx context.Context) error {
			return a.bridge.RegisterInterest(ctx, topic)
		}})

		a.generation++
		e.generation = a.generation
		e.liveSeen = false
		a.fetch(e, e.generation)
	}
	a.logger.Debug("Resync requested", "topics", len(a.entries))
}

// Refs returns the number of sinks attached to topic.
func (a *Arena) Refs(topic string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if e, ok := a.entries[topic]; ok {
		return len(e.sinks)
	}
	return 0
}

// Attached returns the attached topics in sorted order.
func (a *Arena) Attached() []string {
	a.mu.Lock()
	topics := make([]string, 0, len(a.entries))
	for topic := range a.entries {
		topics = append(topics, topic)
	}
	a.mu.Unlock()

	sort.Strings(topics)
	return topics
}

// Topics describes every attached topic, sorted by name.
func (a *Arena) Topics() []TopicInfo {
	a.mu.Lock()
	infos := make([]TopicInfo, 0, len(a.entries))
	for _, e := range a.entries {
		infos = append(infos, TopicInfo{
			Topic:      e.topic,
			Refs:       len(e.sinks),
			Generation: e.generation,
			HasValue:   e.hasValue,
			LiveSeen:   e.liveSeen,
		})
	}
	a.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Topic < infos[j].Topic })
	return infos
}

// WaitIdle blocks until no host call is queued or in flight.
func (a *Arena) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		a.mu.Lock()
		idle := len(a.queues) == 0 && a.inflight == 0
		a.mu.Unlock()
		if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close detaches every topic, deregisters interest for each and waits for the
// queued host calls. Pending snapshot fetches are cancelled. Close is idempotent.
func (a *Arena) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true

	detached := make([]*entry, 0, len(a.entries))
	for _, e := range a.entries {
		detached = append(detached, e)
	}
	for _, e := range detached {
		a.detachLocked(e)
	}
	a.mu.Unlock()

	a.cancelFetch()
	for _, e := range detached {
		a.detached(e)
	}

	a.wg.Wait()
	a.logger.Debug("Arena closed", "detached", len(detached))
}
