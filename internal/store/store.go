package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/racewire/internal/bridge"
	"github.com/smazurov/racewire/internal/codec"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/smazurov/racewire/internal/subscription"
	"github.com/smazurov/racewire/internal/topics"
)

type options struct {
	refetch bridge.Bridge
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*options)

// WithRefetch makes every live update trigger a CurrentValue call on b. The
// fetched value is applied instead of the pushed payload.
func WithRefetch(b bridge.Bridge) Option {
	return func(o *options) {
		o.refetch = b
	}
}

// WithTimeout bounds refetch calls. Defaults to subscription.DefaultCallTimeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithLogger sets the logger used for refetch failures.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Store is a Value fed by one arena topic. It does nothing until the first
// observer subscribes.
type Store[T any] struct {
	*Value[T]

	arena *subscription.Arena
	topic string
	opts  options

	mu         sync.Mutex
	generation uint64
	requested  uint64
	applied    uint64
}

// New creates a Store for topic holding initial until the first update.
func New[T any](arena *subscription.Arena, topic string, initial T, opts ...Option) *Store[T] {
	o := options{timeout: subscription.DefaultCallTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.GetLogger("subscription")
	}
	o.logger = o.logger.With("component", "store", "topic", topic)

	s := &Store[T]{arena: arena, topic: topic, opts: o}
	s.Value = NewValue(initial, s.start)
	return s
}

// ForTopic creates a Store for a catalog topic, starting at its default.
func ForTopic[T any](arena *subscription.Arena, t topics.Topic[T], opts ...Option) *Store[T] {
	return New(arena, t.Name, t.Default, opts...)
}

// Topic returns the topic name.
func (s *Store[T]) Topic() string {
	return s.topic
}

func (s *Store[T]) start(set func(T)) func() {
	s.mu.Lock()
	s.generation++
	generation := s.generation
	s.mu.Unlock()

	release := s.arena.Acquire(s.topic, func(u subscription.Update) error {
		if s.opts.refetch != nil && u.Source == subscription.SourceLive {
			s.refetch(generation, set)
			return nil
		}

		var v T
		if err := codec.UnmarshalPayload(u.Payload, &v); err != nil {
			return fmt.Errorf("store %s: %w", s.topic, err)
		}
		set(v)
		return nil
	})

	return func() {
		s.mu.Lock()
		s.generation++
		s.mu.Unlock()
		release()
	}
}

func (s *Store[T]) refetch(generation uint64, set func(T)) {
	s.mu.Lock()
	s.requested++
	seq := s.requested
	s.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.timeout)
		defer cancel()

		raw, err := s.opts.refetch.CurrentValue(ctx, s.topic)
		if err != nil {
			if errors.Is(err, bridge.ErrNoValue) {
				s.opts.logger.Debug("Refetch found no value")
				return
			}
			s.opts.logger.Warn("Refetch failed", "error", err)
			return
		}

		var v T
		if err := codec.UnmarshalPayload(raw, &v); err != nil {
			s.opts.logger.Warn("Refetched value did not decode", "error", err)
			return
		}

		s.mu.Lock()
		stale := s.generation != generation || seq <= s.applied
		if !stale {
			s.applied = seq
		}
		s.mu.Unlock()
		if stale {
			s.opts.logger.Debug("Discarding stale refetch", "seq", seq)
			return
		}
		set(v)
	}()
}
