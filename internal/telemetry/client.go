// Package telemetry wires the data channel, dispatcher and subscription arena
// into one explicitly owned Client.
package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/smazurov/racewire/internal/bridge"
	"github.com/smazurov/racewire/internal/channel"
	"github.com/smazurov/racewire/internal/dispatch"
	"github.com/smazurov/racewire/internal/events"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/smazurov/racewire/internal/store"
	"github.com/smazurov/racewire/internal/subscription"
	"github.com/smazurov/racewire/internal/topics"
)

// Options configures a Client.
type Options struct {
	// Bridge is the host control plane. Defaults to bridge.Noop with URL as the
	// only source of the endpoint.
	Bridge bridge.Bridge
	// URL pins the data-channel endpoint. When empty it is resolved through Bridge
	// on every connection attempt.
	URL string

	ReconnectInterval time.Duration
	CallTimeout       time.Duration
	Dial              channel.DialFunc
	Clock             clock.Clock

	Bus    *events.Bus
	Logger *slog.Logger
}

// Client owns one data channel and every topic multiplexed over it.
type Client struct {
	logger     *slog.Logger
	bus        *events.Bus
	dispatcher *dispatch.Dispatcher
	arena      *subscription.Arena
	conn       *channel.Connection
	liveness   *store.Value[channel.State]

	mu       sync.Mutex
	started  bool
	closed   bool
	connects int
}

// NewClient builds a Client. Nothing connects until Init.
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("telemetry")
	}
	if opts.Bridge == nil {
		opts.Bridge = bridge.Noop{}
	}

	c := &Client{
		logger:   opts.Logger,
		bus:      opts.Bus,
		liveness: store.NewValue(channel.Disconnected, nil),
	}

	c.dispatcher = dispatch.New(opts.Bus, logging.GetLogger("dispatch"))
	c.arena = subscription.NewArena(subscription.ArenaOptions{
		Dispatcher:  c.dispatcher,
		Bridge:      opts.Bridge,
		Bus:         opts.Bus,
		Logger:      logging.GetLogger("subscription"),
		CallTimeout: opts.CallTimeout,
	})

	connOpts := channel.Options{
		URL:               opts.URL,
		Dial:              opts.Dial,
		ReconnectInterval: opts.ReconnectInterval,
		Clock:             opts.Clock,
		OnFrame:           c.dispatcher.HandleFrame,
		OnStateChange:     c.stateChanged,
		Bus:               opts.Bus,
		Logger:            logging.GetLogger("channel"),
	}
	if opts.URL == "" {
		connOpts.Resolve = bridge.Resolver(opts.Bridge)
	}
	c.conn = channel.New(connOpts)

	return c
}

// Init opens the data channel. It is idempotent; after Shutdown it returns
// channel.ErrClosed.
func (c *Client) Init() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return channel.ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.logger.Info("Starting telemetry client")
	return c.conn.Start()
}

// Shutdown detaches every topic and closes the data channel. It is idempotent.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.arena.Close()
	err := c.conn.Close()
	c.logger.Info("Telemetry client stopped")
	return err
}

func (c *Client) stateChanged(state channel.State) {
	c.liveness.Set(state)

	if state != channel.Connected {
		return
	}

	c.mu.Lock()
	c.connects++
	resync := c.connects > 1
	c.mu.Unlock()

	if resync {
		c.logger.Info("Reconnected, resyncing topics", "url", c.conn.URL())
		c.arena.Resync()
	} else {
		c.logger.Info("Connected", "url", c.conn.URL())
	}
}

// Liveness is the connection state as an observable value.
func (c *Client) Liveness() *store.Value[channel.State] {
	return c.liveness
}

// State returns the current connection state.
func (c *Client) State() channel.State {
	return c.conn.State()
}

// Arena returns the client's subscription arena.
func (c *Client) Arena() *subscription.Arena {
	return c.arena
}

// Dispatcher returns the client's topic dispatcher.
func (c *Client) Dispatcher() *dispatch.Dispatcher {
	return c.dispatcher
}

// Connection returns the data channel.
func (c *Client) Connection() *channel.Connection {
	return c.conn
}

// Bus returns the event bus the client publishes to. It may be nil.
func (c *Client) Bus() *events.Bus {
	return c.bus
}

// Watch returns a store for a catalog topic on client c.
func Watch[T any](c *Client, t topics.Topic[T], opts ...store.Option) *store.Store[T] {
	return store.ForTopic(c.arena, t, opts...)
}

// Topics describes every attached topic.
func (c *Client) Topics() []subscription.TopicInfo {
	return c.arena.Topics()
}

// Stats returns the dispatcher counters.
func (c *Client) Stats() dispatch.Stats {
	return c.dispatcher.Stats()
}
