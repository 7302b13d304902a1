// Package channel maintains the websocket data channel to the host process.
//
// A Connection walks Disconnected → Connecting → Connected. Any failure returns it to
// Disconnected and arms a one-shot reconnect timer with a fixed interval. There is no
// retry limit; the connection keeps trying until Close.
package channel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/smazurov/racewire/internal/events"
	"github.com/smazurov/racewire/internal/logging"
)

// DefaultReconnectInterval is the fixed delay between reconnect attempts.
const DefaultReconnectInterval = 5 * time.Second

// Conn is the subset of *websocket.Conn the read loop needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

// DialFunc opens a transport to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Options configures a Connection.
type Options struct {
	// Resolve returns the endpoint URL for each attempt. When nil, URL is used.
	Resolve func(ctx context.Context) (string, error)
	URL     string

	Dial              DialFunc
	ReconnectInterval time.Duration
	// AttemptTimeout bounds resolve plus dial. Defaults to ReconnectInterval.
	AttemptTimeout time.Duration
	Clock          clock.Clock

	// OnFrame receives every binary frame, in arrival order, on the read goroutine.
	OnFrame func(data []byte)
	// OnStateChange is called after every transition, outside internal locks.
	OnStateChange func(State)

	Bus    *events.Bus
	Logger *slog.Logger
}

// Connection is a self-healing websocket client.
type Connection struct {
	opts   Options
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	started bool
	closed  bool
	timer   *clock.Timer
	conn    Conn
	url     string
	cancel  context.CancelFunc

	attempts atomic.Uint64
	wg       sync.WaitGroup
}

// New creates a Connection. Nothing happens until Start.
func New(opts Options) *Connection {
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = DefaultReconnectInterval
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = opts.ReconnectInterval
	}
	if opts.Dial == nil {
		opts.Dial = DefaultDialer(opts.AttemptTimeout)
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("channel")
	}

	return &Connection{
		opts:   opts,
		clock:  opts.Clock,
		logger: opts.Logger,
		state:  Disconnected,
	}
}

// DefaultDialer dials with gorilla/websocket.
func DefaultDialer(handshakeTimeout time.Duration) DialFunc {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context, url string) (Conn, error) {
		conn, resp, err := dialer.DialContext(ctx, url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// Start begins the first connection attempt. Calling it again has no effect.
func (c *Connection) Start() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	c.connect()
	return nil
}

// State returns the current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// URL returns the endpoint of the most recent attempt.
func (c *Connection) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Attempts returns how many connection attempts have started.
func (c *Connection) Attempts() uint64 {
	return c.attempts.Load()
}

// Close stops reconnecting, closes the transport and waits for the read loop.
// It is safe to call more than once.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	prev := c.state
	c.state = Disconnected
	url := c.url
	c.mu.Unlock()

	var err error
	if conn != nil {
		if closeErr := conn.Close(); closeErr != nil {
			err = &TransportError{Op: "close", URL: url, Err: closeErr}
		}
	}

	c.wg.Wait()

	if prev != Disconnected {
		c.notify(prev, Disconnected, url)
	}
	c.logger.Debug("Connection closed", "url", url)
	return err
}

// connect starts one attempt if the connection is idle.
func (c *Connection) connect() {
	c.mu.Lock()
	if c.closed || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = Connecting
	url := c.url
	c.wg.Add(1)
	c.mu.Unlock()

	c.attempts.Add(1)
	c.notify(Disconnected, Connecting, url)

	go c.run(ctx)
}

func (c *Connection) run(ctx context.Context) {
	defer c.wg.Done()

	conn, url, err := c.open(ctx)
	if err != nil {
		c.logger.Warn("Connection attempt failed", "error", err, "retry_in", c.opts.ReconnectInterval)
		c.disconnected()
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.logger.Info("Connected", "url", url)
	c.notify(Connecting, Connected, url)

	err = c.readLoop(conn, url)

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}

	c.logger.Warn("Connection lost", "error", err, "retry_in", c.opts.ReconnectInterval)
	_ = conn.Close()
	c.disconnected()
}

func (c *Connection) open(ctx context.Context) (Conn, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.AttemptTimeout)
	defer cancel()

	url := c.opts.URL
	if c.opts.Resolve != nil {
		resolved, err := c.opts.Resolve(ctx)
		if err != nil {
			return nil, "", &TransportError{Op: "resolve", Err: err}
		}
		url = resolved
	}
	if url == "" {
		return nil, "", &TransportError{Op: "resolve", Err: errors.New("no endpoint")}
	}

	c.mu.Lock()
	c.url = url
	c.mu.Unlock()

	conn, err := c.opts.Dial(ctx, url)
	if err != nil {
		return nil, url, &TransportError{Op: "dial", URL: url, Err: err}
	}
	return conn, url, nil
}

func (c *Connection) readLoop(conn Conn, url string) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return &TransportError{Op: "read", URL: url, Err: err}
		}
		if messageType != websocket.BinaryMessage {
			c.logger.Debug("Ignoring non-binary frame", "type", messageType, "size", len(data))
			continue
		}
		if c.opts.OnFrame != nil {
			c.opts.OnFrame(data)
		}
	}
}

// disconnected moves to Disconnected and arms the reconnect timer.
func (c *Connection) disconnected() {
	c.mu.Lock()
	c.conn = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	prev := c.state
	c.state = Disconnected
	c.arm()
	url := c.url
	c.mu.Unlock()

	c.notify(prev, Disconnected, url)
}

// arm schedules one reconnect attempt. Caller holds mu.
func (c *Connection) arm() {
	if c.timer != nil {
		return
	}
	c.timer = c.clock.AfterFunc(c.opts.ReconnectInterval, c.fire)
}

func (c *Connection) fire() {
	c.mu.Lock()
	c.timer = nil
	c.mu.Unlock()

	c.connect()
}

func (c *Connection) notify(prev, next State, url string) {
	c.opts.Bus.Publish(events.ConnectionStateChangedEvent{
		State:     next.String(),
		Previous:  prev.String(),
		URL:       url,
		Timestamp: time.Now().Format(time.RFC3339),
	})
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(next)
	}
}
