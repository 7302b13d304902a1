package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smazurov/racewire/internal/logging"
)

// DefaultPort is the data-channel port when none is configured.
const DefaultPort = 8384

const writeTimeout = 10 * time.Second

// ServerOptions configures the data-channel server.
type ServerOptions struct {
	// Host to bind. Defaults to 127.0.0.1.
	Host string
	// Port to bind. Zero picks a free port.
	Port int
	// OnConnect runs after a client is accepted.
	OnConnect func()
	Logger    *slog.Logger
}

// Server accepts websocket clients and broadcasts binary frames to all of them.
// Each client has its own unbounded queue, so a slow client never blocks the others.
type Server struct {
	opts     ServerOptions
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
	clients  map[*client]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a data-channel server. Call Start to listen.
func NewServer(opts ServerOptions) *Server {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("host")
	}

	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 32 * 1024,
			// Browser overlays load from file:// and other local origins
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger.With("component", "ws-server"),
		clients: make(map[*client]struct{}),
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("server closed")
	}
	if s.listener != nil {
		return nil
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Data channel server stopped", "error", err)
		}
	}()

	s.logger.Info("Data channel listening", "addr", ln.Addr().String())
	return nil
}

// Endpoint reports where the server listens.
func (s *Server) Endpoint() (string, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return "", 0, errors.New("data channel not listening")
	}
	tcp, ok := s.listener.Addr().(*net.TCPAddr)
	if !ok {
		return "", 0, fmt.Errorf("unexpected listener address %s", s.listener.Addr())
	}
	return s.opts.Host, tcp.Port, nil
}

// Port returns the bound port, or zero before Start.
func (s *Server) Port() int {
	_, port, err := s.Endpoint()
	if err != nil {
		return 0
	}
	return port
}

// ServeHTTP upgrades the request and attaches the client.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(conn)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	count := len(s.clients)
	s.wg.Add(2)
	s.mu.Unlock()

	s.logger.Info("Client connected", "remote", r.RemoteAddr, "clients", count)

	go func() {
		defer s.wg.Done()
		if err := c.writeLoop(); err != nil {
			s.logger.Debug("Client write failed", "remote", r.RemoteAddr, "error", err)
		}
		c.close()
	}()
	go func() {
		defer s.wg.Done()
		c.readLoop()
		c.close()
		s.remove(c)
		s.logger.Info("Client disconnected", "remote", r.RemoteAddr)
	}()

	if s.opts.OnConnect != nil {
		s.opts.OnConnect()
	}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

// Broadcast queues frame for every connected client.
func (s *Server) Broadcast(frame []byte) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.send(frame)
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close stops listening, disconnects every client and waits for their goroutines.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.http
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = srv.Shutdown(ctx)
		cancel()
	}
	for _, c := range clients {
		c.close()
	}
	s.wg.Wait()

	s.logger.Info("Data channel closed")
	return err
}

// client is one websocket peer with an unbounded outbound queue.
type client struct {
	conn *websocket.Conn

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *client) send(frame []byte) {
	c.mu.Lock()
	if !c.closed {
		c.queue = append(c.queue, frame)
		c.cond.Signal()
	}
	c.mu.Unlock()
}

func (c *client) writeLoop() error {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return nil
		}
		batch := c.queue
		c.queue = nil
		c.mu.Unlock()

		for _, frame := range batch {
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				return err
			}
		}
	}
}

// readLoop drains control frames until the peer goes away.
func (c *client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.queue = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	c.conn.Close()
}
