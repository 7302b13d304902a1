package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	natsgo "github.com/nats-io/nats.go"
	"github.com/smazurov/racewire/internal/config"
	"github.com/smazurov/racewire/internal/logging"
	racenats "github.com/smazurov/racewire/internal/nats"
	"golang.org/x/sync/errgroup"
)

// Options configures a Host.
type Options struct {
	// Host the data channel binds to. Defaults to 127.0.0.1.
	Host string
	// DataPort of the websocket data channel. Zero picks a free port.
	DataPort int
	// ControlAddr of the HTTP control API. Empty disables it.
	ControlAddr string
	// EmitInterval between emission passes. Defaults to 50ms.
	EmitInterval time.Duration

	// FixturePath is a TOML file of topic values, reloaded on change.
	FixturePath string

	// NATSURL of a server to answer control requests on. Ignored when EmbedNATS is set.
	NATSURL string
	// EmbedNATS starts an in-process NATS server on NATSPort.
	EmbedNATS bool
	NATSPort  int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Host runs the data channel, the control plane and the fixture source together.
type Host struct {
	opts    Options
	logger  *slog.Logger
	emitter *Emitter
	server  *Server

	mu          sync.Mutex
	controlAddr string
	natsURL     string
	ready       chan struct{}
}

// New creates a host. Nothing listens until Run.
func New(opts Options) *Host {
	if opts.EmitInterval <= 0 {
		opts.EmitInterval = 50 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("host")
	}

	h := &Host{
		opts:   opts,
		logger: logger,
		ready:  make(chan struct{}),
	}
	h.emitter = NewEmitter(nil, logger)
	h.server = NewServer(ServerOptions{
		Host:      opts.Host,
		Port:      opts.DataPort,
		OnConnect: h.emitter.Reset,
		Logger:    logger,
	})
	h.emitter.broadcast = h.server.Broadcast
	return h
}

// Emitter returns the host's emitter.
func (h *Host) Emitter() *Emitter { return h.emitter }

// Server returns the data-channel server.
func (h *Host) Server() *Server { return h.server }

// Ready is closed once every listener is bound.
func (h *Host) Ready() <-chan struct{} { return h.ready }

// ControlAddr returns the bound control API address, or "" before Ready.
func (h *Host) ControlAddr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controlAddr
}

// NATSURL returns the NATS server control requests are answered on, or "".
func (h *Host) NATSURL() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.natsURL
}

// Endpoint reports where the data channel listens.
func (h *Host) Endpoint() (string, int, error) { return h.server.Endpoint() }

// Register adds interest in topic.
func (h *Host) Register(topic string) error { return h.emitter.Register(topic) }

// Unregister drops interest in topic.
func (h *Host) Unregister(topic string) error { return h.emitter.Unregister(topic) }

// Current returns the payload held for topic.
func (h *Host) Current(topic string) ([]byte, bool, error) {
	raw, ok, err := h.emitter.Current(topic)
	return []byte(raw), ok, err
}

// Run serves until ctx is cancelled or a component fails.
func (h *Host) Run(ctx context.Context) error {
	if err := h.server.Start(); err != nil {
		return err
	}
	defer h.server.Close()

	g, gctx := errgroup.WithContext(ctx)

	if h.opts.FixturePath != "" {
		watcher := config.NewConfigWatcher(h.opts.FixturePath, config.LoadFixture, h.logger.With("component", "fixture"))
		watcher.OnReload(func(f config.Fixture) {
			h.emitter.Replace(f)
		})
		if err := watcher.Load(); err != nil {
			return fmt.Errorf("load fixture: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("watch fixture: %w", err)
		}
		defer watcher.Stop()
	}

	stopNATS, err := h.startNATS()
	if err != nil {
		return err
	}
	defer stopNATS()

	if h.opts.ControlAddr != "" {
		ln, err := net.Listen("tcp", h.opts.ControlAddr)
		if err != nil {
			return fmt.Errorf("listen control %s: %w", h.opts.ControlAddr, err)
		}
		handler, _ := NewControlHandler(h)
		srv := &http.Server{Handler: handler, ReadHeaderTimeout: 5 * time.Second}

		h.mu.Lock()
		h.controlAddr = ln.Addr().String()
		h.mu.Unlock()
		h.logger.Info("Control API listening", "addr", ln.Addr().String())

		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control API: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		return h.emitter.Run(gctx, h.opts.Clock, h.opts.EmitInterval)
	})

	close(h.ready)
	h.logger.Info("Host running", "data_port", h.server.Port(), "interval", h.opts.EmitInterval)

	return g.Wait()
}

// startNATS brings up the NATS side of the control plane, if configured.
func (h *Host) startNATS() (func(), error) {
	url := h.opts.NATSURL
	var embedded *racenats.Server

	if h.opts.EmbedNATS {
		opts := racenats.DefaultServerOptions()
		if h.opts.NATSPort != 0 {
			opts.Port = h.opts.NATSPort
		}
		opts.Logger = h.logger
		embedded = racenats.NewServer(opts)
		if err := embedded.Start(); err != nil {
			return nil, err
		}
		url = embedded.ClientURL()
	}

	if url == "" {
		return func() {}, nil
	}

	var conn *natsgo.Conn
	cleanup := func() {
		if conn != nil {
			conn.Close()
		}
		if embedded != nil {
			embedded.Stop()
		}
	}

	conn, err := racenats.Connect(url, "racewire-host", h.logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("connect NATS: %w", err)
	}

	responder := racenats.NewResponder(conn, h, h.logger)
	if err := responder.Start(); err != nil {
		cleanup()
		return nil, err
	}

	h.mu.Lock()
	h.natsURL = url
	h.mu.Unlock()

	return func() {
		responder.Stop()
		cleanup()
	}, nil
}
