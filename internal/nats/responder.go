package nats

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/racewire/internal/logging"
)

// Handler serves control-plane requests on the host side.
type Handler interface {
	Endpoint() (host string, port int, err error)
	Register(topic string) error
	Unregister(topic string) error
	// Current returns the msgpack payload for topic, or ok=false if none is held yet.
	Current(topic string) (payload []byte, ok bool, err error)
}

// Responder answers control-plane requests from clients over NATS.
type Responder struct {
	conn    *nats.Conn
	handler Handler
	subs    []*nats.Subscription
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewResponder creates a responder on an existing connection.
func NewResponder(conn *nats.Conn, handler Handler, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = logging.GetLogger("host")
	}

	return &Responder{
		conn:    conn,
		handler: handler,
		logger:  logger.With("component", "nats-responder"),
	}
}

// Start subscribes to the control subjects.
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	handlers := map[string]nats.MsgHandler{
		SubjectEndpoint:   r.handleEndpoint,
		SubjectRegister:   r.handleRegister,
		SubjectUnregister: r.handleUnregister,
		SubjectCurrent:    r.handleCurrent,
	}

	for subject, h := range handlers {
		sub, err := r.conn.Subscribe(subject, h)
		if err != nil {
			r.cleanup()
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}

	// Make sure the server has the interest before callers send requests
	if err := r.conn.Flush(); err != nil {
		r.cleanup()
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	r.logger.Info("NATS responder subscribed", "prefix", SubjectPrefix)
	return nil
}

func (r *Responder) handleEndpoint(msg *nats.Msg) {
	host, port, err := r.handler.Endpoint()
	if err != nil {
		r.respondError(msg, err)
		return
	}

	data, err := EndpointMessage{Host: host, Port: port}.Marshal()
	if err != nil {
		r.respondError(msg, err)
		return
	}
	r.respond(msg, nats.NewMsg(msg.Reply), data)
}

func (r *Responder) handleRegister(msg *nats.Msg) {
	if err := r.handler.Register(string(msg.Data)); err != nil {
		r.respondError(msg, err)
		return
	}
	r.respond(msg, nats.NewMsg(msg.Reply), nil)
}

func (r *Responder) handleUnregister(msg *nats.Msg) {
	if err := r.handler.Unregister(string(msg.Data)); err != nil {
		r.respondError(msg, err)
		return
	}
	r.respond(msg, nats.NewMsg(msg.Reply), nil)
}

func (r *Responder) handleCurrent(msg *nats.Msg) {
	payload, ok, err := r.handler.Current(string(msg.Data))
	if err != nil {
		r.respondError(msg, err)
		return
	}

	reply := nats.NewMsg(msg.Reply)
	if !ok {
		reply.Header.Set(HeaderStatus, StatusNoValue)
	}
	r.respond(msg, reply, payload)
}

func (r *Responder) respondError(msg *nats.Msg, err error) {
	r.logger.Warn("Control request failed", "subject", msg.Subject, "topic", string(msg.Data), "error", err)

	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderError, err.Error())
	r.respond(msg, reply, nil)
}

func (r *Responder) respond(msg *nats.Msg, reply *nats.Msg, data []byte) {
	if msg.Reply == "" {
		return
	}
	reply.Data = data
	if err := r.conn.PublishMsg(reply); err != nil {
		r.logger.Warn("Failed to send reply", "subject", msg.Subject, "error", err)
	}
}

// cleanup unsubscribes everything. Caller holds mu.
func (r *Responder) cleanup() {
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
}

// Stop unsubscribes from the control subjects. The connection stays open.
func (r *Responder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cleanup()
	r.logger.Info("NATS responder stopped")
}
