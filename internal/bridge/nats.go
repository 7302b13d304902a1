package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/racewire/internal/logging"
	racenats "github.com/smazurov/racewire/internal/nats"
	"github.com/vmihailenco/msgpack/v5"
)

// NATSOptions configures the NATS control-plane client.
type NATSOptions struct {
	// Timeout bounds each request. Defaults to 5s.
	Timeout time.Duration
	Logger  *slog.Logger
}

// NATS sends control-plane requests to the host's responder.
type NATS struct {
	conn    *nats.Conn
	timeout time.Duration
	logger  *slog.Logger
}

// NewNATS creates a NATS bridge on an open connection. The caller owns conn.
func NewNATS(conn *nats.Conn, opts NATSOptions) *NATS {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.GetLogger("bridge")
	}

	return &NATS{
		conn:    conn,
		timeout: opts.Timeout,
		logger:  logger.With("component", "nats-bridge"),
	}
}

// ResolveEndpoint asks the host where its data channel listens.
func (n *NATS) ResolveEndpoint(ctx context.Context) (Endpoint, error) {
	reply, err := n.request(ctx, racenats.SubjectEndpoint, "")
	if err != nil {
		return Endpoint{}, &HostCallError{Op: OpResolve, Err: err}
	}

	msg, err := racenats.UnmarshalEndpoint(reply.Data)
	if err != nil {
		return Endpoint{}, &HostCallError{Op: OpResolve, Err: fmt.Errorf("decode endpoint: %w", err)}
	}

	ep := Endpoint{Host: msg.Host, Port: msg.Port}
	if err := ep.Validate(); err != nil {
		return Endpoint{}, &HostCallError{Op: OpResolve, Err: err}
	}
	return ep, nil
}

// RegisterInterest asks the host to start emitting topic.
func (n *NATS) RegisterInterest(ctx context.Context, topic string) error {
	if _, err := n.request(ctx, racenats.SubjectRegister, topic); err != nil {
		return &HostCallError{Op: OpRegister, Topic: topic, Err: err}
	}
	return nil
}

// DeregisterInterest asks the host to stop emitting topic.
func (n *NATS) DeregisterInterest(ctx context.Context, topic string) error {
	if _, err := n.request(ctx, racenats.SubjectUnregister, topic); err != nil {
		return &HostCallError{Op: OpDeregister, Topic: topic, Err: err}
	}
	return nil
}

// CurrentValue fetches the host's latest payload for topic.
func (n *NATS) CurrentValue(ctx context.Context, topic string) (msgpack.RawMessage, error) {
	reply, err := n.request(ctx, racenats.SubjectCurrent, topic)
	if err != nil {
		return nil, &HostCallError{Op: OpCurrent, Topic: topic, Err: err}
	}
	if reply.Header.Get(racenats.HeaderStatus) == racenats.StatusNoValue || len(reply.Data) == 0 {
		return nil, &HostCallError{Op: OpCurrent, Topic: topic, Err: ErrNoValue}
	}
	return msgpack.RawMessage(reply.Data), nil
}

func (n *NATS) request(ctx context.Context, subject, topic string) (*nats.Msg, error) {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	reply, err := n.conn.RequestWithContext(ctx, subject, []byte(topic))
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return nil, fmt.Errorf("host not listening on %s: %w", subject, err)
		}
		return nil, err
	}

	if msg := reply.Header.Get(racenats.HeaderError); msg != "" {
		return nil, errors.New(msg)
	}
	return reply, nil
}
