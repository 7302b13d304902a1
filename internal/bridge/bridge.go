// Package bridge is the control plane between a client and the host process.
//
// The host pushes topic data over the data channel, but only for topics a client
// has registered interest in. Bridge calls resolve the data-channel endpoint,
// register and deregister interest, and fetch a topic's current value.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"
)

// Operation names used in HostCallError and metrics labels.
const (
	OpResolve    = "resolve"
	OpRegister   = "register"
	OpDeregister = "deregister"
	OpCurrent    = "current"
)

// ErrNoValue is returned by CurrentValue when the host holds nothing for a topic yet.
var ErrNoValue = errors.New("bridge: no current value")

// Bridge is the host's control-plane surface.
type Bridge interface {
	ResolveEndpoint(ctx context.Context) (Endpoint, error)
	RegisterInterest(ctx context.Context, topic string) error
	DeregisterInterest(ctx context.Context, topic string) error
	CurrentValue(ctx context.Context, topic string) (msgpack.RawMessage, error)
}

// Endpoint locates the host's data channel.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Validate reports whether the endpoint can be dialed.
func (e Endpoint) Validate() error {
	if e.Port < 1 || e.Port > 65535 {
		return fmt.Errorf("invalid port %d", e.Port)
	}
	return nil
}

// URL returns the websocket URL for the endpoint. An empty host means loopback.
func (e Endpoint) URL() string {
	host := e.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(e.Port)) + "/"
}

// HostCallError reports a failed control-plane call.
type HostCallError struct {
	Op    string
	Topic string
	Err   error
}

// Error implements the error interface.
func (e *HostCallError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("host %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("host %s %s: %v", e.Op, e.Topic, e.Err)
}

// Unwrap returns the underlying cause.
func (e *HostCallError) Unwrap() error {
	return e.Err
}

// Resolver adapts a Bridge to the resolve hook of a data-channel connection.
func Resolver(b Bridge) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		ep, err := b.ResolveEndpoint(ctx)
		if err != nil {
			return "", err
		}
		return ep.URL(), nil
	}
}

// Noop serves hosts that push every topic unconditionally. Interest calls succeed
// without doing anything and no snapshots exist.
type Noop struct {
	Endpoint Endpoint
}

// ResolveEndpoint returns the configured endpoint.
func (n Noop) ResolveEndpoint(context.Context) (Endpoint, error) {
	if err := n.Endpoint.Validate(); err != nil {
		return Endpoint{}, &HostCallError{Op: OpResolve, Err: err}
	}
	return n.Endpoint, nil
}

// RegisterInterest does nothing.
func (Noop) RegisterInterest(context.Context, string) error { return nil }

// DeregisterInterest does nothing.
func (Noop) DeregisterInterest(context.Context, string) error { return nil }

// CurrentValue always reports ErrNoValue.
func (Noop) CurrentValue(_ context.Context, topic string) (msgpack.RawMessage, error) {
	return nil, &HostCallError{Op: OpCurrent, Topic: topic, Err: ErrNoValue}
}
