package cmd

import (
	"fmt"
	"time"

	"github.com/smazurov/racewire/internal/bridge"
	"github.com/smazurov/racewire/internal/events"
	"github.com/smazurov/racewire/internal/logging"
	racenats "github.com/smazurov/racewire/internal/nats"
	"github.com/smazurov/racewire/internal/telemetry"
)

// Control-plane transports.
const (
	TransportHTTP = "http"
	TransportNATS = "nats"
)

// ClientConfig selects how a telemetry client reaches the host.
type ClientConfig struct {
	// Transport is TransportHTTP or TransportNATS.
	Transport string
	// HostURL is the base URL of the host control API.
	HostURL string
	// NatsURL is the NATS server the host answers on.
	NatsURL string
	// DataURL pins the data channel instead of resolving it through the host.
	DataURL string

	ReconnectInterval time.Duration
	CallTimeout       time.Duration
	CallRetries       int

	Bus *events.Bus
}

// NewClient builds a telemetry client for cfg. The returned close function
// shuts the client down and releases the control-plane connection.
func NewClient(cfg ClientConfig) (*telemetry.Client, func(), error) {
	logger := logging.GetLogger("bridge")
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = cfg.ReconnectInterval
	}

	var (
		b       bridge.Bridge
		release = func() {}
	)

	switch cfg.Transport {
	case "", TransportHTTP:
		h, err := bridge.NewHTTP(bridge.HTTPOptions{
			BaseURL:  cfg.HostURL,
			Timeout:  cfg.CallTimeout,
			RetryMax: cfg.CallRetries,
			Logger:   logger,
		})
		if err != nil {
			return nil, nil, err
		}
		b = h
	case TransportNATS:
		conn, err := racenats.ConnectRetrying(cfg.NatsURL, "racewire-client", logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connect NATS: %w", err)
		}
		b = bridge.NewNATS(conn, bridge.NATSOptions{Timeout: cfg.CallTimeout, Logger: logger})
		release = conn.Close
	default:
		return nil, nil, fmt.Errorf("unknown transport %q (want %s or %s)", cfg.Transport, TransportHTTP, TransportNATS)
	}

	client := telemetry.NewClient(telemetry.Options{
		Bridge:            b,
		URL:               cfg.DataURL,
		ReconnectInterval: cfg.ReconnectInterval,
		CallTimeout:       cfg.CallTimeout,
		Bus:               cfg.Bus,
	})

	return client, func() {
		if err := client.Shutdown(); err != nil {
			logger.Debug("Client shutdown", "error", err)
		}
		release()
	}, nil
}
