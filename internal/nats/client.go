package nats

import (
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/smazurov/racewire/internal/logging"
)

// Connect opens a NATS connection that reconnects forever and logs its lifecycle.
// Extra options are applied after the defaults.
func Connect(url, name string, logger *slog.Logger, extra ...nats.Option) (*nats.Conn, error) {
	if logger == nil {
		logger = logging.GetLogger("bridge")
	}
	logger = logger.With("component", "nats-client", "name", name)

	opts := []nats.Option{
		nats.Name(name),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			} else {
				logger.Debug("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(url, append(opts, extra...)...)
	if err != nil {
		logger.Warn("Failed to connect to NATS", "url", url, "error", err)
		return nil, err
	}

	if !conn.IsConnected() {
		logger.Warn("NATS not reachable yet, retrying in the background", "url", url)
		return conn, nil
	}
	logger.Info("Connected to NATS", "url", url)
	return conn, nil
}

// ConnectRetrying is Connect for clients that must start before the server.
// The first connect is retried in the background like any later reconnect, and
// requests made meanwhile fail with their own timeout.
func ConnectRetrying(url, name string, logger *slog.Logger) (*nats.Conn, error) {
	return Connect(url, name, logger, nats.RetryOnFailedConnect(true))
}
