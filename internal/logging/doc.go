// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stdout when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//   - Keeps the most recent records in memory (see Recent) for the monitor API
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"channel":  "debug",
//			"dispatch": "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("channel")
//	logger.Info("Connected", "url", url)
//
// Components add their own attributes:
//
//	logger := logging.GetLogger("subscription").With("component", "arena")
//
// Modules in use: main, channel, dispatch, bridge, subscription, telemetry,
// host, api.
//
// # Viewing Logs
//
//	journalctl -t racewire -f
//	journalctl -t racewire MODULE=channel
//	journalctl -t racewire TOPIC=standings
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//	channel = "debug"
package logging
