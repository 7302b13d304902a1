package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smazurov/racewire/cmd"
	"github.com/smazurov/racewire/internal/api"
	"github.com/smazurov/racewire/internal/config"
	"github.com/smazurov/racewire/internal/dispatch"
	"github.com/smazurov/racewire/internal/events"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/smazurov/racewire/internal/metrics"
	"github.com/smazurov/racewire/internal/metrics/collectors"
	"github.com/smazurov/racewire/internal/metrics/exporters"
	"github.com/smazurov/racewire/internal/subscription"
	"github.com/smazurov/racewire/internal/systemd"
	"github.com/smazurov/racewire/internal/topics"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Monitor API settings
	Port        string `help:"Monitor API listen address" short:"p" default:":8390" toml:"server.port" env:"SERVER_PORT"`
	CORSOrigins string `help:"Allowed browser origins (comma-separated, empty for the overlay defaults)" default:"" toml:"server.cors_origins" env:"SERVER_CORS_ORIGINS"`

	// Client settings
	ClientTransport         string `help:"Control plane transport (http, nats)" default:"http" toml:"client.transport" env:"CLIENT_TRANSPORT"`
	ClientHostURL           string `help:"Host control API URL" default:"http://127.0.0.1:8385" toml:"client.host_url" env:"CLIENT_HOST_URL"`
	ClientNatsURL           string `help:"NATS server URL" default:"nats://127.0.0.1:4222" toml:"client.nats_url" env:"CLIENT_NATS_URL"`
	ClientDataURL           string `help:"Pin the data channel URL instead of resolving it" default:"" toml:"client.data_url" env:"CLIENT_DATA_URL"`
	ClientReconnectInterval string `help:"Reconnect interval" default:"5s" toml:"client.reconnect_interval" env:"CLIENT_RECONNECT_INTERVAL"`
	ClientCallTimeout       string `help:"Host call timeout (defaults to the reconnect interval)" default:"" toml:"client.call_timeout" env:"CLIENT_CALL_TIMEOUT"`
	ClientCallRetries       int    `help:"Host call retries" default:"0" toml:"client.call_retries" env:"CLIENT_CALL_RETRIES"`

	// Comma-separated topics to attach at startup; every update is logged
	Topics string `help:"Topics to attach (comma-separated)" default:"" toml:"client.topics" env:"CLIENT_TOPICS"`

	// Observability settings
	MetricsPrometheusEnabled bool `help:"Enable Prometheus" default:"true" toml:"metrics.prometheus_enabled" env:"METRICS_PROMETHEUS_ENABLED"`
	MetricsSSEEnabled        bool `help:"Enable metrics snapshots on the event stream" default:"true" toml:"metrics.sse_enabled" env:"METRICS_SSE_ENABLED"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Logging settings
	LoggingLevel        string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat       string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingChannel      string `help:"Data channel logging level" default:"info" toml:"logging.channel" env:"LOGGING_CHANNEL"`
	LoggingDispatch     string `help:"Dispatcher logging level" default:"info" toml:"logging.dispatch" env:"LOGGING_DISPATCH"`
	LoggingBridge       string `help:"Host bridge logging level" default:"info" toml:"logging.bridge" env:"LOGGING_BRIDGE"`
	LoggingSubscription string `help:"Subscription logging level" default:"info" toml:"logging.subscription" env:"LOGGING_SUBSCRIPTION"`
	LoggingTelemetry    string `help:"Telemetry client logging level" default:"info" toml:"logging.telemetry" env:"LOGGING_TELEMETRY"`
	LoggingAPI          string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' '
	})
}

func main() {
	// Create Huma CLI
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, nil); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		logging.Initialize(logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"channel":      opts.LoggingChannel,
				"dispatch":     opts.LoggingDispatch,
				"bridge":       opts.LoggingBridge,
				"subscription": opts.LoggingSubscription,
				"telemetry":    opts.LoggingTelemetry,
				"api":          opts.LoggingAPI,
			},
		})

		logger := logging.GetLogger("main")

		// Create event bus for in-process event handling
		eventBus := events.New()

		reconnect := parseDuration(opts.ClientReconnectInterval, 5*time.Second)
		client, closeClient, err := cmd.NewClient(cmd.ClientConfig{
			Transport:         opts.ClientTransport,
			HostURL:           opts.ClientHostURL,
			NatsURL:           opts.ClientNatsURL,
			DataURL:           opts.ClientDataURL,
			ReconnectInterval: reconnect,
			CallTimeout:       parseDuration(opts.ClientCallTimeout, reconnect),
			CallRetries:       opts.ClientCallRetries,
			Bus:               eventBus,
		})
		if err != nil {
			logger.Error("Failed to create telemetry client", "error", err)
			os.Exit(1)
		}

		// Metrics are fed from the bus and from counters the client already keeps
		registry := prometheus.NewRegistry()
		m := metrics.NewWithRegistry(registry)
		busCollector := collectors.NewBusCollector(m, eventBus)
		collectors.TrackDispatcher(m, client.Dispatcher())
		collectors.TrackConnection(m, client.Connection())

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Telemetry:    client,
			EventBus:     eventBus,
			CORSOrigins:  splitList(opts.CORSOrigins),
		}
		if opts.MetricsPrometheusEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler(registry)
		}
		server := api.NewServer(apiOpts)

		var sseExporter *exporters.SSEExporter
		if opts.MetricsSSEEnabled {
			sseExporter = exporters.NewSSEExporter(eventBus, m)
		}

		var releases []func()
		notifier := systemd.NewNotifier(logger)

		hooks.OnStart(func() {
			busCollector.Start()
			if sseExporter != nil {
				sseExporter.Start(context.Background())
			}

			updateLogger := logging.GetLogger("telemetry").With("component", "watch")
			for _, name := range splitList(opts.Topics) {
				if !topics.Known(name) {
					logger.Warn("Skipping unknown topic", "topic", name)
					continue
				}
				releases = append(releases, client.Arena().Acquire(name, func(u subscription.Update) error {
					updateLogger.Info("Topic update", "topic", u.Topic, "source", u.Source.String(), "value", dispatch.FormatPayload(u.Payload))
					return nil
				}))
			}

			if initErr := client.Init(); initErr != nil {
				logger.Error("Failed to start telemetry client", "error", initErr)
				os.Exit(1)
			}

			notifier.Ready()

			logger.Info("Starting monitor API", "addr", opts.Port, "topics", len(releases))
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start monitor API", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			notifier.Stopping()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if stopErr := server.Stop(ctx); stopErr != nil {
				logger.Error("Error stopping monitor API", "error", stopErr)
			}

			for _, release := range releases {
				release()
			}
			closeClient()

			if sseExporter != nil {
				sseExporter.Stop()
			}
			busCollector.Stop()
		})
	})

	cli.Root().Use = "racewire"
	cli.Root().Short = "Real-time telemetry distribution"

	cli.Root().AddCommand(cmd.CreateHostCmd())
	cli.Root().AddCommand(cmd.CreateWatchCmd())

	// Run the CLI
	cli.Run()
}
