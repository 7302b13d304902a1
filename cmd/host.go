package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smazurov/racewire/internal/config"
	"github.com/smazurov/racewire/internal/host"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/smazurov/racewire/internal/systemd"
	"github.com/spf13/cobra"
)

// HostConfig configures the host command. Flag names follow the field names so
// config.LoadConfig can tell which values were set on the command line.
type HostConfig struct {
	Config       string
	Bind         string        `toml:"host.bind" env:"HOST_BIND"`
	DataPort     int           `toml:"host.data_port" env:"HOST_DATA_PORT"`
	ControlAddr  string        `toml:"host.control_addr" env:"HOST_CONTROL_ADDR"`
	EmitInterval time.Duration `toml:"host.emit_interval" env:"HOST_EMIT_INTERVAL"`
	Fixture      string        `toml:"host.fixture" env:"HOST_FIXTURE"`
	NatsServer   string        `toml:"host.nats_url" env:"HOST_NATS_URL"`
	EmbedNats    bool          `toml:"host.embed_nats" env:"HOST_EMBED_NATS"`
	NatsPort     int           `toml:"host.nats_port" env:"HOST_NATS_PORT"`
	LogJSON      bool
}

// CreateHostCmd creates the host command.
func CreateHostCmd() *cobra.Command {
	cfg := &HostConfig{}

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Run a telemetry host",
		Long: `Serves telemetry frames over a websocket data channel and answers control ` +
			`requests over HTTP and, optionally, NATS. Topic values come from a TOML fixture ` +
			`that is reloaded whenever it changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadConfig(cfg, cmd); err != nil {
				return err
			}

			loggingConfig := config.LoadLoggingConfig(cfg.Config)
			if cfg.LogJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("host")

			h := host.New(host.Options{
				Host:         cfg.Bind,
				DataPort:     cfg.DataPort,
				ControlAddr:  cfg.ControlAddr,
				EmitInterval: cfg.EmitInterval,
				FixturePath:  cfg.Fixture,
				NATSURL:      cfg.NatsServer,
				EmbedNATS:    cfg.EmbedNats,
				NATSPort:     cfg.NatsPort,
				Logger:       logger,
			})

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			notifier := systemd.NewNotifier(logger)
			go notifier.RunWatchdog(ctx)

			logger.Info("Starting host", "control", cfg.ControlAddr, "fixture", cfg.Fixture)
			done := make(chan error, 1)
			go func() { done <- h.Run(ctx) }()

			var err error
			select {
			case <-h.Ready():
				notifier.Ready()
				notifier.Status(fmt.Sprintf("data channel on port %d", h.Server().Port()))
				err = <-done
			case err = <-done:
			}
			notifier.Stopping()

			if err != nil {
				logger.Error("Host stopped", "error", err)
				return err
			}
			logger.Info("Host stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.Config, "config", "c", "config.toml", "Path to configuration file")
	flags.StringVar(&cfg.Bind, "bind", "127.0.0.1", "Address the data channel binds to")
	flags.IntVar(&cfg.DataPort, "data-port", host.DefaultPort, "Data channel port (0 picks a free port)")
	flags.StringVar(&cfg.ControlAddr, "control-addr", "127.0.0.1:8385", "Control API address (empty disables it)")
	flags.DurationVar(&cfg.EmitInterval, "emit-interval", 50*time.Millisecond, "Interval between emission passes")
	flags.StringVar(&cfg.Fixture, "fixture", "fixture.toml", "TOML file of topic values")
	flags.StringVar(&cfg.NatsServer, "nats-server", "", "NATS server to answer control requests on")
	flags.BoolVar(&cfg.EmbedNats, "embed-nats", false, "Run an embedded NATS server")
	flags.IntVar(&cfg.NatsPort, "nats-port", 4222, "Embedded NATS server port")
	flags.BoolVar(&cfg.LogJSON, "log-json", false, "Log as JSON")

	return cmd
}
