package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/smazurov/racewire/internal/config"
	"github.com/smazurov/racewire/internal/dispatch"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/smazurov/racewire/internal/subscription"
	"github.com/smazurov/racewire/internal/topics"
	"github.com/spf13/cobra"
)

// WatchConfig configures the watch command. Flag names follow the field names.
type WatchConfig struct {
	Config    string
	Transport string        `toml:"client.transport" env:"CLIENT_TRANSPORT"`
	Host      string        `toml:"client.host_url" env:"CLIENT_HOST_URL"`
	Nats      string        `toml:"client.nats_url" env:"CLIENT_NATS_URL"`
	Data      string        `toml:"client.data_url" env:"CLIENT_DATA_URL"`
	Reconnect time.Duration `toml:"client.reconnect_interval" env:"CLIENT_RECONNECT_INTERVAL"`
	Timeout   time.Duration `toml:"client.call_timeout" env:"CLIENT_CALL_TIMEOUT"`
	Retries   int           `toml:"client.call_retries" env:"CLIENT_CALL_RETRIES"`
}

// UpdateLine is one line of watch output.
type UpdateLine struct {
	Time   string `json:"time"`
	Topic  string `json:"topic"`
	Source string `json:"source"`
	Value  any    `json:"value"`
}

// CreateWatchCmd creates the watch command.
func CreateWatchCmd() *cobra.Command {
	cfg := &WatchConfig{}

	cmd := &cobra.Command{
		Use:   "watch topic [topic...]",
		Short: "Print topic updates as JSON lines",
		Long:  `Attaches to the given topics and prints every update as a JSON line until interrupted.`,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadConfig(cfg, cmd); err != nil {
				return err
			}
			for _, name := range args {
				if !topics.Known(name) {
					return fmt.Errorf("unknown topic %q", name)
				}
			}

			logging.Initialize(config.LoadLoggingConfig(cfg.Config))
			logger := logging.GetLogger("main")

			client, closeClient, err := NewClient(ClientConfig{
				Transport:         cfg.Transport,
				HostURL:           cfg.Host,
				NatsURL:           cfg.Nats,
				DataURL:           cfg.Data,
				ReconnectInterval: cfg.Reconnect,
				CallTimeout:       cfg.Timeout,
				CallRetries:       cfg.Retries,
			})
			if err != nil {
				return err
			}
			defer closeClient()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			printer := newLinePrinter(cmd.OutOrStdout())
			for _, name := range args {
				release := client.Arena().Acquire(name, printer.sink)
				defer release()
			}

			if err := client.Init(); err != nil {
				return err
			}
			logger.Info("Watching topics", "topics", args)

			<-ctx.Done()
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfg.Config, "config", "c", "config.toml", "Path to configuration file")
	flags.StringVar(&cfg.Transport, "transport", TransportHTTP, "Control plane transport (http, nats)")
	flags.StringVar(&cfg.Host, "host", "http://127.0.0.1:8385", "Host control API URL")
	flags.StringVar(&cfg.Nats, "nats", "nats://127.0.0.1:4222", "NATS server URL")
	flags.StringVar(&cfg.Data, "data", "", "Pin the data channel URL instead of resolving it")
	flags.DurationVar(&cfg.Reconnect, "reconnect", 5*time.Second, "Reconnect interval")
	flags.DurationVar(&cfg.Timeout, "timeout", 0, "Host call timeout (defaults to the reconnect interval)")
	flags.IntVar(&cfg.Retries, "retries", 0, "Host call retries")

	return cmd
}

// linePrinter writes updates as JSON lines, one writer at a time.
type linePrinter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func newLinePrinter(w io.Writer) *linePrinter {
	return &linePrinter{enc: json.NewEncoder(w)}
}

func (p *linePrinter) sink(u subscription.Update) error {
	line := UpdateLine{
		Time:   time.Now().Format(time.RFC3339Nano),
		Topic:  u.Topic,
		Source: u.Source.String(),
	}
	if desc, ok := topics.Lookup(u.Topic); ok {
		value, err := desc.Decode(u.Payload)
		if err != nil {
			return err
		}
		line.Value = value
	} else {
		line.Value = dispatch.FormatPayload(u.Payload)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(line)
}
