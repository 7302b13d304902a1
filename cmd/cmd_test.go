package cmd

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/smazurov/racewire/internal/codec"
	"github.com/smazurov/racewire/internal/config"
	"github.com/smazurov/racewire/internal/subscription"
)

func TestLinePrinterDecodesKnownTopics(t *testing.T) {
	var buf bytes.Buffer
	p := newLinePrinter(&buf)

	raw, err := codec.EncodePayload(map[string]any{"is_left": true, "is_right": false})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.sink(subscription.Update{Topic: "proximity", Payload: raw, Source: subscription.SourceLive}); err != nil {
		t.Fatalf("sink failed: %v", err)
	}

	var line struct {
		Topic  string          `json:"topic"`
		Source string          `json:"source"`
		Value  map[string]bool `json:"value"`
	}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if line.Topic != "proximity" || line.Source != subscription.SourceLive.String() {
		t.Errorf("unexpected line %+v", line)
	}
	if !line.Value["is_left"] || line.Value["is_right"] {
		t.Errorf("value = %v", line.Value)
	}
}

func TestLinePrinterRejectsBadPayload(t *testing.T) {
	var buf bytes.Buffer
	p := newLinePrinter(&buf)

	raw, _ := codec.EncodePayload("not a number")
	if err := p.sink(subscription.Update{Topic: "speed", Payload: raw}); err == nil {
		t.Error("expected decode error for mistyped payload")
	}
	if buf.Len() != 0 {
		t.Errorf("nothing should be printed, got %q", buf.String())
	}
}

func TestNewClientRejectsUnknownTransport(t *testing.T) {
	if _, _, err := NewClient(ClientConfig{Transport: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown transport")
	}
	if _, _, err := NewClient(ClientConfig{Transport: TransportHTTP, HostURL: "ftp://host"}); err == nil {
		t.Fatal("expected error for non-http host URL")
	}
}

func TestNewClientHTTP(t *testing.T) {
	client, closeClient, err := NewClient(ClientConfig{
		HostURL:           "http://127.0.0.1:1",
		ReconnectInterval: time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	defer closeClient()

	if client.Arena() == nil {
		t.Error("client has no arena")
	}
}

func TestNewClientNATSStartsWithoutServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	url := "nats://" + ln.Addr().String()
	ln.Close()

	client, closeClient, err := NewClient(ClientConfig{
		Transport:         TransportNATS,
		NatsURL:           url,
		ReconnectInterval: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewClient should tolerate a NATS server that is not up yet: %v", err)
	}
	defer closeClient()

	if client.Arena() == nil {
		t.Error("client has no arena")
	}
}

func TestHostConfigPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := "[host]\nemit_interval = \"200ms\"\ndata_port = 9000\nfixture = \"from-file.toml\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(config.EnvPrefix+"HOST_FIXTURE", "from-env.toml")

	cmd := CreateHostCmd()
	if err := cmd.Flags().Set("config", path); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("data-port", "9100"); err != nil {
		t.Fatal(err)
	}

	cfg := &HostConfig{}
	cfg.Config, _ = cmd.Flags().GetString("config")
	cfg.DataPort, _ = cmd.Flags().GetInt("data-port")
	if err := config.LoadConfig(cfg, cmd); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.DataPort != 9100 {
		t.Errorf("DataPort = %d, CLI flag should win", cfg.DataPort)
	}
	if cfg.EmitInterval != 200*time.Millisecond {
		t.Errorf("EmitInterval = %v, want 200ms from file", cfg.EmitInterval)
	}
	if cfg.Fixture != "from-env.toml" {
		t.Errorf("Fixture = %q, env should override file", cfg.Fixture)
	}
}
