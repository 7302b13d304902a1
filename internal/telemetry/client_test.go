package telemetry

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/smazurov/racewire/internal/bridge"
	"github.com/smazurov/racewire/internal/channel"
	"github.com/smazurov/racewire/internal/codec"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/smazurov/racewire/internal/topics"
	"github.com/vmihailenco/msgpack/v5"
)

func init() {
	logging.Initialize(logging.Config{Level: "error"})
}

// countingBridge serves a fixed endpoint and counts snapshot requests.
type countingBridge struct {
	bridge.Noop

	mu       sync.Mutex
	current  map[string]int
	register map[string]int
}

func newCountingBridge(t *testing.T, srv *httptest.Server) *countingBridge {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort failed: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return &countingBridge{
		Noop:     bridge.Noop{Endpoint: bridge.Endpoint{Host: host, Port: port}},
		current:  make(map[string]int),
		register: make(map[string]int),
	}
}

func (b *countingBridge) RegisterInterest(_ context.Context, topic string) error {
	b.mu.Lock()
	b.register[topic]++
	b.mu.Unlock()
	return nil
}

func (b *countingBridge) CurrentValue(_ context.Context, topic string) (msgpack.RawMessage, error) {
	b.mu.Lock()
	b.current[topic]++
	b.mu.Unlock()
	return nil, bridge.ErrNoValue
}

func (b *countingBridge) counts(topic string) (current, register int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current[topic], b.register[topic]
}

// gearHost sends one gear frame per connection. When dropFirst is set the first
// connection is closed right after.
func gearHost(t *testing.T, gear string, dropFirst bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	frame, err := codec.Encode("gear", gear)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		n := connections.Add(1)
		_ = conn.WriteMessage(websocket.BinaryMessage, frame)
		if dropFirst && n == 1 {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &connections
}

func TestClientDeliversTopicValues(t *testing.T) {
	srv, _ := gearHost(t, "3", false)
	b := newCountingBridge(t, srv)

	client := NewClient(Options{Bridge: b, ReconnectInterval: 50 * time.Millisecond})
	defer client.Shutdown()

	gears := make(chan string, 4)
	gear := Watch(client, topics.Gear)
	defer gear.Subscribe(func(g string) { gears <- g })()

	if g := <-gears; g != "N" {
		t.Fatalf("Expected default N, got %q", g)
	}

	if err := client.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if err := client.Init(); err != nil {
		t.Fatalf("Second Init failed: %v", err)
	}

	select {
	case g := <-gears:
		if g != "3" {
			t.Errorf("Expected 3, got %q", g)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timeout waiting for gear")
	}

	if client.State() != channel.Connected {
		t.Errorf("Expected connected, got %s", client.State())
	}
	if _, register := b.counts("gear"); register != 1 {
		t.Errorf("Expected one register, got %d", register)
	}
}

func TestClientResyncsAfterReconnect(t *testing.T) {
	srv, connections := gearHost(t, "5", true)
	b := newCountingBridge(t, srv)

	client := NewClient(Options{Bridge: b, ReconnectInterval: 20 * time.Millisecond})
	defer client.Shutdown()

	defer Watch(client, topics.Gear).Subscribe(func(string) {})()

	if err := client.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		current, register := b.counts("gear")
		if connections.Load() >= 2 && current >= 2 && register >= 2 && client.State() == channel.Connected {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("No resync: connections=%d current=%d register=%d", connections.Load(), current, register)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestClientLivenessAndShutdown(t *testing.T) {
	srv, _ := gearHost(t, "1", false)
	b := newCountingBridge(t, srv)

	client := NewClient(Options{Bridge: b})

	states := make(chan channel.State, 8)
	defer client.Liveness().Subscribe(func(s channel.State) { states <- s })()

	if s := <-states; s != channel.Disconnected {
		t.Fatalf("Expected initial disconnected, got %s", s)
	}

	if err := client.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	waitFor := func(want channel.State) {
		t.Helper()
		for {
			select {
			case s := <-states:
				if s == want {
					return
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("Timeout waiting for %s", want)
			}
		}
	}
	waitFor(channel.Connected)

	if err := client.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := client.Shutdown(); err != nil {
		t.Fatalf("Second Shutdown failed: %v", err)
	}
	waitFor(channel.Disconnected)

	if err := client.Init(); !errors.Is(err, channel.ErrClosed) {
		t.Errorf("Expected ErrClosed after Shutdown, got %v", err)
	}
}

func TestClientPinnedURLSkipsResolve(t *testing.T) {
	srv, connections := gearHost(t, "2", false)

	client := NewClient(Options{URL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/"})
	defer client.Shutdown()

	if err := client.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for connections.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("Client never connected")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
