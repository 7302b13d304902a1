// Package collectors feeds client metrics from the event bus and from
// components that keep their own counters.
package collectors

import (
	"log/slog"
	"sync"

	"github.com/smazurov/racewire/internal/channel"
	"github.com/smazurov/racewire/internal/dispatch"
	"github.com/smazurov/racewire/internal/events"
	"github.com/smazurov/racewire/internal/logging"
	"github.com/smazurov/racewire/internal/metrics"
)

var stateCodes = map[string]int{
	channel.Disconnected.String(): int(channel.Disconnected),
	channel.Connecting.String():   int(channel.Connecting),
	channel.Connected.String():    int(channel.Connected),
}

// BusCollector turns bus events into metric updates.
type BusCollector struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	bus     *events.Bus

	mu     sync.Mutex
	unsubs []func()
}

// NewBusCollector creates a collector for bus. Nothing is subscribed until Start.
func NewBusCollector(m *metrics.Metrics, bus *events.Bus) *BusCollector {
	return &BusCollector{
		logger:  logging.GetLogger("metrics").With("component", "bus_collector"),
		metrics: m,
		bus:     bus,
	}
}

// Start subscribes to the bus. Calling it twice has no effect.
func (c *BusCollector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.unsubs != nil {
		return
	}

	c.unsubs = []func(){
		c.bus.Subscribe(func(e events.ConnectionStateChangedEvent) {
			code, ok := stateCodes[e.State]
			if !ok {
				c.logger.Warn("Unknown connection state", "state", e.State)
				return
			}
			c.metrics.SetConnectionState(e.State, code)
		}),
		c.bus.Subscribe(func(events.FrameDroppedEvent) {
			c.metrics.FrameDropped()
		}),
		c.bus.Subscribe(func(e events.DispatchFailedEvent) {
			c.metrics.DispatchFailed(e.Topic)
		}),
		c.bus.Subscribe(func(e events.HostCallFailedEvent) {
			c.metrics.HostCallFailed(e.Op)
		}),
		c.bus.Subscribe(func(events.TopicAttachedEvent) {
			c.metrics.TopicAttached()
		}),
		c.bus.Subscribe(func(e events.TopicDetachedEvent) {
			c.metrics.TopicDetached(e.Topic)
		}),
		c.bus.Subscribe(func(e events.TopicUpdatedEvent) {
			c.metrics.TopicUpdated(e.Topic, e.Source)
		}),
	}
	c.logger.Debug("Bus collector started")
}

// Stop unsubscribes from the bus.
func (c *BusCollector) Stop() {
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// TrackDispatcher exposes the dispatcher's own counters.
func TrackDispatcher(m *metrics.Metrics, d *dispatch.Dispatcher) {
	m.TrackCounter("dispatch", "frames_received_total", "Inbound frames received",
		func() float64 { return float64(d.Stats().Received) })
	m.TrackCounter("dispatch", "frames_delivered_total", "Envelopes delivered to a listener",
		func() float64 { return float64(d.Stats().Delivered) })
	m.TrackCounter("dispatch", "frames_unrouted_total", "Envelopes with no listener",
		func() float64 { return float64(d.Stats().Unrouted) })
}

// TrackConnection exposes the data channel's attempt counter.
func TrackConnection(m *metrics.Metrics, c *channel.Connection) {
	m.TrackCounter("channel", "attempts_total", "Connection attempts started",
		func() float64 { return float64(c.Attempts()) })
}
