// Package metrics exposes client telemetry counters to Prometheus and keeps a
// local copy for the monitor event stream.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "racewire"

// Metrics holds the client collectors registered on one registry.
type Metrics struct {
	registry prometheus.Registerer

	connectionState   prometheus.Gauge
	transitions       *prometheus.CounterVec
	framesDropped     prometheus.Counter
	dispatchFailures  *prometheus.CounterVec
	hostCallFailures  *prometheus.CounterVec
	topicsAttached    prometheus.Gauge
	topicUpdates      *prometheus.CounterVec

	// Local cache for the SSE exporter
	state        atomic.Value
	attached     atomic.Int64
	updates      atomic.Uint64
	dropped      atomic.Uint64
	failures     atomic.Uint64
	hostFailures atomic.Uint64
}

// Snapshot is a point-in-time copy of the cached counters.
type Snapshot struct {
	State            string
	AttachedTopics   int
	Updates          uint64
	FramesDropped    uint64
	DispatchFailures uint64
	HostCallFailures uint64
}

// NewWithRegistry creates the collectors and registers them on registry.
func NewWithRegistry(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		registry: registry,
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "state",
			Help:      "Data channel state (0 disconnected, 1 connecting, 2 connected)",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "transitions_total",
			Help:      "Data channel state transitions by new state",
		}, []string{"state"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames that failed to decode",
		}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "failures_total",
			Help:      "Listener and sink failures by topic",
		}, []string{"topic"}),
		hostCallFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "call_failures_total",
			Help:      "Failed host control-plane calls by operation",
		}, []string{"op"}),
		topicsAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "topics_attached",
			Help:      "Topics with at least one observer",
		}),
		topicUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "subscription",
			Name:      "updates_total",
			Help:      "Topic updates delivered by topic and source",
		}, []string{"topic", "source"}),
	}
	m.state.Store("disconnected")

	registry.MustRegister(
		m.connectionState,
		m.transitions,
		m.framesDropped,
		m.dispatchFailures,
		m.hostCallFailures,
		m.topicsAttached,
		m.topicUpdates,
	)
	return m
}

// SetConnectionState records a state transition. code follows channel.State.
func (m *Metrics) SetConnectionState(state string, code int) {
	m.connectionState.Set(float64(code))
	m.transitions.WithLabelValues(state).Inc()
	m.state.Store(state)
}

// FrameDropped counts one undecodable frame.
func (m *Metrics) FrameDropped() {
	m.framesDropped.Inc()
	m.dropped.Add(1)
}

// DispatchFailed counts one failed delivery on topic.
func (m *Metrics) DispatchFailed(topic string) {
	m.dispatchFailures.WithLabelValues(topic).Inc()
	m.failures.Add(1)
}

// HostCallFailed counts one failed control-plane call.
func (m *Metrics) HostCallFailed(op string) {
	m.hostCallFailures.WithLabelValues(op).Inc()
	m.hostFailures.Add(1)
}

// TopicAttached increments the attached topic gauge.
func (m *Metrics) TopicAttached() {
	m.topicsAttached.Inc()
	m.attached.Add(1)
}

// TopicDetached decrements the attached topic gauge and drops its update series.
func (m *Metrics) TopicDetached(topic string) {
	m.topicsAttached.Dec()
	m.attached.Add(-1)
	m.topicUpdates.DeletePartialMatch(prometheus.Labels{"topic": topic})
}

// TopicUpdated counts one delivered update.
func (m *Metrics) TopicUpdated(topic, source string) {
	m.topicUpdates.WithLabelValues(topic, source).Inc()
	m.updates.Add(1)
}

// TrackCounter registers a counter whose value is read from fn at scrape time.
func (m *Metrics) TrackCounter(subsystem, name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn))
}

// Snapshot returns the cached counters.
func (m *Metrics) Snapshot() Snapshot {
	state, _ := m.state.Load().(string)
	return Snapshot{
		State:            state,
		AttachedTopics:   int(m.attached.Load()),
		Updates:          m.updates.Load(),
		FramesDropped:    m.dropped.Load(),
		DispatchFailures: m.failures.Load(),
		HostCallFailures: m.hostFailures.Load(),
	}
}
