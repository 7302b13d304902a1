package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smazurov/racewire/internal/events"
	"github.com/smazurov/racewire/internal/metrics"
)

type mockEventBus struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{
		events:    make([]events.Event, 0),
		published: make(chan struct{}, 100),
	}
}

func (m *mockEventBus) Publish(ev events.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *mockEventBus) getEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]events.Event, len(m.events))
	copy(result, m.events)
	return result
}

func TestSSEExporterPublishesSnapshot(t *testing.T) {
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	m.SetConnectionState("connected", 2)
	m.TopicAttached()
	m.TopicUpdated("gear", "live")
	m.HostCallFailed("register")

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock, m)
	exporter.interval = 20 * time.Millisecond

	exporter.Start(context.Background())

	select {
	case <-mock.published:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for snapshot publish")
	}
	exporter.Stop()

	evts := mock.getEvents()
	snap, ok := evts[0].(events.MetricsSnapshotEvent)
	if !ok {
		t.Fatalf("expected MetricsSnapshotEvent, got %T", evts[0])
	}
	if snap.State != "connected" {
		t.Errorf("State = %q, want connected", snap.State)
	}
	if snap.AttachedTopics != 1 || snap.Updates != 1 || snap.HostCallFailures != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestSSEExporterStopIdempotent(t *testing.T) {
	mock := newMockEventBus()
	exporter := NewSSEExporter(mock, metrics.NewWithRegistry(prometheus.NewRegistry()))
	exporter.interval = 10 * time.Millisecond

	// Stop before start should not panic
	exporter.Stop()

	exporter.Start(t.Context())
	time.Sleep(30 * time.Millisecond)

	exporter.Stop()
	exporter.Stop()

	countAfterStop := len(mock.getEvents())
	time.Sleep(30 * time.Millisecond)
	if got := len(mock.getEvents()); got != countAfterStop {
		t.Errorf("events published after stop: got %d, want %d", got, countAfterStop)
	}
}

func TestGetEventTypes(t *testing.T) {
	if _, ok := GetEventTypes()["metrics-snapshot"]; !ok {
		t.Error("expected metrics-snapshot event type")
	}
}
