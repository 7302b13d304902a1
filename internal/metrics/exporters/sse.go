package exporters

import (
	"context"
	"sync"
	"time"

	"github.com/smazurov/racewire/internal/events"
	"github.com/smazurov/racewire/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter publishes a metrics snapshot on the bus at a fixed interval.
type SSEExporter struct {
	eventBus EventPublisher
	metrics  *metrics.Metrics
	interval time.Duration
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher, m *metrics.Metrics) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		metrics:  m,
		interval: 1 * time.Second,
	}
}

// Start begins the SSE export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run()
}

// Stop stops the SSE exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.publishSnapshot()
		}
	}
}

func (s *SSEExporter) publishSnapshot() {
	snap := s.metrics.Snapshot()
	s.eventBus.Publish(events.MetricsSnapshotEvent{
		EventType:        "metrics_snapshot",
		State:            snap.State,
		AttachedTopics:   snap.AttachedTopics,
		Updates:          snap.Updates,
		FramesDropped:    snap.FramesDropped,
		DispatchFailures: snap.DispatchFailures,
		HostCallFailures: snap.HostCallFailures,
		Timestamp:        time.Now().Format(time.RFC3339),
	})
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"metrics-snapshot": events.MetricsSnapshotEvent{},
	}
}
