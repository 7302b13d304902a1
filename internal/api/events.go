package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/racewire/internal/events"
	"github.com/smazurov/racewire/internal/metrics/exporters"
)

const eventsPath = "/api/events"

// registerSSERoutes registers the native Huma SSE endpoint.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        eventsPath,
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of connection, dispatch, host call and topic events",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func() map[string]any {
		eventTypes := map[string]any{
			"connection-state": events.ConnectionStateChangedEvent{},
			"frame-dropped":    events.FrameDroppedEvent{},
			"dispatch-failed":  events.DispatchFailedEvent{},
			"host-call-failed": events.HostCallFailedEvent{},
			"topic-attached":   events.TopicAttachedEvent{},
			"topic-detached":   events.TopicDetachedEvent{},
			"topic-updated":    events.TopicUpdatedEvent{},
		}
		maps.Copy(eventTypes, exporters.GetEventTypes())
		return eventTypes
	}(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		if s.eventBus == nil {
			return
		}

		eventCh := make(chan any, 64)
		unsubscribe := events.SubscribeAll(s.eventBus, eventCh)
		defer unsubscribe()

		// First message reports where the data channel stands
		state := s.connectionState()
		if err := send.Data(events.ConnectionStateChangedEvent{
			State:     state,
			Previous:  state,
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
