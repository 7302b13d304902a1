package events

import (
	"github.com/kelindar/event"
)

// Bus wraps kelindar/event dispatcher for event broadcasting.
type Bus struct {
	dispatcher *event.Dispatcher
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		dispatcher: event.NewDispatcher(),
	}
}

// Publish publishes an event to all subscribers.
// Usage: bus.Publish(TopicAttachedEvent{...})
// A nil bus discards the event.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}

	// Type switch picks the generic Publish instantiation
	switch e := ev.(type) {
	case ConnectionStateChangedEvent:
		event.Publish(b.dispatcher, e)
	case FrameDroppedEvent:
		event.Publish(b.dispatcher, e)
	case DispatchFailedEvent:
		event.Publish(b.dispatcher, e)
	case HostCallFailedEvent:
		event.Publish(b.dispatcher, e)
	case TopicAttachedEvent:
		event.Publish(b.dispatcher, e)
	case TopicDetachedEvent:
		event.Publish(b.dispatcher, e)
	case TopicUpdatedEvent:
		event.Publish(b.dispatcher, e)
	case MetricsSnapshotEvent:
		event.Publish(b.dispatcher, e)
	}
}

// Subscribe subscribes to events with a handler function.
// The handler type determines which events it receives.
// Returns an unsubscribe function.
// Usage: unsub := bus.Subscribe(func(e FrameDroppedEvent) { ... })
func (b *Bus) Subscribe(handler any) func() {
	switch h := handler.(type) {
	case func(ConnectionStateChangedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(FrameDroppedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(DispatchFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(HostCallFailedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TopicAttachedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TopicDetachedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(TopicUpdatedEvent):
		return event.Subscribe(b.dispatcher, h)
	case func(MetricsSnapshotEvent):
		return event.Subscribe(b.dispatcher, h)
	default:
		// Unrecognized handler types get a no-op unsubscribe
		return func() {}
	}
}
