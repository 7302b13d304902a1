package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to channels.
// The monitor API's SSE handler selects over the channel.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full (non-blocking)
		}
	})
}

// SubscribeAll forwards every event type on the bus to ch.
func SubscribeAll(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[ConnectionStateChangedEvent](bus, ch),
		SubscribeToChannel[FrameDroppedEvent](bus, ch),
		SubscribeToChannel[DispatchFailedEvent](bus, ch),
		SubscribeToChannel[HostCallFailedEvent](bus, ch),
		SubscribeToChannel[TopicAttachedEvent](bus, ch),
		SubscribeToChannel[TopicDetachedEvent](bus, ch),
		SubscribeToChannel[TopicUpdatedEvent](bus, ch),
		SubscribeToChannel[MetricsSnapshotEvent](bus, ch),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}
