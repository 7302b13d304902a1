package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan TopicAttachedEvent, 1)

	unsub := bus.Subscribe(func(e TopicAttachedEvent) {
		received <- e
	})
	defer unsub()

	event := TopicAttachedEvent{
		Topic:      "standings",
		Generation: 3,
		Timestamp:  "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got.Topic != event.Topic {
		t.Errorf("Expected topic %s, got %s", event.Topic, got.Topic)
	}
	if got.Generation != 3 {
		t.Errorf("Expected generation 3, got %d", got.Generation)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan FrameDroppedEvent, 1)
	received2 := make(chan FrameDroppedEvent, 1)

	unsub1 := bus.Subscribe(func(e FrameDroppedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e FrameDroppedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(FrameDroppedEvent{Size: 3, Reason: "garbage"})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan HostCallFailedEvent, 1)

	unsub := bus.Subscribe(func(e HostCallFailedEvent) {
		received <- e
	})

	bus.Publish(HostCallFailedEvent{Op: "register", Topic: "gear"})
	<-received

	unsub()

	bus.Publish(HostCallFailedEvent{Op: "register", Topic: "speed"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	attachedReceived := make(chan bool, 1)
	detachedReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ TopicAttachedEvent) {
		attachedReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ TopicDetachedEvent) {
		detachedReceived <- true
	})
	defer unsub2()

	bus.Publish(TopicAttachedEvent{Topic: "gear"})
	<-attachedReceived

	select {
	case <-detachedReceived:
		t.Fatal("Detached subscriber should NOT have received TopicAttachedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}

	bus.Publish(TopicDetachedEvent{Topic: "gear"})
	<-detachedReceived

	select {
	case <-attachedReceived:
		t.Fatal("Attached subscriber should NOT have received TopicDetachedEvent")
	case <-time.After(10 * time.Millisecond):
		// Expected
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ TopicUpdatedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(TopicUpdatedEvent{
					Topic:     "speed",
					Source:    "live",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"ConnectionStateChanged", ConnectionStateChangedEvent{State: "connected"}},
		{"FrameDropped", FrameDroppedEvent{Size: 1}},
		{"DispatchFailed", DispatchFailedEvent{Topic: "speed"}},
		{"HostCallFailed", HostCallFailedEvent{Op: "current"}},
		{"TopicAttached", TopicAttachedEvent{Topic: "gear"}},
		{"TopicDetached", TopicDetachedEvent{Topic: "gear"}},
		{"TopicUpdated", TopicUpdatedEvent{Topic: "gear"}},
		{"MetricsSnapshot", MetricsSnapshotEvent{State: "connected"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan any, 1)
			unsub := SubscribeAll(bus, received)
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestBus_NilPublish(_ *testing.T) {
	var bus *Bus
	bus.Publish(TopicAttachedEvent{Topic: "gear"})
}

func TestEventJSONSerialization(t *testing.T) {
	data, err := json.Marshal(ConnectionStateChangedEvent{
		State:     "connected",
		Previous:  "connecting",
		URL:       "ws://127.0.0.1:8384/",
		Timestamp: "2025-01-27T10:30:00Z",
	})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var result map[string]any
	if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
		t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
	}
	if result["state"] != "connected" {
		t.Errorf("Expected state connected, got %v", result["state"])
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[DispatchFailedEvent](bus, ch)
	defer unsub()

	bus.Publish(DispatchFailedEvent{Topic: "relative", Panic: true})

	received := <-ch
	failed, ok := received.(DispatchFailedEvent)
	if !ok {
		t.Fatalf("Expected DispatchFailedEvent, got %T", received)
	}
	if failed.Topic != "relative" || !failed.Panic {
		t.Errorf("Unexpected event: %+v", failed)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[TopicUpdatedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(TopicUpdatedEvent{Topic: "speed"})
		done <- true
	}()

	<-done
}
