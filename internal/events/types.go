package events

// Event type constants for kelindar/event.
const (
	TypeConnectionStateChanged uint32 = iota + 1
	TypeFrameDropped
	TypeDispatchFailed
	TypeHostCallFailed
	TypeTopicAttached
	TypeTopicDetached
	TypeTopicUpdated
	TypeMetricsSnapshot
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ConnectionStateChangedEvent is published on every data channel state transition.
type ConnectionStateChangedEvent struct {
	State     string `json:"state" example:"connected" doc:"New connection state"`
	Previous  string `json:"previous" example:"connecting" doc:"Previous connection state"`
	URL       string `json:"url,omitempty" example:"ws://127.0.0.1:8384/" doc:"Endpoint of the current attempt"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for ConnectionStateChangedEvent.
func (e ConnectionStateChangedEvent) Type() uint32 { return TypeConnectionStateChanged }

// FrameDroppedEvent represents an inbound frame that could not be decoded.
type FrameDroppedEvent struct {
	Size      int    `json:"size" example:"12" doc:"Frame size in bytes"`
	Reason    string `json:"reason" example:"expected 2 elements, got 1" doc:"Why the frame was dropped"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for FrameDroppedEvent.
func (e FrameDroppedEvent) Type() uint32 { return TypeFrameDropped }

// DispatchFailedEvent represents a listener that failed or panicked on a payload.
type DispatchFailedEvent struct {
	Topic     string `json:"topic" example:"speed" doc:"Topic being dispatched"`
	Error     string `json:"error" doc:"Listener failure"`
	Panic     bool   `json:"panic" doc:"Whether the listener panicked"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DispatchFailedEvent.
func (e DispatchFailedEvent) Type() uint32 { return TypeDispatchFailed }

// HostCallFailedEvent represents a failed control-plane call to the host.
type HostCallFailedEvent struct {
	Op        string `json:"op" example:"register" doc:"Host operation"`
	Topic     string `json:"topic,omitempty" example:"gear" doc:"Topic the call was for"`
	Error     string `json:"error" doc:"Failure description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for HostCallFailedEvent.
func (e HostCallFailedEvent) Type() uint32 { return TypeHostCallFailed }

// TopicAttachedEvent is published when a topic gains its first observer.
type TopicAttachedEvent struct {
	Topic      string `json:"topic" example:"standings" doc:"Topic name"`
	Generation uint64 `json:"generation" example:"1" doc:"Attach generation"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TopicAttachedEvent.
func (e TopicAttachedEvent) Type() uint32 { return TypeTopicAttached }

// TopicDetachedEvent is published when a topic loses its last observer.
type TopicDetachedEvent struct {
	Topic      string `json:"topic" example:"standings" doc:"Topic name"`
	Generation uint64 `json:"generation" example:"1" doc:"Attach generation that ended"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TopicDetachedEvent.
func (e TopicDetachedEvent) Type() uint32 { return TypeTopicDetached }

// TopicUpdatedEvent is published when an attached topic takes a new value.
type TopicUpdatedEvent struct {
	Topic     string `json:"topic" example:"gear" doc:"Topic name"`
	Source    string `json:"source" example:"live" doc:"Value source: live or snapshot"`
	Size      int    `json:"size" example:"2" doc:"Payload size in bytes"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for TopicUpdatedEvent.
func (e TopicUpdatedEvent) Type() uint32 { return TypeTopicUpdated }

// MetricsSnapshotEvent carries periodic client counters for the monitor stream.
type MetricsSnapshotEvent struct {
	EventType        string `json:"type" example:"metrics_snapshot" doc:"Event type"`
	State            string `json:"state" example:"connected" doc:"Connection state"`
	AttachedTopics   int    `json:"attached_topics" example:"6" doc:"Topics with at least one observer"`
	Updates          uint64 `json:"updates" example:"1024" doc:"Topic updates delivered"`
	FramesDropped    uint64 `json:"frames_dropped" example:"0" doc:"Frames that failed to decode"`
	DispatchFailures uint64 `json:"dispatch_failures" example:"0" doc:"Listener or sink failures"`
	HostCallFailures uint64 `json:"host_call_failures" example:"1" doc:"Failed control-plane calls"`
	Timestamp        string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for MetricsSnapshotEvent.
func (e MetricsSnapshotEvent) Type() uint32 { return TypeMetricsSnapshot }
