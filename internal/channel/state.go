package channel

// State is the lifecycle state of the data channel.
type State int32

const (
	// Disconnected means no transport is open. A reconnect may be scheduled.
	Disconnected State = iota
	// Connecting means an attempt to resolve and dial is in flight.
	Connecting
	// Connected means the transport is open and frames are being read.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}
