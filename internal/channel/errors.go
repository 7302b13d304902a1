package channel

import (
	"errors"
	"fmt"
)

// ErrClosed is returned when starting a connection that has been closed.
var ErrClosed = errors.New("channel: connection closed")

// TransportError reports a failed resolve, dial or read on the data channel.
type TransportError struct {
	Op  string
	URL string
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("channel %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("channel %s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}
