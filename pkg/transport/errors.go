package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for adapter lifecycle failures.
var (
	// ErrConnectTimeout is returned when the peer does not complete the
	// handshake within Config.ConnectTimeout.
	ErrConnectTimeout = errors.New("transport: connect timeout")

	// ErrMaxRetriesExceeded is surfaced via OnError after the reconnect
	// policy has exhausted Config.MaxRetries attempts. It is terminal for
	// the leg.
	ErrMaxRetriesExceeded = errors.New("transport: max retries exceeded")

	// ErrClosed is returned by Connect on an adapter that was manually closed.
	ErrClosed = errors.New("transport: adapter closed")
)

// ConnectError wraps a transport-level dial failure.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ParseError reports a malformed inbound message. It is non-fatal: the
// adapter reports it via OnError and keeps the connection open.
type ParseError struct {
	Payload []byte
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("transport: malformed message (%d bytes): %v", len(e.Payload), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
