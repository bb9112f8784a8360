package session

import (
	"context"
	"errors"
	"fmt"
)

// ConnectionError indicates the transport is absent, closed, or failed
// before a response arrived.
type ConnectionError struct {
	Reason string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error: %s", e.Reason)
}

func newConnectionError(reason string) error {
	return &ConnectionError{Reason: reason}
}

// AuthenticationError indicates the handshake was rejected or timed out.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication error: %s", e.Reason)
}

// TimeoutError indicates the request's deadline elapsed before a
// RESPONSE/ERROR arrived.
type TimeoutError struct {
	RequestID uint32
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %d timed out", e.RequestID)
}

// ProtocolError indicates the peer answered an outbound request with an
// ERROR frame.
type ProtocolError struct {
	Code string
	Name string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %s: %s", e.Code, e.Name)
}

// IsTimeout reports whether err represents a request timeout, whether it
// surfaced as the session's own per-request *TimeoutError (the common case:
// SendPacket's internal timer fires before the caller's context does, since
// it is derived from the Prepare's expiry with a safety margin) or as the
// caller's context deadline expiring first.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
