package rmi

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds raised by the protocol engine. Network-facing kinds degrade the
// result cell of the unit of work that hit them; only ValidationError is meant
// to stop an invocation before any socket is opened.
var (
	ErrReadTimeout     = errors.New("read timed out")
	ErrConnectionReset = errors.New("connection reset by endpoint")
	ErrMalformedFrame  = errors.New("malformed frame")

	// ErrProtocolMismatch marks a reachable port that answered the handshake
	// with something other than the protocol. Scanners must keep this
	// distinguishable from an unreachable port.
	ErrProtocolMismatch = errors.New("endpoint does not speak the protocol")
)

// ValidationError reports missing or conflicting caller input. It is raised
// before any network I/O happens.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// ConnectError wraps a failed dial, TLS negotiation or protocol handshake.
// It aborts the remaining call sequence for the affected endpoint only.
type ConnectError struct {
	Endpoint Endpoint
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Endpoint.Addr(), e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsConnectError reports whether err is (or wraps) a ConnectError.
func IsConnectError(err error) bool {
	var ce *ConnectError
	return errors.As(err, &ce)
}
