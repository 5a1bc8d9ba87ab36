// Package errors defines custom error types for the mod compatibility protocol.
// Decode failures are classified by sentinel so that the handshake layer can
// tell a peer running a newer protocol apart from a corrupt payload.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for module payload decoding
var (
	// ErrUnsupportedLayout indicates a module record uses a data layout this
	// implementation does not know. The remainder of the module list cannot
	// be located and must be treated as untrusted.
	ErrUnsupportedLayout = errors.New("compat: unsupported data layout")

	// ErrLayoutInconsistency indicates modules of one payload carry different
	// data layout versions
	ErrLayoutInconsistency = errors.New("compat: inconsistent data layout")

	// ErrMalformedStream indicates truncated or corrupt payload bytes
	ErrMalformedStream = errors.New("compat: malformed stream")

	// ErrInvalidModule indicates a module is missing required identity fields
	ErrInvalidModule = errors.New("compat: invalid module")

	// ErrInvalidVersion indicates a version string could not be parsed
	ErrInvalidVersion = errors.New("compat: invalid version")
)

// Sentinel errors for the byte stream primitive
var (
	// ErrShortBuffer indicates a read past the end of the stream
	ErrShortBuffer = errors.New("package: read past end of stream")

	// ErrStringTooLong indicates a string exceeds the wire limit
	ErrStringTooLong = errors.New("package: string too long")

	// ErrInvalidPosition indicates a seek outside the stream
	ErrInvalidPosition = errors.New("package: invalid position")
)

// Sentinel errors for protocol operations
var (
	// ErrInvalidMessage indicates a protocol message is malformed
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrMessageTooLarge indicates message exceeds maximum size
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrUnsupportedVersion indicates an unsupported frame version
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrUnexpectedMessage indicates a message arrived out of order
	ErrUnexpectedMessage = errors.New("protocol: unexpected message")

	// ErrInvalidState indicates an invalid handshake state
	ErrInvalidState = errors.New("protocol: invalid state")

	// ErrHandshakeRejected indicates the peer refused the connection
	ErrHandshakeRejected = errors.New("handshake: rejected by peer")

	// ErrIncompatible indicates the local comparison found blocking issues
	ErrIncompatible = errors.New("handshake: incompatible mod set")

	// ErrTimeout indicates an operation timed out
	ErrTimeout = errors.New("handshake: operation timed out")
)

// DecodeError wraps a payload decoding failure with the phase that failed
// and, for layout errors, the offending data layout tag.
type DecodeError struct {
	Phase  string // Decode phase (e.g., "game version", "modules")
	Layout int32  // Data layout tag involved, if any
	Err    error  // Underlying error
}

func (e *DecodeError) Error() string {
	if e.Layout != 0 {
		return fmt.Sprintf("decode %s (layout %d): %v", e.Phase, e.Layout, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Phase, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// NewDecodeError creates a new DecodeError
func NewDecodeError(phase string, err error) *DecodeError {
	return &DecodeError{Phase: phase, Err: err}
}

// NewLayoutError creates a DecodeError carrying a data layout tag
func NewLayoutError(phase string, layout int32, err error) *DecodeError {
	return &DecodeError{Phase: phase, Layout: layout, Err: err}
}

// ProtocolError wraps a protocol error with additional context
type ProtocolError struct {
	Phase string // Protocol phase (e.g., "server hello", "verdict")
	Err   error  // Underlying error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError
func NewProtocolError(phase string, err error) *ProtocolError {
	return &ProtocolError{Phase: phase, Err: err}
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Join is a convenience wrapper around errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
