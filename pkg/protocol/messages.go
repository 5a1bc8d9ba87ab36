// Package protocol defines message types for the mod compatibility handshake.
//
// This file (messages.go) implements the message flow:
//
//	Client                                 Server
//	    |                                      |
//	    | <------- VersionInfo --------------- |
//	    |   - frame version                    |
//	    |   - server version payload           |
//	    |                                      |
//	    | -------- VersionInfo --------------> |
//	    |   - client version payload           |
//	    |                                      |
//	    | <------- Accept / Reject ----------- |
//	    |                                      |
//
// All messages are length-prefixed with a 4-byte big-endian length field.
package protocol

import (
	"github.com/pzverkov/modcompat/internal/constants"
	qerrors "github.com/pzverkov/modcompat/internal/errors"
)

// MessageType identifies the type of protocol message.
type MessageType uint8

// Protocol message types for the version exchange and error signaling.
const (
	// MessageTypeVersionInfo carries an encoded version payload.
	MessageTypeVersionInfo MessageType = 0x01
	// MessageTypeAccept tells the client its mod set was accepted.
	MessageTypeAccept MessageType = 0x02
	// MessageTypeReject tells the client its mod set was refused.
	MessageTypeReject MessageType = 0x03

	// MessageTypeAlert signals an error condition.
	MessageTypeAlert MessageType = 0xF0
)

// String returns a human-readable name for the message type.
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeVersionInfo:
		return "VersionInfo"
	case MessageTypeAccept:
		return "Accept"
	case MessageTypeReject:
		return "Reject"
	case MessageTypeAlert:
		return "Alert"
	default:
		return "Unknown"
	}
}

// AlertCode identifies specific error conditions.
type AlertCode uint8

// Alert codes identifying specific error conditions.
const (
	// AlertCodeUnexpectedMessage indicates an unexpected message was received.
	AlertCodeUnexpectedMessage AlertCode = 0x01
	// AlertCodeMalformedPayload indicates a version payload could not be decoded.
	AlertCodeMalformedPayload AlertCode = 0x02
	// AlertCodeUnsupportedVersion indicates no common frame version.
	AlertCodeUnsupportedVersion AlertCode = 0x04
	// AlertCodeInternalError indicates an internal implementation error.
	AlertCodeInternalError AlertCode = 0x07
	// AlertCodeCloseNotify indicates graceful connection closure.
	AlertCodeCloseNotify AlertCode = 0x08
)

// AlertLevel indicates the severity of the alert.
type AlertLevel uint8

// Alert severity levels.
const (
	// AlertLevelWarning indicates a non-fatal condition that may be recoverable.
	AlertLevelWarning AlertLevel = 0x01
	// AlertLevelFatal indicates an unrecoverable error requiring connection termination.
	AlertLevelFatal AlertLevel = 0x02
)

// VersionInfo carries one peer's encoded version payload.
type VersionInfo struct {
	// Frame version of the sender
	Version Version

	// Encoded version payload (see compat.VersionData)
	Payload []byte
}

// Validate checks if the VersionInfo message is valid.
func (m *VersionInfo) Validate() error {
	if !m.Version.IsCompatible(Current) {
		return qerrors.ErrUnsupportedVersion
	}
	if len(m.Payload) == 0 || len(m.Payload) > constants.MaxPayloadSize {
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// AlertMessage signals an error condition or connection closure.
type AlertMessage struct {
	// Level of the alert (Warning or Fatal)
	Level AlertLevel

	// Alert code identifying the specific condition
	Code AlertCode

	// Optional description (max 255 bytes)
	Description string
}

// Validate checks if the AlertMessage is valid.
func (m *AlertMessage) Validate() error {
	if m.Level != AlertLevelWarning && m.Level != AlertLevelFatal {
		return qerrors.ErrInvalidMessage
	}
	if len(m.Description) > constants.MaxAlertDescription {
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// HeaderSize is the size of the message header (type + length).
const HeaderSize = constants.HeaderSize

// MaxMessageSize is the maximum size of a protocol message payload.
const MaxMessageSize = constants.MaxMessageSize
