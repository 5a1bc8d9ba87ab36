// codec.go implements serialization and deserialization of protocol messages.
//
// Wire Format:
//
// All messages follow this structure:
//
//	+------+--------+----------+
//	| Type | Length | Payload  |
//	| 1B   | 4B BE  | Variable |
//	+------+--------+----------+
//
// Length is big-endian uint32, not including header bytes.
//
// VersionInfo Format:
//
//	+----------+----------------------------+
//	| Version  | Version payload            |
//	| 2B       | Length - 2                 |
//	+----------+----------------------------+
//
// Reject Format:
//
//	+--------------+----------------+
//	| Reason len   | Reason (UTF-8) |
//	| 2B BE        | Variable       |
//	+--------------+----------------+
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pzverkov/modcompat/internal/constants"
	qerrors "github.com/pzverkov/modcompat/internal/errors"
)

// Codec provides message serialization and deserialization.
type Codec struct{}

// NewCodec creates a new protocol codec.
func NewCodec() *Codec {
	return &Codec{}
}

// EncodeVersionInfo serializes a VersionInfo message.
func (c *Codec) EncodeVersionInfo(m *VersionInfo) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, HeaderSize+2+len(m.Payload))
	putVersionInfo(buf, m)
	return buf, nil
}

// WriteVersionInfo frames a VersionInfo message in a pooled buffer and
// writes it in a single call.
func (c *Codec) WriteVersionInfo(w io.Writer, m *VersionInfo) error {
	if err := m.Validate(); err != nil {
		return err
	}
	return writePooled(w, HeaderSize+2+len(m.Payload), func(buf []byte) {
		putVersionInfo(buf, m)
	})
}

func putVersionInfo(buf []byte, m *VersionInfo) {
	putHeader(buf, MessageTypeVersionInfo)
	buf[HeaderSize] = m.Version.Major
	buf[HeaderSize+1] = m.Version.Minor
	copy(buf[HeaderSize+2:], m.Payload)
}

// DecodeVersionInfo deserializes a VersionInfo message.
func (c *Codec) DecodeVersionInfo(data []byte) (*VersionInfo, error) {
	payload, err := c.payload(data, MessageTypeVersionInfo)
	if err != nil {
		return nil, err
	}
	if len(payload) < 3 {
		return nil, qerrors.ErrInvalidMessage
	}

	m := &VersionInfo{
		Version: Version{Major: payload[0], Minor: payload[1]},
		Payload: make([]byte, len(payload)-2),
	}
	copy(m.Payload, payload[2:])

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// EncodeAccept serializes an Accept message.
func (c *Codec) EncodeAccept() []byte {
	buf := make([]byte, HeaderSize)
	putHeader(buf, MessageTypeAccept)
	return buf
}

// WriteAccept writes an Accept message.
func (c *Codec) WriteAccept(w io.Writer) error {
	return writePooled(w, HeaderSize, func(buf []byte) {
		putHeader(buf, MessageTypeAccept)
	})
}

// EncodeReject serializes a Reject message. Reasons longer than
// MaxRejectReason are truncated.
func (c *Codec) EncodeReject(reason string) []byte {
	reason = truncate(reason, constants.MaxRejectReason)
	buf := make([]byte, HeaderSize+2+len(reason))
	putReject(buf, reason)
	return buf
}

// WriteReject writes a Reject message, truncating the reason like
// EncodeReject.
func (c *Codec) WriteReject(w io.Writer, reason string) error {
	reason = truncate(reason, constants.MaxRejectReason)
	return writePooled(w, HeaderSize+2+len(reason), func(buf []byte) {
		putReject(buf, reason)
	})
}

func putReject(buf []byte, reason string) {
	putHeader(buf, MessageTypeReject)
	//nolint:gosec // G115: reason length is bounded by MaxRejectReason
	binary.BigEndian.PutUint16(buf[HeaderSize:], uint16(len(reason)))
	copy(buf[HeaderSize+2:], reason)
}

// DecodeReject deserializes a Reject message and returns the reason.
func (c *Codec) DecodeReject(data []byte) (string, error) {
	payload, err := c.payload(data, MessageTypeReject)
	if err != nil {
		return "", err
	}
	if len(payload) < 2 {
		return "", qerrors.ErrInvalidMessage
	}

	reasonLen := int(binary.BigEndian.Uint16(payload))
	if len(payload) < 2+reasonLen {
		return "", qerrors.ErrInvalidMessage
	}

	return string(payload[2 : 2+reasonLen]), nil
}

// EncodeAlert serializes an alert message.
func (c *Codec) EncodeAlert(level AlertLevel, code AlertCode, description string) []byte {
	// Description length is stored in a single byte (max 255)
	description = truncate(description, constants.MaxAlertDescription)
	buf := make([]byte, HeaderSize+3+len(description))
	putAlert(buf, level, code, description)
	return buf
}

// WriteAlert writes an alert message.
func (c *Codec) WriteAlert(w io.Writer, level AlertLevel, code AlertCode, description string) error {
	description = truncate(description, constants.MaxAlertDescription)
	return writePooled(w, HeaderSize+3+len(description), func(buf []byte) {
		putAlert(buf, level, code, description)
	})
}

func putAlert(buf []byte, level AlertLevel, code AlertCode, description string) {
	putHeader(buf, MessageTypeAlert)
	buf[HeaderSize] = byte(level)
	buf[HeaderSize+1] = byte(code)
	buf[HeaderSize+2] = byte(len(description))
	copy(buf[HeaderSize+3:], description)
}

// DecodeAlert deserializes an alert message.
func (c *Codec) DecodeAlert(data []byte) (*AlertMessage, error) {
	if len(data) < HeaderSize+3 {
		return nil, qerrors.ErrInvalidMessage
	}

	if MessageType(data[0]) != MessageTypeAlert {
		return nil, qerrors.ErrInvalidMessage
	}

	descLen := int(data[HeaderSize+2])
	if len(data) < HeaderSize+3+descLen {
		return nil, qerrors.ErrInvalidMessage
	}

	m := &AlertMessage{
		Level:       AlertLevel(data[HeaderSize]),
		Code:        AlertCode(data[HeaderSize+1]),
		Description: string(data[HeaderSize+3 : HeaderSize+3+descLen]),
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadMessage reads a complete message from the reader.
func (c *Codec) ReadMessage(r io.Reader) ([]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	payloadLen := binary.BigEndian.Uint32(header[1:5])
	if payloadLen > MaxMessageSize {
		return nil, qerrors.ErrMessageTooLarge
	}

	msg := make([]byte, HeaderSize+payloadLen)
	copy(msg, header)

	if payloadLen > 0 {
		if _, err := io.ReadFull(r, msg[HeaderSize:]); err != nil {
			return nil, err
		}
	}

	return msg, nil
}

// WriteMessage frames payload with the given type and writes it in a single
// call, staging the frame in a pooled buffer.
func (c *Codec) WriteMessage(w io.Writer, msgType MessageType, payload []byte) error {
	if len(payload) > MaxMessageSize {
		return qerrors.ErrMessageTooLarge
	}
	return writePooled(w, HeaderSize+len(payload), func(buf []byte) {
		putHeader(buf, msgType)
		copy(buf[HeaderSize:], payload)
	})
}

// putHeader writes the type and the length of everything after the header;
// buf must be exactly one frame long.
func putHeader(buf []byte, msgType MessageType) {
	buf[0] = byte(msgType)
	//nolint:gosec // G115: frame sizes are bounded by MaxMessageSize
	binary.BigEndian.PutUint32(buf[1:], uint32(len(buf)-HeaderSize))
}

func writePooled(w io.Writer, size int, fill func([]byte)) error {
	pb := globalBufferPool.GetPooled(size)
	defer pb.Release()

	buf := pb.Bytes()
	fill(buf)
	_, err := w.Write(buf)
	return err
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// GetMessageType returns the type of a serialized message.
func (c *Codec) GetMessageType(data []byte) (MessageType, error) {
	if len(data) < 1 {
		return 0, qerrors.ErrInvalidMessage
	}
	return MessageType(data[0]), nil
}

// payload validates the header of a framed message and returns its payload.
func (c *Codec) payload(data []byte, want MessageType) ([]byte, error) {
	if len(data) < HeaderSize {
		return nil, qerrors.ErrInvalidMessage
	}
	if MessageType(data[0]) != want {
		return nil, qerrors.ErrInvalidMessage
	}

	payloadLen := binary.BigEndian.Uint32(data[1:5])
	if payloadLen > MaxMessageSize {
		return nil, qerrors.ErrMessageTooLarge
	}
	if len(data) < HeaderSize+int(payloadLen) {
		return nil, qerrors.ErrInvalidMessage
	}

	return data[HeaderSize : HeaderSize+int(payloadLen)], nil
}
