// package.go implements the packet primitive the version payload is written
// with. The encoding matches the host's binary writer:
//
//	int32  : 4 bytes, little-endian, two's complement
//	uint32 : 4 bytes, little-endian
//	string : 7-bit variable-length byte count, then UTF-8 bytes
//
// The 7-bit count stores 7 bits per byte, low group first, with the high bit
// set on every byte except the last (at most 5 bytes for a 32-bit count).
package protocol

import (
	"encoding/binary"

	"github.com/pzverkov/modcompat/internal/constants"
	qerrors "github.com/pzverkov/modcompat/internal/errors"
)

// Package is a positioned byte stream. Writes append at the end; reads
// consume from the current position. A Package is not safe for concurrent use.
type Package struct {
	buf []byte
	pos int
}

// NewPackage creates an empty package for writing.
func NewPackage() *Package {
	return &Package{buf: make([]byte, 0, 256)}
}

// NewPackageFrom wraps data for reading. The package does not copy data;
// the caller must not modify it while the package is in use.
func NewPackageFrom(data []byte) *Package {
	return &Package{buf: data}
}

// Bytes returns the package contents.
func (p *Package) Bytes() []byte {
	return p.buf
}

// Len returns the total number of bytes in the package.
func (p *Package) Len() int {
	return len(p.buf)
}

// Pos returns the current read position.
func (p *Package) Pos() int {
	return p.pos
}

// SetPos moves the read position.
func (p *Package) SetPos(pos int) error {
	if pos < 0 || pos > len(p.buf) {
		return qerrors.ErrInvalidPosition
	}
	p.pos = pos
	return nil
}

// Remaining returns the number of unread bytes.
func (p *Package) Remaining() int {
	return len(p.buf) - p.pos
}

// HasRemaining reports whether any unread bytes are left.
func (p *Package) HasRemaining() bool {
	return p.pos < len(p.buf)
}

// --- Write ---

// WriteInt32 appends a little-endian int32.
func (p *Package) WriteInt32(v int32) {
	//nolint:gosec // G115: two's complement reinterpretation is the wire format
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(v))
}

// WriteUint32 appends a little-endian uint32.
func (p *Package) WriteUint32(v uint32) {
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

// WriteString appends a length-prefixed UTF-8 string.
func (p *Package) WriteString(s string) error {
	if len(s) > constants.MaxStringLength {
		return qerrors.ErrStringTooLong
	}
	p.write7BitLength(uint32(len(s)))
	p.buf = append(p.buf, s...)
	return nil
}

func (p *Package) write7BitLength(n uint32) {
	for n >= 0x80 {
		p.buf = append(p.buf, byte(n)|0x80)
		n >>= 7
	}
	p.buf = append(p.buf, byte(n))
}

// --- Read ---

// ReadInt32 consumes a little-endian int32.
func (p *Package) ReadInt32() (int32, error) {
	v, err := p.ReadUint32()
	//nolint:gosec // G115: two's complement reinterpretation is the wire format
	return int32(v), err
}

// ReadUint32 consumes a little-endian uint32.
func (p *Package) ReadUint32() (uint32, error) {
	if p.Remaining() < 4 {
		return 0, qerrors.ErrShortBuffer
	}
	v := binary.LittleEndian.Uint32(p.buf[p.pos:])
	p.pos += 4
	return v, nil
}

// ReadString consumes a length-prefixed UTF-8 string.
func (p *Package) ReadString() (string, error) {
	start := p.pos
	n, err := p.read7BitLength()
	if err != nil {
		p.pos = start
		return "", err
	}
	if n > constants.MaxStringLength {
		p.pos = start
		return "", qerrors.ErrStringTooLong
	}
	if p.Remaining() < int(n) {
		p.pos = start
		return "", qerrors.ErrShortBuffer
	}
	s := string(p.buf[p.pos : p.pos+int(n)])
	p.pos += int(n)
	return s, nil
}

func (p *Package) read7BitLength() (uint32, error) {
	var n uint32
	for shift := 0; shift < 35; shift += 7 {
		if p.pos >= len(p.buf) {
			return 0, qerrors.ErrShortBuffer
		}
		b := p.buf[p.pos]
		p.pos++
		// The fifth byte holds the top four bits of a uint32 and nothing else.
		if shift == 28 && b > 0x0F {
			return 0, qerrors.ErrMalformedStream
		}
		n |= uint32(b&0x7F) << shift
		if b&0x80 == 0 {
			return n, nil
		}
	}
	return 0, qerrors.ErrMalformedStream
}
