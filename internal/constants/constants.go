// Package constants defines wire limits and protocol constants for the mod
// compatibility handshake.
package constants

// Protocol identification
const (
	// ProtocolName identifies the handshake in logs and traces
	ProtocolName = "modcompat-v1"
)

// Module data layout versions
const (
	// LegacyDataLayout is the original, untagged module record shape
	LegacyDataLayout int32 = 0

	// CurrentDataLayout is the tagged module record shape carrying a GUID
	CurrentDataLayout int32 = 1
)

// IsSupportedDataLayout reports whether a module record tag is understood.
func IsSupportedDataLayout(layout int32) bool {
	return layout >= LegacyDataLayout && layout <= CurrentDataLayout
}

// Payload limits
const (
	// MaxModules bounds a decoded module count. Mod lists are tens of entries;
	// the bound keeps a corrupt count from driving a huge allocation.
	MaxModules = 4096

	// MaxStringLength is the maximum byte length of a single wire string
	MaxStringLength = 65535

	// MaxPayloadSize is the maximum size of an encoded version payload
	MaxPayloadSize = 1 << 20
)

// Framing limits
const (
	// HeaderSize is the size of a framed message header (type + length)
	HeaderSize = 5

	// MaxMessageSize is the maximum size of a single framed message payload
	MaxMessageSize = MaxPayloadSize + 1024

	// MaxAlertDescription is the maximum length of an alert description
	MaxAlertDescription = 255

	// MaxRejectReason is the maximum length of a rejection report
	MaxRejectReason = 16 * 1024
)

// Handshake timing
const (
	// DefaultHandshakeTimeoutSeconds bounds a full version exchange
	DefaultHandshakeTimeoutSeconds = 10
)

// ServerCharactersSuffix is stripped from advertised version strings; that
// mod rewrites the server's version string but not the client's.
const ServerCharactersSuffix = "-ServerCharacters"
