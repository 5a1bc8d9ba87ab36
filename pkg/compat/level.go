package compat

import (
	"fmt"
	"strings"

	"github.com/stoewer/go-strcase"
)

// CompatibilityLevel governs whether a module's absence on a peer blocks the
// connection. Values are the integer codes carried on the wire.
type CompatibilityLevel int32

// Compatibility levels. NoNeedForSync and VersionCheckOnly are deprecated
// aliases kept for decoding payloads of older peers; Normalize maps them to
// NotEnforced and OnlySyncWhenInstalled.
const (
	// Deprecated: use NotEnforced.
	NoNeedForSync CompatibilityLevel = 0
	// EveryoneMustHaveMod requires the module on both server and client.
	EveryoneMustHaveMod CompatibilityLevel = 1
	// ClientMustHaveMod requires the module on the client.
	ClientMustHaveMod CompatibilityLevel = 2
	// ServerMustHaveMod requires the module on the server.
	ServerMustHaveMod CompatibilityLevel = 3
	// Deprecated: use OnlySyncWhenInstalled.
	VersionCheckOnly CompatibilityLevel = 4
	// NotEnforced never blocks a connection.
	NotEnforced CompatibilityLevel = 5
	// OnlySyncWhenInstalled checks versions only when both peers have the module.
	OnlySyncWhenInstalled CompatibilityLevel = 6
)

// Normalize maps deprecated aliases to their canonical level. Unknown codes
// are returned unchanged.
func (l CompatibilityLevel) Normalize() CompatibilityLevel {
	switch l {
	case NoNeedForSync:
		return NotEnforced
	case VersionCheckOnly:
		return OnlySyncWhenInstalled
	default:
		return l
	}
}

// IsKnown reports whether l is a level this implementation understands.
func (l CompatibilityLevel) IsKnown() bool {
	return l >= NoNeedForSync && l <= OnlySyncWhenInstalled
}

// Rank orders levels from least to most demanding:
//
//	NotEnforced < OnlySyncWhenInstalled < ServerMustHaveMod < ClientMustHaveMod < EveryoneMustHaveMod
//
// Unknown levels rank -1.
func (l CompatibilityLevel) Rank() int {
	switch l.Normalize() {
	case NotEnforced:
		return 0
	case OnlySyncWhenInstalled:
		return 1
	case ServerMustHaveMod:
		return 2
	case ClientMustHaveMod:
		return 3
	case EveryoneMustHaveMod:
		return 4
	default:
		return -1
	}
}

// String returns the canonical level name.
func (l CompatibilityLevel) String() string {
	switch l {
	case NoNeedForSync:
		return "NoNeedForSync"
	case EveryoneMustHaveMod:
		return "EveryoneMustHaveMod"
	case ClientMustHaveMod:
		return "ClientMustHaveMod"
	case ServerMustHaveMod:
		return "ServerMustHaveMod"
	case VersionCheckOnly:
		return "VersionCheckOnly"
	case NotEnforced:
		return "NotEnforced"
	case OnlySyncWhenInstalled:
		return "OnlySyncWhenInstalled"
	default:
		return fmt.Sprintf("CompatibilityLevel(%d)", int32(l))
	}
}

// ParseCompatibilityLevel parses a level name, case-insensitively. Snake and
// kebab case spellings ("everyone_must_have_mod") are accepted. Deprecated
// names are normalized.
func ParseCompatibilityLevel(s string) (CompatibilityLevel, error) {
	name := strcase.UpperCamelCase(strings.TrimSpace(s))
	for l := NoNeedForSync; l <= OnlySyncWhenInstalled; l++ {
		if strings.EqualFold(name, l.String()) {
			return l.Normalize(), nil
		}
	}
	return 0, fmt.Errorf("unknown compatibility level %q", s)
}

// VersionStrictness governs how deep a version mismatch must go before it is
// treated as a violation.
type VersionStrictness int32

// Version strictness levels, ordered.
const (
	// StrictnessNone never reports a version violation.
	StrictnessNone VersionStrictness = 0
	// StrictnessMajor compares major versions.
	StrictnessMajor VersionStrictness = 1
	// StrictnessMinor compares major and minor versions.
	StrictnessMinor VersionStrictness = 2
	// StrictnessPatch compares major, minor and build versions.
	StrictnessPatch VersionStrictness = 3
)

// String returns the strictness name.
func (s VersionStrictness) String() string {
	switch s {
	case StrictnessNone:
		return "None"
	case StrictnessMajor:
		return "Major"
	case StrictnessMinor:
		return "Minor"
	case StrictnessPatch:
		return "Patch"
	default:
		return fmt.Sprintf("VersionStrictness(%d)", int32(s))
	}
}

// ParseVersionStrictness parses a strictness name, case-insensitively.
func ParseVersionStrictness(s string) (VersionStrictness, error) {
	for v := StrictnessNone; v <= StrictnessPatch; v++ {
		if strings.EqualFold(s, v.String()) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown version strictness %q", s)
}
