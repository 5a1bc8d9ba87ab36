package compat

import (
	"fmt"

	"github.com/pzverkov/modcompat/internal/constants"
	qerrors "github.com/pzverkov/modcompat/internal/errors"
	"github.com/pzverkov/modcompat/pkg/protocol"
)

// Data layout versions of a module record.
const (
	LegacyDataLayout  = constants.LegacyDataLayout
	CurrentDataLayout = constants.CurrentDataLayout
)

// Module is one mod's compatibility record. It is an immutable value type;
// two modules are equal when all their fields are equal.
//
// Legacy format:
//
//	+--------+-------+-------+-------+-------+------------+
//	| Name   | Major | Minor | Build | Level | Strictness |
//	| string | int32 | int32 | int32 | int32 | int32      |
//	+--------+-------+-------+-------+-------+------------+
//
// Current format:
//
//	+--------+--------+--------+-------+-------+-------+-------+------------+
//	| Layout | GUID   | Name   | Major | Minor | Build | Level | Strictness |
//	| int32  | string | string | int32 | int32 | int32 | int32 | int32      |
//	+--------+--------+--------+-------+-------+-------+-------+------------+
type Module struct {
	layout     int32
	guid       string
	name       string
	version    Version
	level      CompatibilityLevel
	strictness VersionStrictness
}

// NewModule creates a current-layout module from a locally loaded mod's
// declared metadata.
func NewModule(guid, name string, version Version, level CompatibilityLevel, strictness VersionStrictness) (Module, error) {
	if guid == "" {
		return Module{}, fmt.Errorf("%w: empty guid", qerrors.ErrInvalidModule)
	}
	if name == "" {
		return Module{}, fmt.Errorf("%w: %s has an empty name", qerrors.ErrInvalidModule, guid)
	}
	return Module{
		layout:     CurrentDataLayout,
		guid:       guid,
		name:       name,
		version:    version,
		level:      level.Normalize(),
		strictness: strictness,
	}, nil
}

// NewLegacyModule creates a legacy-layout module. Legacy modules have no
// GUID and are identified by name.
func NewLegacyModule(name string, version Version, level CompatibilityLevel, strictness VersionStrictness) (Module, error) {
	if name == "" {
		return Module{}, fmt.Errorf("%w: empty name", qerrors.ErrInvalidModule)
	}
	return Module{
		layout:     LegacyDataLayout,
		name:       name,
		version:    version,
		level:      level.Normalize(),
		strictness: strictness,
	}, nil
}

// DataLayoutVersion returns the layout tag of the record.
func (m Module) DataLayoutVersion() int32 { return m.layout }

// GUID returns the stable mod identifier; empty for legacy records.
func (m Module) GUID() string { return m.guid }

// Name returns the display name.
func (m Module) Name() string { return m.name }

// Version returns the mod version.
func (m Module) Version() Version { return m.version }

// CompatibilityLevel returns the normalized compatibility level.
func (m Module) CompatibilityLevel() CompatibilityLevel { return m.level }

// VersionStrictness returns the version strictness.
func (m Module) VersionStrictness() VersionStrictness { return m.strictness }

// ModID identifies the module during comparison: the GUID for the current
// layout, the name for legacy records.
func (m Module) ModID() string {
	if m.layout == LegacyDataLayout {
		return m.name
	}
	return m.guid
}

// VersionString renders the version as major.minor[.build].
func (m Module) VersionString() string {
	return m.version.String()
}

// IsNeededOnServer reports whether the module must at least be loaded on the server.
func (m Module) IsNeededOnServer() bool {
	return m.level == EveryoneMustHaveMod || m.level == ServerMustHaveMod
}

// IsNeededOnClient reports whether the module must at least be loaded on the client.
func (m Module) IsNeededOnClient() bool {
	return m.level == EveryoneMustHaveMod || m.level == ClientMustHaveMod
}

// IsNotEnforced reports whether the module is enforced by neither side.
func (m Module) IsNotEnforced() bool {
	return m.level == NotEnforced
}

// OnlyVersionCheck reports whether only versions are checked, and only when
// both peers have the module.
func (m Module) OnlyVersionCheck() bool {
	return m.level == OnlySyncWhenInstalled
}

// IsLegacyDataLayout reports whether the record uses the legacy layout.
func (m Module) IsLegacyDataLayout() bool {
	return m.layout == LegacyDataLayout
}

// IsSupportedDataLayout reports whether the record's layout is understood.
// It is false for placeholders produced by a failed decode of a newer layout.
func (m Module) IsSupportedDataLayout() bool {
	return constants.IsSupportedDataLayout(m.layout)
}

// String returns "name version level strictness".
func (m Module) String() string {
	return fmt.Sprintf("%s %s %s %s", m.name, m.VersionString(), m.level, m.strictness)
}

// IsLowerVersion reports whether compare runs a lower version than base
// under the given strictness.
func IsLowerVersion(base, compare Module, strictness VersionStrictness) bool {
	return isLowerVersion(base.version, compare.version, strictness)
}

// Encode writes the module in the legacy or current layout.
func (m Module) Encode(pkg *protocol.Package, legacy bool) error {
	if legacy {
		return m.encodeBody(pkg)
	}

	// Only layout 1 carries fields in the current block; any other tag is
	// written alone.
	pkg.WriteInt32(m.layout)
	if m.layout != CurrentDataLayout {
		return nil
	}
	if err := pkg.WriteString(m.guid); err != nil {
		return fmt.Errorf("module %s guid: %w", m.ModID(), err)
	}
	return m.encodeBody(pkg)
}

func (m Module) encodeBody(pkg *protocol.Package) error {
	if err := pkg.WriteString(m.name); err != nil {
		return fmt.Errorf("module %s name: %w", m.ModID(), err)
	}
	pkg.WriteInt32(m.version.Major)
	pkg.WriteInt32(m.version.Minor)
	pkg.WriteInt32(m.version.Build)
	pkg.WriteInt32(int32(m.level))
	pkg.WriteInt32(int32(m.strictness))
	return nil
}

// DecodeModule reads one module record. With legacy set, the legacy shape is
// read and the layout is LegacyDataLayout. Otherwise the layout tag is read
// first. Tag 0 carries no fields in the current block and yields an empty
// legacy-layout record; an unknown tag yields a placeholder carrying only the tag and an
// error wrapping ErrUnsupportedLayout, after which the stream position of the
// next record is unknown.
func DecodeModule(pkg *protocol.Package, legacy bool) (Module, error) {
	if legacy {
		m := Module{layout: LegacyDataLayout}
		if err := m.decodeBody(pkg); err != nil {
			return Module{}, err
		}
		return m, nil
	}

	layout, err := pkg.ReadInt32()
	if err != nil {
		return Module{}, malformed("module layout", err)
	}

	m := Module{layout: layout}
	switch layout {
	case CurrentDataLayout:
		if m.guid, err = pkg.ReadString(); err != nil {
			return Module{}, malformed("module guid", err)
		}
		if err := m.decodeBody(pkg); err != nil {
			return Module{}, err
		}
	case LegacyDataLayout:
		m.level = m.level.Normalize()
	default:
		return m, qerrors.NewLayoutError("module", layout, qerrors.ErrUnsupportedLayout)
	}
	return m, nil
}

func (m *Module) decodeBody(pkg *protocol.Package) error {
	var err error
	if m.name, err = pkg.ReadString(); err != nil {
		return malformed("module name", err)
	}

	fields := [5]int32{}
	for i := range fields {
		if fields[i], err = pkg.ReadInt32(); err != nil {
			return malformed("module "+m.name, err)
		}
	}

	m.version = Version{Major: fields[0], Minor: fields[1], Build: fields[2]}
	m.level = CompatibilityLevel(fields[3]).Normalize()
	m.strictness = VersionStrictness(fields[4])
	return nil
}

func malformed(phase string, err error) error {
	return qerrors.NewDecodeError(phase, fmt.Errorf("%w: %w", qerrors.ErrMalformedStream, err))
}
