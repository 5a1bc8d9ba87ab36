package compat

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/pzverkov/modcompat/internal/constants"
	qerrors "github.com/pzverkov/modcompat/internal/errors"
	"github.com/pzverkov/modcompat/pkg/metrics"
	"github.com/pzverkov/modcompat/pkg/protocol"
)

// VersionData is the full handshake payload: the host game version and the
// ordered list of loaded modules. It is read-only after construction.
//
// Wire format (integers and strings as written by protocol.Package):
//
//	int32 game major, minor, build
//	int32 legacy module count
//	      legacy modules
//	string version string          present iff bytes remain
//	uint32 network version         present iff bytes remain
//	int32 current module count     present iff bytes remain
//	      current modules
//
// Older peers stop reading after the legacy block; newer peers replace the
// legacy list with the current one.
type VersionData struct {
	gameVersion    Version
	modules        []Module
	versionString  string
	networkVersion uint32
	layout         int32
	supported      bool
}

// NewVersionData builds the payload for the local mod set. All modules must
// share one data layout. A "-ServerCharacters" suffix is stripped from the
// version string.
func NewVersionData(game Version, versionString string, networkVersion uint32, modules []Module) (*VersionData, error) {
	layout, err := checkLayout(modules, CurrentDataLayout)
	if err != nil {
		return nil, err
	}
	if len(modules) > constants.MaxModules {
		return nil, fmt.Errorf("%w: %d modules exceeds limit %d", qerrors.ErrInvalidModule, len(modules), constants.MaxModules)
	}

	return &VersionData{
		gameVersion:    game,
		modules:        slices.Clone(modules),
		versionString:  strings.ReplaceAll(versionString, constants.ServerCharactersSuffix, ""),
		networkVersion: networkVersion,
		layout:         layout,
		supported:      true,
	}, nil
}

// checkLayout returns the data layout shared by all modules, or def for an
// empty list.
func checkLayout(modules []Module, def int32) (int32, error) {
	if len(modules) == 0 {
		return def, nil
	}
	layout := modules[0].layout
	for _, m := range modules[1:] {
		if m.layout != layout {
			return layout, fmt.Errorf("%w: module %q has layout %d, module %q has layout %d",
				qerrors.ErrLayoutInconsistency, modules[0].ModID(), layout, m.ModID(), m.layout)
		}
	}
	return layout, nil
}

// GameVersion returns the host game version.
func (v *VersionData) GameVersion() Version { return v.gameVersion }

// Modules returns a copy of the module list in load order.
func (v *VersionData) Modules() []Module { return slices.Clone(v.modules) }

// ModuleCount returns the number of modules.
func (v *VersionData) ModuleCount() int { return len(v.modules) }

// VersionString returns the advertised game version string, if any.
func (v *VersionData) VersionString() string { return v.versionString }

// NetworkVersion returns the advertised network protocol version, if any.
func (v *VersionData) NetworkVersion() uint32 { return v.networkVersion }

// DataLayout returns the data layout shared by all modules. After decoding a
// payload with an unknown layout it is the unknown tag.
func (v *VersionData) DataLayout() int32 { return v.layout }

// IsSupportedDataLayout reports whether every module record was in a layout
// that could be decoded.
func (v *VersionData) IsSupportedDataLayout() bool {
	return v.supported && constants.IsSupportedDataLayout(v.layout)
}

// IsLegacyDataLayout reports whether the modules use the legacy layout.
func (v *VersionData) IsLegacyDataLayout() bool {
	return v.layout == LegacyDataLayout
}

// FindModule returns the module with the given ModID.
func (v *VersionData) FindModule(modID string) (Module, bool) {
	for _, m := range v.modules {
		if m.ModID() == modID {
			return m, true
		}
	}
	return Module{}, false
}

// HasModule reports whether a module with the given ModID is present.
func (v *VersionData) HasModule(modID string) bool {
	_, ok := v.FindModule(modID)
	return ok
}

// Equal reports whether two payloads carry the same data.
func (v *VersionData) Equal(other *VersionData) bool {
	if v == nil || other == nil {
		return v == other
	}
	return v.gameVersion == other.gameVersion &&
		v.versionString == other.versionString &&
		v.networkVersion == other.networkVersion &&
		v.layout == other.layout &&
		v.supported == other.supported &&
		slices.Equal(v.modules, other.modules)
}

// --- Encoding ---

// Encode serializes the payload. Legacy-layout data omits the current block
// so that it round-trips unchanged.
func (v *VersionData) Encode() ([]byte, error) {
	if !v.IsSupportedDataLayout() {
		return nil, qerrors.NewLayoutError("encode", v.layout, qerrors.ErrUnsupportedLayout)
	}

	pkg := protocol.NewPackage()
	pkg.WriteInt32(v.gameVersion.Major)
	pkg.WriteInt32(v.gameVersion.Minor)
	pkg.WriteInt32(v.gameVersion.Build)

	//nolint:gosec // G115: module count is bounded by MaxModules
	pkg.WriteInt32(int32(len(v.modules)))
	for _, m := range v.modules {
		if err := m.Encode(pkg, true); err != nil {
			return nil, err
		}
	}

	if err := pkg.WriteString(v.versionString); err != nil {
		return nil, fmt.Errorf("version string: %w", err)
	}
	pkg.WriteUint32(v.networkVersion)

	if v.layout != LegacyDataLayout {
		//nolint:gosec // G115: module count is bounded by MaxModules
		pkg.WriteInt32(int32(len(v.modules)))
		for _, m := range v.modules {
			if err := m.Encode(pkg, false); err != nil {
				return nil, err
			}
		}
	}

	if pkg.Len() > constants.MaxPayloadSize {
		return nil, qerrors.ErrMessageTooLarge
	}
	return pkg.Bytes(), nil
}

// Fingerprint returns the BLAKE2b-256 digest of the encoded payload.
func (v *VersionData) Fingerprint() ([32]byte, error) {
	data, err := v.Encode()
	if err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(data), nil
}

// --- Decoding ---

// DecodeOption configures DecodeVersionData.
type DecodeOption func(*decodeConfig)

type decodeConfig struct {
	logger    *metrics.Logger
	collector *metrics.Collector
}

// WithLogger sets the logger decode failures are reported to. The global
// logger is used by default.
func WithLogger(l *metrics.Logger) DecodeOption {
	return func(c *decodeConfig) {
		c.logger = l
	}
}

// WithCollector records decode outcomes in the given metrics collector.
func WithCollector(col *metrics.Collector) DecodeOption {
	return func(c *decodeConfig) {
		c.collector = col
	}
}

// DecodeVersionData deserializes a payload. It always returns a non-nil
// VersionData, populated as far as the stream could be read. A non-nil error
// wraps one of:
//
//   - ErrUnsupportedLayout: a module record used an unknown layout; the module
//     list stops before it and IsSupportedDataLayout reports false.
//   - ErrLayoutInconsistency: decoded modules carry different layouts.
//   - ErrMalformedStream: truncated or corrupt bytes.
//
// Callers should treat any error conservatively and prefer rejecting the
// peer over proceeding with incomplete module data.
func DecodeVersionData(data []byte, opts ...DecodeOption) (vd *VersionData, err error) {
	cfg := &decodeConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.logger == nil {
		cfg.logger = metrics.GetLogger()
	}

	start := time.Now()
	vd = &VersionData{layout: LegacyDataLayout, supported: true}

	defer func() {
		if r := recover(); r != nil {
			err = qerrors.NewDecodeError("payload", fmt.Errorf("%w: %v", qerrors.ErrMalformedStream, r))
		}
		cfg.report(vd, err, len(data), time.Since(start))
	}()

	err = vd.decode(protocol.NewPackageFrom(data), cfg.logger)
	return vd, err
}

func (v *VersionData) decode(pkg *protocol.Package, logger *metrics.Logger) error {
	var game [3]int32
	for i := range game {
		n, err := pkg.ReadInt32()
		if err != nil {
			return malformed("game version", err)
		}
		game[i] = n
	}
	v.gameVersion = Version{Major: game[0], Minor: game[1], Build: game[2]}

	legacy, err := decodeModuleList(pkg, true, "legacy modules")
	v.modules = legacy
	if err != nil {
		return err
	}

	if pkg.HasRemaining() {
		if v.versionString, err = pkg.ReadString(); err != nil {
			return malformed("version string", err)
		}
	}

	if pkg.HasRemaining() {
		if v.networkVersion, err = pkg.ReadUint32(); err != nil {
			return malformed("network version", err)
		}
	}

	if pkg.HasRemaining() {
		current, err := decodeModuleList(pkg, false, "modules")
		var derr *qerrors.DecodeError
		switch {
		case err == nil:
			v.modules = current
			v.layout = CurrentDataLayout
		case qerrors.Is(err, qerrors.ErrUnsupportedLayout) && qerrors.As(err, &derr):
			// The next record's position is unknown; keep what was read.
			v.modules = current
			v.layout = derr.Layout
			v.supported = false
			logger.Warn("unsupported module data layout, module list is incomplete", metrics.Fields{
				"layout":  derr.Layout,
				"decoded": len(current),
			})
			return err
		default:
			return err
		}
	}

	layout, err := checkLayout(v.modules, v.layout)
	if err != nil {
		return qerrors.NewDecodeError("modules", err)
	}
	v.layout = layout
	return nil
}

func decodeModuleList(pkg *protocol.Package, legacy bool, phase string) ([]Module, error) {
	count, err := pkg.ReadInt32()
	if err != nil {
		return nil, malformed(phase+" count", err)
	}
	if count > constants.MaxModules {
		return nil, qerrors.NewDecodeError(phase+" count",
			fmt.Errorf("%w: module count %d", qerrors.ErrMalformedStream, count))
	}
	// Older peers write a negative count for an empty list.
	count = max(count, 0)

	modules := make([]Module, 0, count)
	for i := int32(0); i < count; i++ {
		m, err := DecodeModule(pkg, legacy)
		if err != nil {
			return modules, err
		}
		modules = append(modules, m)
	}
	return modules, nil
}

func (c *decodeConfig) report(vd *VersionData, err error, size int, elapsed time.Duration) {
	if c.collector != nil {
		c.collector.RecordPayloadDecoded(size, elapsed)
		switch {
		case err == nil:
		case qerrors.Is(err, qerrors.ErrUnsupportedLayout):
			c.collector.RecordUnsupportedLayout()
		case qerrors.Is(err, qerrors.ErrLayoutInconsistency):
			c.collector.RecordLayoutInconsistency()
		default:
			c.collector.RecordMalformedPayload()
		}
	}

	if err != nil && !qerrors.Is(err, qerrors.ErrUnsupportedLayout) {
		c.logger.Error("could not deserialize version data", metrics.Fields{
			"error":   err.Error(),
			"bytes":   size,
			"modules": len(vd.modules),
		})
	}
}

// --- Display ---

// String lists the game version and every module with its policy.
func (v *VersionData) String() string {
	var sb strings.Builder

	if v.versionString == "" {
		fmt.Fprintf(&sb, "Valheim %s\n", v.gameVersion)
	} else {
		fmt.Fprintf(&sb, "Valheim %s\n", v.versionString)
	}

	for _, m := range v.modules {
		sb.WriteString(m.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Format lists the game version, with the network version when known, and
// every module; showEnforce adds each module's policy.
func (v *VersionData) Format(showEnforce bool) string {
	var sb strings.Builder

	versionString := v.versionString
	if versionString == "" {
		versionString = v.gameVersion.String()
	}

	if v.networkVersion > 0 {
		fmt.Fprintf(&sb, "Valheim %s (n-%d)\n", versionString, v.networkVersion)
	} else {
		fmt.Fprintf(&sb, "Valheim %s\n", versionString)
	}

	for _, m := range v.modules {
		if showEnforce {
			sb.WriteString(m.String())
		} else {
			fmt.Fprintf(&sb, "%s %s", m.name, m.VersionString())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
