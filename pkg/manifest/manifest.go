// Package manifest loads the local mod set from TOML manifests.
//
// A manifest names the game version and lists the loaded mods:
//
//	game_version    = "0.217.46"
//	version_string  = "0.217.46"
//	network_version = 34
//
//	[[mod]]
//	guid          = "com.jotunn.jotunnlib"
//	name          = "Jotunn"
//	version       = "2.20.1"
//	compatibility = "EveryoneMustHaveMod"
//	strictness    = "Minor"
//
// Mods without a guid, or with legacy = true, are advertised in the legacy
// layout. A manifest may carry only mods; Merge combines several.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/pzverkov/modcompat/pkg/compat"
)

// ErrInvalidManifest is wrapped by every manifest validation failure.
var ErrInvalidManifest = errors.New("manifest: invalid manifest")

// Manifest is the decoded form of a manifest file.
type Manifest struct {
	GameVersion    string `toml:"game_version"`
	VersionString  string `toml:"version_string,omitempty"`
	NetworkVersion uint32 `toml:"network_version,omitempty"`
	Mods           []Mod  `toml:"mod,omitempty"`

	// Source is the file the manifest was read from, if any.
	Source string `toml:"-"`
}

// Mod is one [[mod]] entry.
type Mod struct {
	GUID          string `toml:"guid,omitempty"`
	Name          string `toml:"name"`
	Version       string `toml:"version"`
	Compatibility string `toml:"compatibility"`
	Strictness    string `toml:"strictness"`
	Legacy        bool   `toml:"legacy,omitempty"`
}

// Parse decodes a manifest. Unknown keys are rejected.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("%w: line %d column %d: %s", ErrInvalidManifest, row, col, derr.Error())
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return &m, nil
}

// LoadFile reads and parses a manifest file.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Source = path
	return m, nil
}

// Marshal encodes the manifest as TOML.
func (m *Manifest) Marshal() ([]byte, error) {
	return toml.Marshal(m)
}

// Modules converts the mod entries to compat modules. Defaults are
// EveryoneMustHaveMod and Minor strictness, matching an unannotated mod.
func (m *Manifest) Modules() ([]compat.Module, error) {
	mods := make([]compat.Module, 0, len(m.Mods))
	for i, entry := range m.Mods {
		mod, err := entry.Module()
		if err != nil {
			return nil, fmt.Errorf("%w: mod #%d: %w", ErrInvalidManifest, i+1, err)
		}
		mods = append(mods, mod)
	}
	return mods, nil
}

// Module converts the entry to a compat module.
func (e Mod) Module() (compat.Module, error) {
	version, err := compat.ParseVersion(e.Version)
	if err != nil {
		return compat.Module{}, fmt.Errorf("%s: %w", e.Name, err)
	}

	level := compat.EveryoneMustHaveMod
	if e.Compatibility != "" {
		if level, err = compat.ParseCompatibilityLevel(e.Compatibility); err != nil {
			return compat.Module{}, fmt.Errorf("%s: %w", e.Name, err)
		}
	}

	strictness := compat.StrictnessMinor
	if e.Strictness != "" {
		if strictness, err = compat.ParseVersionStrictness(e.Strictness); err != nil {
			return compat.Module{}, fmt.Errorf("%s: %w", e.Name, err)
		}
	}

	if e.Legacy || e.GUID == "" {
		return compat.NewLegacyModule(e.Name, version, level, strictness)
	}
	return compat.NewModule(e.GUID, e.Name, version, level, strictness)
}

// VersionData builds the advertised payload from the manifest.
func (m *Manifest) VersionData() (*compat.VersionData, error) {
	if m.GameVersion == "" {
		return nil, fmt.Errorf("%w: game_version is required", ErrInvalidManifest)
	}
	game, err := compat.ParseVersion(m.GameVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: game_version: %w", ErrInvalidManifest, err)
	}

	mods, err := m.Modules()
	if err != nil {
		return nil, err
	}
	return compat.NewVersionData(game, m.VersionString, m.NetworkVersion, mods)
}

// FromVersionData renders version data as a manifest.
func FromVersionData(vd *compat.VersionData) *Manifest {
	m := &Manifest{
		GameVersion:    vd.GameVersion().String(),
		VersionString:  vd.VersionString(),
		NetworkVersion: vd.NetworkVersion(),
	}
	for _, mod := range vd.Modules() {
		m.Mods = append(m.Mods, Mod{
			GUID:          mod.GUID(),
			Name:          mod.Name(),
			Version:       mod.VersionString(),
			Compatibility: mod.CompatibilityLevel().String(),
			Strictness:    mod.VersionStrictness().String(),
			Legacy:        mod.IsLegacyDataLayout(),
		})
	}
	return m
}
