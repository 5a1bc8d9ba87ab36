package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/pzverkov/modcompat/internal/errors"
	"github.com/pzverkov/modcompat/pkg/compat"
)

const serverManifest = `
game_version    = "0.217.46"
version_string  = "0.217.46-ServerCharacters"
network_version = 34

[[mod]]
guid          = "com.jotunn.jotunnlib"
name          = "Jotunn"
version       = "2.20.1"
compatibility = "EveryoneMustHaveMod"
strictness    = "Minor"

[[mod]]
guid          = "com.example.server"
name          = "ServerOnly"
version       = "1.0"
compatibility = "ServerMustHaveMod"
strictness    = "patch"

[[mod]]
guid    = "com.example.defaults"
name    = "Defaults"
version = "0.3.1"
`

func TestParseManifest(t *testing.T) {
	m, err := Parse([]byte(serverManifest))
	require.NoError(t, err)

	assert.Equal(t, "0.217.46", m.GameVersion)
	assert.Equal(t, uint32(34), m.NetworkVersion)
	require.Len(t, m.Mods, 3)

	vd, err := m.VersionData()
	require.NoError(t, err)

	assert.Equal(t, compat.NewVersion(0, 217, 46), vd.GameVersion())
	assert.Equal(t, "0.217.46", vd.VersionString())
	assert.Equal(t, compat.CurrentDataLayout, vd.DataLayout())

	server, ok := vd.FindModule("com.example.server")
	require.True(t, ok)
	assert.Equal(t, compat.ServerMustHaveMod, server.CompatibilityLevel())
	assert.Equal(t, compat.StrictnessPatch, server.VersionStrictness())
	assert.False(t, server.Version().HasBuild())

	defaults, ok := vd.FindModule("com.example.defaults")
	require.True(t, ok)
	assert.Equal(t, compat.EveryoneMustHaveMod, defaults.CompatibilityLevel())
	assert.Equal(t, compat.StrictnessMinor, defaults.VersionStrictness())
}

func TestParseLegacyMods(t *testing.T) {
	m, err := Parse([]byte(`
game_version = "0.217.46"

[[mod]]
name          = "OldMod"
version       = "1.0.0"
compatibility = "NoNeedForSync"
`))
	require.NoError(t, err)

	vd, err := m.VersionData()
	require.NoError(t, err)
	assert.True(t, vd.IsLegacyDataLayout())

	mod, ok := vd.FindModule("OldMod")
	require.True(t, ok)
	assert.Equal(t, compat.NotEnforced, mod.CompatibilityLevel())
}

func TestParseMixedLayoutsRejected(t *testing.T) {
	m, err := Parse([]byte(`
game_version = "0.217.46"

[[mod]]
name    = "OldMod"
version = "1.0.0"

[[mod]]
guid    = "com.example.new"
name    = "NewMod"
version = "1.0.0"
`))
	require.NoError(t, err)

	_, err = m.VersionData()
	assert.ErrorIs(t, err, qerrors.ErrLayoutInconsistency)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{"syntax", `game_version = `},
		{"unknown key", "game_version = \"0.217.46\"\nmods = 1\n"},
		{"wrong type", `network_version = "34"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestVersionDataErrors(t *testing.T) {
	tests := []struct {
		name string
		m    Manifest
		want error
	}{
		{"missing game version", Manifest{}, ErrInvalidManifest},
		{"bad game version", Manifest{GameVersion: "latest"}, ErrInvalidManifest},
		{"bad mod version", Manifest{GameVersion: "1.0", Mods: []Mod{{Name: "A", Version: "x"}}}, qerrors.ErrInvalidVersion},
		{"bad level", Manifest{GameVersion: "1.0", Mods: []Mod{{Name: "A", Version: "1.0", Compatibility: "Sometimes"}}}, ErrInvalidManifest},
		{"bad strictness", Manifest{GameVersion: "1.0", Mods: []Mod{{Name: "A", Version: "1.0", Strictness: "Exact"}}}, ErrInvalidManifest},
		{"empty name", Manifest{GameVersion: "1.0", Mods: []Mod{{GUID: "a", Version: "1.0"}}}, qerrors.ErrInvalidModule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.m.VersionData()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFromVersionDataRoundTrip(t *testing.T) {
	m, err := Parse([]byte(serverManifest))
	require.NoError(t, err)
	vd, err := m.VersionData()
	require.NoError(t, err)

	data, err := FromVersionData(vd).Marshal()
	require.NoError(t, err)

	again, err := Parse(data)
	require.NoError(t, err)
	vd2, err := again.VersionData()
	require.NoError(t, err)

	assert.True(t, vd.Equal(vd2))
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mods.toml")
	require.NoError(t, os.WriteFile(path, []byte(serverManifest), 0o600))

	m, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, m.Source)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
