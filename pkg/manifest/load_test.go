package manifest

import (
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gameManifest = `
game_version    = "0.217.46"
network_version = 34
`

func pluginManifest(guid, name, version string) string {
	return "[[mod]]\nguid = \"" + guid + "\"\nname = \"" + name + "\"\nversion = \"" + version + "\"\n"
}

func TestLoadFSMergesPlugins(t *testing.T) {
	fsys := fstest.MapFS{}
	fsys["mods.toml"] = &fstest.MapFile{Data: []byte(gameManifest)}
	fsys["plugins/Jotunn/mods.toml"] = &fstest.MapFile{Data: []byte(pluginManifest("com.jotunn.jotunnlib", "Jotunn", "2.20.1"))}
	fsys["plugins/Extra/deep/mods.toml"] = &fstest.MapFile{Data: []byte(pluginManifest("com.example.extra", "Extra", "1.2"))}
	fsys["plugins/Extra/deep/notes.txt"] = &fstest.MapFile{Data: []byte("not a manifest")}
	fsys["plugins/Broken/mods.toml.orig"] = &fstest.MapFile{Data: []byte("garbage =")}

	m, err := LoadFS(fsys, "**/mods.toml")
	require.NoError(t, err)
	assert.Equal(t, "0.217.46", m.GameVersion)
	require.Len(t, m.Mods, 2)

	vd, err := m.VersionData()
	require.NoError(t, err)
	assert.True(t, vd.HasModule("com.jotunn.jotunnlib"))
	assert.True(t, vd.HasModule("com.example.extra"))
}

func TestLoadFSNoMatch(t *testing.T) {
	_, err := LoadFS(fstest.MapFS{}, "**/mods.toml")
	assert.ErrorIs(t, err, ErrInvalidManifest)
}

func TestMergeConflicts(t *testing.T) {
	a := &Manifest{
		GameVersion:    "0.217.46",
		VersionString:  "0.217.46",
		NetworkVersion: 34,
		Mods:           []Mod{{GUID: "x", Name: "X", Version: "1.0"}},
		Source:         "a.toml",
	}

	tests := []struct {
		name string
		b    *Manifest
	}{
		{"game version", &Manifest{GameVersion: "0.218.0", Source: "b.toml"}},
		{"version string", &Manifest{VersionString: "other", Source: "b.toml"}},
		{"network version", &Manifest{NetworkVersion: 35, Source: "b.toml"}},
		{"duplicate mod", &Manifest{Mods: []Mod{{GUID: "x", Name: "X2", Version: "2.0"}}, Source: "b.toml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge(a, tt.b)
			assert.ErrorIs(t, err, ErrInvalidManifest)
		})
	}
}

func TestMergeAgreeing(t *testing.T) {
	m, err := Merge(
		&Manifest{GameVersion: "0.217.46", Source: "a.toml"},
		&Manifest{GameVersion: "0.217.46", NetworkVersion: 34, Source: "b.toml"},
		&Manifest{Mods: []Mod{{Name: "Legacy", Version: "1.0"}}, Source: "c.toml"},
	)
	require.NoError(t, err)
	assert.Equal(t, uint32(34), m.NetworkVersion)
	assert.Len(t, m.Mods, 1)
	assert.Empty(t, m.Source)
}

func TestLoadGlobFromDisk(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) {
		p := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	write("game.toml", gameManifest)
	write("plugins/a/mod.toml", pluginManifest("com.example.a", "A", "1.0"))
	write("plugins/b/mod.toml", pluginManifest("com.example.b", "B", "1.0"))

	vd, err := LoadVersionData(filepath.Join(dir, "**", "*.toml"))
	require.NoError(t, err)
	assert.Equal(t, 2, vd.ModuleCount())
	assert.Equal(t, uint32(34), vd.NetworkVersion())

	single, err := Load(filepath.Join(dir, "game.toml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "game.toml"), single.Source)
}
