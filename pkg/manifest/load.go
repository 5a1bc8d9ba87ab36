package manifest

import (
	"fmt"
	"io/fs"
	"slices"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/pzverkov/modcompat/pkg/compat"
)

// Load reads the manifests matching pattern and merges them. A pattern
// without glob metacharacters names a single file. Patterns use doublestar
// syntax, so "plugins/**/mods.toml" collects a manifest per plugin.
func Load(pattern string) (*Manifest, error) {
	base, rest := doublestar.SplitPattern(pattern)
	if rest == "" || !hasMeta(rest) {
		return LoadFile(pattern)
	}

	paths, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("manifest glob %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no manifest matches %q under %s", ErrInvalidManifest, rest, base)
	}
	slices.Sort(paths)

	manifests := make([]*Manifest, 0, len(paths))
	for _, p := range paths {
		m, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, m)
	}
	return Merge(manifests...)
}

// LoadFS is Load over an fs.FS.
func LoadFS(fsys fs.FS, pattern string) (*Manifest, error) {
	paths, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("manifest glob %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no manifest matches %q", ErrInvalidManifest, pattern)
	}
	slices.Sort(paths)

	manifests := make([]*Manifest, 0, len(paths))
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, err
		}
		m, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		m.Source = p
		manifests = append(manifests, m)
	}
	return Merge(manifests...)
}

// Merge combines manifests in order. Game settings may be given by any
// manifest but must agree; a mod may be listed only once.
func Merge(manifests ...*Manifest) (*Manifest, error) {
	out := &Manifest{}
	seen := make(map[string]string)

	for _, m := range manifests {
		if err := mergeField(&out.GameVersion, m.GameVersion, "game_version", m.Source); err != nil {
			return nil, err
		}
		if err := mergeField(&out.VersionString, m.VersionString, "version_string", m.Source); err != nil {
			return nil, err
		}
		if m.NetworkVersion != 0 {
			if out.NetworkVersion != 0 && out.NetworkVersion != m.NetworkVersion {
				return nil, fmt.Errorf("%w: %s: network_version %d conflicts with %d",
					ErrInvalidManifest, m.Source, m.NetworkVersion, out.NetworkVersion)
			}
			out.NetworkVersion = m.NetworkVersion
		}

		for _, mod := range m.Mods {
			key := mod.key()
			if prev, dup := seen[key]; dup {
				return nil, fmt.Errorf("%w: mod %s listed in %s and %s", ErrInvalidManifest, key, prev, m.Source)
			}
			seen[key] = m.Source
			out.Mods = append(out.Mods, mod)
		}
	}

	if len(manifests) == 1 {
		out.Source = manifests[0].Source
	}
	return out, nil
}

// LoadVersionData loads the manifests matching pattern and builds the
// advertised payload.
func LoadVersionData(pattern string) (*compat.VersionData, error) {
	m, err := Load(pattern)
	if err != nil {
		return nil, err
	}
	return m.VersionData()
}

func (e Mod) key() string {
	if e.Legacy || e.GUID == "" {
		return e.Name
	}
	return e.GUID
}

func mergeField(dst *string, v, name, source string) error {
	if v == "" {
		return nil
	}
	if *dst != "" && *dst != v {
		return fmt.Errorf("%w: %s: %s %q conflicts with %q", ErrInvalidManifest, source, name, v, *dst)
	}
	*dst = v
	return nil
}

func hasMeta(pattern string) bool {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '*', '?', '[', '{', '\\':
			return true
		}
	}
	return false
}
