package compat

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	qerrors "github.com/pzverkov/modcompat/internal/errors"
)

// NoBuild marks a version without a build component.
const NoBuild int32 = -1

// Version is a mod or game version triple. A negative Build means the
// version has only major and minor components.
type Version struct {
	Major int32
	Minor int32
	Build int32
}

// NewVersion returns a major.minor.build version.
func NewVersion(major, minor, build int32) Version {
	return Version{Major: major, Minor: minor, Build: build}
}

// NewShortVersion returns a major.minor version without a build component.
func NewShortVersion(major, minor int32) Version {
	return Version{Major: major, Minor: minor, Build: NoBuild}
}

// HasBuild reports whether the version carries a build component.
func (v Version) HasBuild() bool {
	return v.Build >= 0
}

// String renders major.minor.build, or major.minor when there is no build.
func (v Version) String() string {
	if v.HasBuild() {
		return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Build)
	}
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ParseVersion parses "1.2", "1.2.3" or "v1.2.3". Pre-release and build
// metadata suffixes are rejected; mod loaders only declare numeric versions.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty", qerrors.ErrInvalidVersion)
	}

	canonical := s
	if !strings.HasPrefix(canonical, "v") {
		canonical = "v" + canonical
	}
	if !semver.IsValid(canonical) {
		return Version{}, fmt.Errorf("%w: %q", qerrors.ErrInvalidVersion, s)
	}
	if semver.Prerelease(canonical) != "" || semver.Build(canonical) != "" {
		return Version{}, fmt.Errorf("%w: %q has a pre-release or build suffix", qerrors.ErrInvalidVersion, s)
	}

	parts := strings.Split(strings.TrimPrefix(canonical, "v"), ".")
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("%w: %q needs at least major.minor", qerrors.ErrInvalidVersion, s)
	}

	nums := make([]int32, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q: %v", qerrors.ErrInvalidVersion, s, err)
		}
		nums[i] = int32(n)
	}

	if len(nums) == 2 {
		return NewShortVersion(nums[0], nums[1]), nil
	}
	return NewVersion(nums[0], nums[1], nums[2]), nil
}

// MustParseVersion is like ParseVersion but panics on error. It is intended
// for constants in tests and static tables.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// isLowerVersion reports whether compare is lower than base under the given
// strictness. Tiers are checked independently; a less significant component
// counts only when every more significant component is lower or equal.
func isLowerVersion(base, compare Version, strictness VersionStrictness) bool {
	if strictness == StrictnessNone {
		return false
	}

	majorSmaller := compare.Major < base.Major
	minorSmaller := compare.Minor < base.Minor
	buildSmaller := compare.Build < base.Build

	majorEqual := compare.Major == base.Major
	minorEqual := compare.Minor == base.Minor

	if strictness >= StrictnessMajor && majorSmaller {
		return true
	}

	if strictness >= StrictnessMinor && minorSmaller && (majorSmaller || majorEqual) {
		return true
	}

	if strictness >= StrictnessPatch && buildSmaller && (minorSmaller || minorEqual) && (majorSmaller || majorEqual) {
		return true
	}

	return false
}
