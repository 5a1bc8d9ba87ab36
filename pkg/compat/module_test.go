package compat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/pzverkov/modcompat/internal/errors"
	"github.com/pzverkov/modcompat/pkg/protocol"
)

func TestNewModuleValidation(t *testing.T) {
	_, err := NewModule("", "Name", NewVersion(1, 0, 0), EveryoneMustHaveMod, StrictnessPatch)
	assert.ErrorIs(t, err, qerrors.ErrInvalidModule)

	_, err = NewModule("com.example.mod", "", NewVersion(1, 0, 0), EveryoneMustHaveMod, StrictnessPatch)
	assert.ErrorIs(t, err, qerrors.ErrInvalidModule)

	_, err = NewLegacyModule("", NewVersion(1, 0, 0), EveryoneMustHaveMod, StrictnessPatch)
	assert.ErrorIs(t, err, qerrors.ErrInvalidModule)

	m, err := NewModule("com.example.mod", "Example", NewVersion(1, 0, 0), NoNeedForSync, StrictnessPatch)
	require.NoError(t, err)
	assert.Equal(t, NotEnforced, m.CompatibilityLevel())
}

func TestModuleAccessors(t *testing.T) {
	m, err := NewModule("com.example.mod", "Example", NewVersion(2, 1, 7), ServerMustHaveMod, StrictnessMinor)
	require.NoError(t, err)

	assert.Equal(t, CurrentDataLayout, m.DataLayoutVersion())
	assert.Equal(t, "com.example.mod", m.GUID())
	assert.Equal(t, "Example", m.Name())
	assert.Equal(t, "com.example.mod", m.ModID())
	assert.Equal(t, NewVersion(2, 1, 7), m.Version())
	assert.Equal(t, "2.1.7", m.VersionString())
	assert.Equal(t, StrictnessMinor, m.VersionStrictness())
	assert.True(t, m.IsSupportedDataLayout())
	assert.False(t, m.IsLegacyDataLayout())
	assert.Equal(t, "Example 2.1.7 ServerMustHaveMod Minor", m.String())

	legacy, err := NewLegacyModule("Old", NewShortVersion(1, 0), EveryoneMustHaveMod, StrictnessNone)
	require.NoError(t, err)
	assert.Equal(t, "Old", legacy.ModID())
	assert.Empty(t, legacy.GUID())
	assert.True(t, legacy.IsLegacyDataLayout())
	assert.True(t, legacy.IsSupportedDataLayout())
	assert.Equal(t, "1.0", legacy.VersionString())
}

func TestModuleRoundTripCurrent(t *testing.T) {
	m, err := NewModule("com.example.mod", "Example", NewVersion(1, 2, 3), ClientMustHaveMod, StrictnessPatch)
	require.NoError(t, err)

	pkg := protocol.NewPackage()
	require.NoError(t, m.Encode(pkg, false))

	got, err := DecodeModule(protocol.NewPackageFrom(pkg.Bytes()), false)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestModuleRoundTripLegacy(t *testing.T) {
	m, err := NewLegacyModule("Example", NewShortVersion(1, 2), OnlySyncWhenInstalled, StrictnessMinor)
	require.NoError(t, err)

	pkg := protocol.NewPackage()
	require.NoError(t, m.Encode(pkg, true))

	got, err := DecodeModule(protocol.NewPackageFrom(pkg.Bytes()), true)
	require.NoError(t, err)
	assert.Equal(t, m, got)
	assert.Equal(t, NoBuild, got.Version().Build)
}

func TestModuleLegacyEncodingOmitsGUID(t *testing.T) {
	m, err := NewModule("com.example.mod", "Example", NewVersion(1, 0, 0), EveryoneMustHaveMod, StrictnessPatch)
	require.NoError(t, err)

	legacy := protocol.NewPackage()
	require.NoError(t, m.Encode(legacy, true))

	got, err := DecodeModule(protocol.NewPackageFrom(legacy.Bytes()), true)
	require.NoError(t, err)
	assert.Equal(t, LegacyDataLayout, got.DataLayoutVersion())
	assert.Empty(t, got.GUID())
	assert.Equal(t, "Example", got.ModID())
}

func TestModuleCurrentBlockLegacyTag(t *testing.T) {
	m, err := NewLegacyModule("Example", NewVersion(1, 0, 0), EveryoneMustHaveMod, StrictnessPatch)
	require.NoError(t, err)

	pkg := protocol.NewPackage()
	require.NoError(t, m.Encode(pkg, false))
	assert.Equal(t, []byte{0, 0, 0, 0}, pkg.Bytes(), "tag 0 is written without fields")

	got, err := DecodeModule(protocol.NewPackageFrom(pkg.Bytes()), false)
	require.NoError(t, err)
	assert.Equal(t, LegacyDataLayout, got.DataLayoutVersion())
	assert.Empty(t, got.Name())
	assert.Empty(t, got.GUID())
	assert.Equal(t, NotEnforced, got.CompatibilityLevel())
}

func TestDecodeModuleLegacyTagReadsNothingMore(t *testing.T) {
	pkg := protocol.NewPackage()
	pkg.WriteInt32(LegacyDataLayout)
	pkg.WriteInt32(42)

	stream := protocol.NewPackageFrom(pkg.Bytes())
	_, err := DecodeModule(stream, false)
	require.NoError(t, err)
	assert.Equal(t, 4, stream.Pos())

	next, err := stream.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(42), next)
}

func TestDecodeModuleUnsupportedLayout(t *testing.T) {
	pkg := protocol.NewPackage()
	pkg.WriteInt32(99)
	require.NoError(t, pkg.WriteString("whatever comes next"))

	m, err := DecodeModule(protocol.NewPackageFrom(pkg.Bytes()), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, qerrors.ErrUnsupportedLayout)

	var derr *qerrors.DecodeError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, int32(99), derr.Layout)

	assert.Equal(t, int32(99), m.DataLayoutVersion())
	assert.False(t, m.IsSupportedDataLayout())
}

func TestDecodeModuleTruncated(t *testing.T) {
	m, err := NewModule("com.example.mod", "Example", NewVersion(1, 2, 3), EveryoneMustHaveMod, StrictnessPatch)
	require.NoError(t, err)

	pkg := protocol.NewPackage()
	require.NoError(t, m.Encode(pkg, false))
	full := pkg.Bytes()

	for _, n := range []int{0, 2, 4, 10, len(full) - 1} {
		_, err := DecodeModule(protocol.NewPackageFrom(full[:n]), false)
		assert.ErrorIs(t, err, qerrors.ErrMalformedStream, "truncated to %d bytes", n)
	}
}

func TestDecodeModuleNormalizesLevel(t *testing.T) {
	pkg := protocol.NewPackage()
	require.NoError(t, pkg.WriteString("Old"))
	pkg.WriteInt32(1)
	pkg.WriteInt32(0)
	pkg.WriteInt32(0)
	pkg.WriteInt32(int32(VersionCheckOnly))
	pkg.WriteInt32(int32(StrictnessMinor))

	m, err := DecodeModule(protocol.NewPackageFrom(pkg.Bytes()), true)
	require.NoError(t, err)
	assert.Equal(t, OnlySyncWhenInstalled, m.CompatibilityLevel())
	assert.True(t, m.OnlyVersionCheck())
}
