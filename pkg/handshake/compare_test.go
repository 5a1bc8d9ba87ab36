package handshake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/pzverkov/modcompat/internal/errors"
	"github.com/pzverkov/modcompat/pkg/compat"
	"github.com/pzverkov/modcompat/pkg/metrics"
	"github.com/pzverkov/modcompat/pkg/protocol"
)

var testGame = compat.NewVersion(0, 217, 46)

func mod(t *testing.T, guid, name, version string, level compat.CompatibilityLevel, strictness compat.VersionStrictness) compat.Module {
	t.Helper()
	m, err := compat.NewModule(guid, name, compat.MustParseVersion(version), level, strictness)
	require.NoError(t, err)
	return m
}

func legacyMod(t *testing.T, name, version string, level compat.CompatibilityLevel, strictness compat.VersionStrictness) compat.Module {
	t.Helper()
	m, err := compat.NewLegacyModule(name, compat.MustParseVersion(version), level, strictness)
	require.NoError(t, err)
	return m
}

func versionData(t *testing.T, network uint32, mods ...compat.Module) *compat.VersionData {
	t.Helper()
	vd, err := compat.NewVersionData(testGame, "", network, mods)
	require.NoError(t, err)
	return vd
}

func jotunn(t *testing.T, version string) compat.Module {
	return mod(t, "com.jotunn.jotunnlib", "Jotunn", version, compat.EveryoneMustHaveMod, compat.StrictnessMinor)
}

// unsupportedPayload encodes a payload whose only current module record
// uses an unknown layout tag.
func unsupportedPayload(t *testing.T) []byte {
	t.Helper()
	pkg := protocol.NewPackage()
	pkg.WriteInt32(testGame.Major)
	pkg.WriteInt32(testGame.Minor)
	pkg.WriteInt32(testGame.Build)
	pkg.WriteInt32(0)
	require.NoError(t, pkg.WriteString(""))
	pkg.WriteUint32(0)
	pkg.WriteInt32(1)
	pkg.WriteInt32(99)
	return pkg.Bytes()
}

func unsupportedData(t *testing.T) *compat.VersionData {
	t.Helper()
	vd, err := compat.DecodeVersionData(unsupportedPayload(t), compat.WithLogger(metrics.NullLogger()))
	require.ErrorIs(t, err, qerrors.ErrUnsupportedLayout)
	require.False(t, vd.IsSupportedDataLayout())
	return vd
}

func kinds(r *Report) []IssueKind {
	out := make([]IssueKind, 0, len(r.Issues))
	for _, i := range r.Issues {
		out = append(out, i.Kind)
	}
	return out
}

func TestCompareIdentical(t *testing.T) {
	vd := versionData(t, 34, jotunn(t, "2.20.1"))

	r := Compare(vd, vd)
	assert.True(t, r.Compatible())
	assert.Equal(t, "compatible", r.String())
}

func TestCompareGameVersion(t *testing.T) {
	server := versionData(t, 0)
	client, err := compat.NewVersionData(compat.NewVersion(0, 217, 38), "", 0, nil)
	require.NoError(t, err)

	r := Compare(server, client)
	require.Equal(t, []IssueKind{IssueGameVersionMismatch}, kinds(r))
	assert.Equal(t, "0.217.46", r.Issues[0].Server)
	assert.Equal(t, "0.217.38", r.Issues[0].Client)
}

func TestCompareNetworkVersion(t *testing.T) {
	tests := []struct {
		name           string
		server, client uint32
		want           bool
	}{
		{"equal", 34, 34, false},
		{"different", 34, 33, true},
		{"server unknown", 0, 33, false},
		{"client unknown", 34, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Compare(versionData(t, tt.server), versionData(t, tt.client))
			assert.Equal(t, tt.want, r.Count(IssueNetworkVersionMismatch) == 1)
		})
	}
}

func TestCompareMissingModules(t *testing.T) {
	tests := []struct {
		name   string
		server []compat.Module
		client []compat.Module
		want   []IssueKind
	}{
		{
			name:   "everyone module missing on client",
			server: []compat.Module{jotunn(t, "2.20.1")},
			want:   []IssueKind{IssueMissingOnClient},
		},
		{
			name:   "client module missing on client",
			server: []compat.Module{mod(t, "a", "A", "1.0", compat.ClientMustHaveMod, compat.StrictnessNone)},
			want:   []IssueKind{IssueMissingOnClient},
		},
		{
			name:   "server-only module not needed on client",
			server: []compat.Module{mod(t, "a", "A", "1.0", compat.ServerMustHaveMod, compat.StrictnessNone)},
			want:   []IssueKind{},
		},
		{
			name:   "everyone module missing on server",
			client: []compat.Module{jotunn(t, "2.20.1")},
			want:   []IssueKind{IssueMissingOnServer},
		},
		{
			name:   "server module missing on server",
			client: []compat.Module{mod(t, "a", "A", "1.0", compat.ServerMustHaveMod, compat.StrictnessNone)},
			want:   []IssueKind{IssueMissingOnServer},
		},
		{
			name:   "client-only module not needed on server",
			client: []compat.Module{mod(t, "a", "A", "1.0", compat.ClientMustHaveMod, compat.StrictnessNone)},
			want:   []IssueKind{},
		},
		{
			name:   "not enforced on either side",
			server: []compat.Module{mod(t, "a", "A", "1.0", compat.NotEnforced, compat.StrictnessPatch)},
			client: []compat.Module{mod(t, "b", "B", "1.0", compat.NotEnforced, compat.StrictnessPatch)},
			want:   []IssueKind{},
		},
		{
			name:   "only sync when installed",
			server: []compat.Module{mod(t, "a", "A", "1.0", compat.OnlySyncWhenInstalled, compat.StrictnessPatch)},
			client: []compat.Module{mod(t, "b", "B", "1.0", compat.VersionCheckOnly, compat.StrictnessPatch)},
			want:   []IssueKind{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Compare(versionData(t, 0, tt.server...), versionData(t, 0, tt.client...))
			assert.Equal(t, tt.want, kinds(r))
		})
	}
}

func TestCompareModuleVersions(t *testing.T) {
	tests := []struct {
		name   string
		server compat.Module
		client compat.Module
		want   []IssueKind
	}{
		{
			name:   "client minor lower",
			server: jotunn(t, "2.20.1"),
			client: jotunn(t, "2.19.9"),
			want:   []IssueKind{IssueClientVersionLower},
		},
		{
			name:   "client patch lower under minor strictness",
			server: jotunn(t, "2.20.1"),
			client: jotunn(t, "2.20.0"),
			want:   []IssueKind{},
		},
		{
			name:   "server lower under client strictness",
			server: jotunn(t, "2.19.0"),
			client: jotunn(t, "2.20.0"),
			want:   []IssueKind{IssueServerVersionLower},
		},
		{
			name:   "strictness taken from each side",
			server: mod(t, "x", "X", "1.0.0", compat.EveryoneMustHaveMod, compat.StrictnessNone),
			client: mod(t, "x", "X", "1.0.1", compat.EveryoneMustHaveMod, compat.StrictnessPatch),
			want:   []IssueKind{IssueServerVersionLower},
		},
		{
			name:   "not enforced on server skips client check",
			server: mod(t, "x", "X", "2.0.0", compat.NotEnforced, compat.StrictnessPatch),
			client: mod(t, "x", "X", "1.0.0", compat.NotEnforced, compat.StrictnessPatch),
			want:   []IssueKind{},
		},
		{
			name:   "only sync when installed checks versions",
			server: mod(t, "x", "X", "1.1", compat.OnlySyncWhenInstalled, compat.StrictnessMinor),
			client: mod(t, "x", "X", "1.0", compat.OnlySyncWhenInstalled, compat.StrictnessMinor),
			want:   []IssueKind{IssueClientVersionLower},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Compare(versionData(t, 0, tt.server), versionData(t, 0, tt.client))
			assert.Equal(t, tt.want, kinds(r))
		})
	}
}

func TestCompareLegacyMatchesByName(t *testing.T) {
	server := versionData(t, 0, legacyMod(t, "Jotunn", "2.20.1", compat.EveryoneMustHaveMod, compat.StrictnessMinor))
	client := versionData(t, 0, jotunn(t, "2.20.1"))

	require.True(t, server.IsLegacyDataLayout())
	assert.True(t, Compare(server, client).Compatible())
	assert.True(t, Compare(client, server).Compatible())

	older := versionData(t, 0, jotunn(t, "2.10.0"))
	assert.Equal(t, []IssueKind{IssueClientVersionLower}, kinds(Compare(server, older)))
}

func TestCompareUnsupportedLayout(t *testing.T) {
	server := versionData(t, 0)

	r := Compare(server, unsupportedData(t))
	require.False(t, r.Compatible())
	assert.Equal(t, IssueUnsupportedLayout, r.Issues[0].Kind)
	assert.Equal(t, "99", r.Issues[0].Client)
}

func TestReportString(t *testing.T) {
	server := versionData(t, 34, jotunn(t, "2.20.1"))
	client := versionData(t, 33, mod(t, "a", "Extra", "1.0", compat.EveryoneMustHaveMod, compat.StrictnessNone))

	r := Compare(server, client)
	assert.Equal(t, []IssueKind{IssueNetworkVersionMismatch, IssueMissingOnClient, IssueMissingOnServer}, kinds(r))

	s := r.String()
	assert.Contains(t, s, "incompatible mod set:")
	assert.Contains(t, s, "network version mismatch: server n-34, client n-33")
	assert.Contains(t, s, "client is missing Jotunn 2.20.1")
	assert.Contains(t, s, "server is missing Extra 1.0")
}

func TestIssueKindString(t *testing.T) {
	assert.Equal(t, "MissingOnClient", IssueMissingOnClient.String())
	assert.Equal(t, "IssueKind(42)", IssueKind(42).String())
}
