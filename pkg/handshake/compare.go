// Package handshake decides whether two peers' mod sets are compatible and
// runs the version data exchange over a stream.
//
// Exchange:
//
//	Client                                 Server
//	    |                                      |
//	    | <------- VersionInfo --------------- |
//	    | -------- VersionInfo --------------> |
//	    |                                      |
//	    |           [Server compares]          |
//	    |                                      |
//	    | <------- Accept / Reject ----------- |
//
// A peer that cannot decode a frame answers with a fatal Alert.
package handshake

import (
	"fmt"
	"strings"

	"github.com/pzverkov/modcompat/pkg/compat"
)

// IssueKind classifies a compatibility problem.
type IssueKind int

// Issue kinds, in the order Compare reports them.
const (
	// IssueUnsupportedLayout means a payload used a module layout this build cannot read.
	IssueUnsupportedLayout IssueKind = iota + 1
	// IssueGameVersionMismatch means the peers run different game versions.
	IssueGameVersionMismatch
	// IssueNetworkVersionMismatch means both peers report different non-zero network versions.
	IssueNetworkVersionMismatch
	// IssueMissingOnClient means a server module required on the client is absent there.
	IssueMissingOnClient
	// IssueMissingOnServer means a client module required on the server is absent there.
	IssueMissingOnServer
	// IssueClientVersionLower means the client runs an older module than the server requires.
	IssueClientVersionLower
	// IssueServerVersionLower means the server runs an older module than the client requires.
	IssueServerVersionLower
)

// String returns a human-readable name for the issue kind.
func (k IssueKind) String() string {
	switch k {
	case IssueUnsupportedLayout:
		return "UnsupportedLayout"
	case IssueGameVersionMismatch:
		return "GameVersionMismatch"
	case IssueNetworkVersionMismatch:
		return "NetworkVersionMismatch"
	case IssueMissingOnClient:
		return "MissingOnClient"
	case IssueMissingOnServer:
		return "MissingOnServer"
	case IssueClientVersionLower:
		return "ClientVersionLower"
	case IssueServerVersionLower:
		return "ServerVersionLower"
	default:
		return fmt.Sprintf("IssueKind(%d)", int(k))
	}
}

// Issue is a single compatibility problem.
type Issue struct {
	Kind IssueKind

	// Module the issue is about; empty for game and layout issues.
	ModID string
	Name  string

	// Versions on each side, rendered for display.
	Server string
	Client string

	// Strictness the versions were compared under.
	Strictness compat.VersionStrictness
}

// String renders the issue as one line of text.
func (i Issue) String() string {
	switch i.Kind {
	case IssueUnsupportedLayout:
		return fmt.Sprintf("unsupported module data layout (server %s, client %s)", i.Server, i.Client)
	case IssueGameVersionMismatch:
		return fmt.Sprintf("game version mismatch: server %s, client %s", i.Server, i.Client)
	case IssueNetworkVersionMismatch:
		return fmt.Sprintf("network version mismatch: server n-%s, client n-%s", i.Server, i.Client)
	case IssueMissingOnClient:
		return fmt.Sprintf("client is missing %s %s", i.Name, i.Server)
	case IssueMissingOnServer:
		return fmt.Sprintf("server is missing %s %s", i.Name, i.Client)
	case IssueClientVersionLower:
		return fmt.Sprintf("client has %s %s, server requires %s (%s)", i.Name, i.Client, i.Server, i.Strictness)
	case IssueServerVersionLower:
		return fmt.Sprintf("server has %s %s, client requires %s (%s)", i.Name, i.Server, i.Client, i.Strictness)
	default:
		return i.Kind.String()
	}
}

// Report is the outcome of comparing a server's and a client's version data.
type Report struct {
	Issues []Issue
}

// Compatible reports whether the comparison found no issues.
func (r *Report) Compatible() bool {
	return len(r.Issues) == 0
}

// Count returns the number of issues of the given kind.
func (r *Report) Count(kind IssueKind) int {
	n := 0
	for _, i := range r.Issues {
		if i.Kind == kind {
			n++
		}
	}
	return n
}

// String renders the report as a message suitable for a Reject frame.
func (r *Report) String() string {
	if r.Compatible() {
		return "compatible"
	}

	var sb strings.Builder
	sb.WriteString("incompatible mod set:")
	for _, i := range r.Issues {
		sb.WriteString("\n  ")
		sb.WriteString(i.String())
	}
	return sb.String()
}

func (r *Report) add(i Issue) {
	r.Issues = append(r.Issues, i)
}

// Compare checks a client's version data against the server's.
//
// Modules are matched by ModID. When one side sent legacy records and the
// other current ones, modules are matched by name instead. Module records
// with an unsupported layout are skipped; the payload-level
// UnsupportedLayout issue already rejects the peer.
func Compare(server, client *compat.VersionData) *Report {
	r := &Report{}

	if !server.IsSupportedDataLayout() || !client.IsSupportedDataLayout() {
		r.add(Issue{
			Kind:   IssueUnsupportedLayout,
			Server: fmt.Sprint(server.DataLayout()),
			Client: fmt.Sprint(client.DataLayout()),
		})
	}

	if server.GameVersion() != client.GameVersion() {
		r.add(Issue{
			Kind:   IssueGameVersionMismatch,
			Server: displayGameVersion(server),
			Client: displayGameVersion(client),
		})
	}

	sn, cn := server.NetworkVersion(), client.NetworkVersion()
	if sn != 0 && cn != 0 && sn != cn {
		r.add(Issue{
			Kind:   IssueNetworkVersionMismatch,
			Server: fmt.Sprint(sn),
			Client: fmt.Sprint(cn),
		})
	}

	byName := server.IsLegacyDataLayout() != client.IsLegacyDataLayout()
	serverMods := indexModules(server, byName)
	clientMods := indexModules(client, byName)

	for _, sm := range server.Modules() {
		if !sm.IsSupportedDataLayout() {
			continue
		}
		cm, ok := clientMods[moduleKey(sm, byName)]
		if !ok {
			if sm.IsNeededOnClient() {
				r.add(Issue{Kind: IssueMissingOnClient, ModID: sm.ModID(), Name: sm.Name(), Server: sm.VersionString()})
			}
			continue
		}

		if !sm.IsNotEnforced() && compat.IsLowerVersion(sm, cm, sm.VersionStrictness()) {
			r.add(versionIssue(IssueClientVersionLower, sm, cm, sm.VersionStrictness()))
		}
		if !cm.IsNotEnforced() && compat.IsLowerVersion(cm, sm, cm.VersionStrictness()) {
			r.add(versionIssue(IssueServerVersionLower, sm, cm, cm.VersionStrictness()))
		}
	}

	for _, cm := range client.Modules() {
		if !cm.IsSupportedDataLayout() {
			continue
		}
		if _, ok := serverMods[moduleKey(cm, byName)]; !ok && cm.IsNeededOnServer() {
			r.add(Issue{Kind: IssueMissingOnServer, ModID: cm.ModID(), Name: cm.Name(), Client: cm.VersionString()})
		}
	}

	return r
}

func versionIssue(kind IssueKind, sm, cm compat.Module, strictness compat.VersionStrictness) Issue {
	return Issue{
		Kind:       kind,
		ModID:      sm.ModID(),
		Name:       sm.Name(),
		Server:     sm.VersionString(),
		Client:     cm.VersionString(),
		Strictness: strictness,
	}
}

func moduleKey(m compat.Module, byName bool) string {
	if byName {
		return m.Name()
	}
	return m.ModID()
}

func indexModules(vd *compat.VersionData, byName bool) map[string]compat.Module {
	mods := vd.Modules()
	idx := make(map[string]compat.Module, len(mods))
	for _, m := range mods {
		if !m.IsSupportedDataLayout() {
			continue
		}
		if _, dup := idx[moduleKey(m, byName)]; !dup {
			idx[moduleKey(m, byName)] = m
		}
	}
	return idx
}

func displayGameVersion(vd *compat.VersionData) string {
	if vd.VersionString() != "" {
		return vd.VersionString()
	}
	return vd.GameVersion().String()
}
