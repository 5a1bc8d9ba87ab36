// Package modcompat implements the mod compatibility handshake of a modded
// game server: a versioned binary payload describing the game version and
// the loaded mods, and the rules a server applies to decide whether a
// connecting client runs a compatible mod set.
//
// # Quick Start
//
// Build the local payload from a manifest and serve handshakes:
//
//	import (
//		"github.com/pzverkov/modcompat/pkg/handshake"
//		"github.com/pzverkov/modcompat/pkg/manifest"
//	)
//
//	local, _ := manifest.LoadVersionData("BepInEx/plugins/**/mods.toml")
//	server, _ := handshake.NewServer(local, handshake.DefaultConfig())
//	ln, _ := handshake.Listen("tcp", ":2457", server, handshake.ListenerConfig{})
//	_ = ln.Serve(ctx)
//
// Connect as a client:
//
//	client, _ := handshake.NewClient(local, handshake.DefaultConfig())
//	conn, _ := net.Dial("tcp", "server:2457")
//	res, err := client.Connect(ctx, conn)
//
// Work with payloads directly:
//
//	data, _ := local.Encode()
//	peer, err := compat.DecodeVersionData(data)
//	report := handshake.Compare(local, peer)
//
// # Package Structure
//
//   - pkg/compat: version, compatibility level, module and payload types with
//     their binary encoding in the legacy and current layouts
//   - pkg/protocol: the packet primitive (little-endian integers, 7-bit
//     length-prefixed strings) and message framing for streams
//   - pkg/handshake: comparison rules, the cached Checker, and the server and
//     client sides of the exchange with a TCP listener
//   - pkg/manifest: TOML mod manifests, doublestar globbing and reload on change
//   - pkg/metrics: counters, histograms, Prometheus export, structured logging
//     and tracing
//   - cmd/modcompat: command-line tool
//   - internal/constants: limits and protocol constants
//   - internal/errors: sentinel errors and typed decode and protocol errors
//
// # Data Layouts
//
// A payload always starts with the game version and a legacy module block,
// so peers that only understand the legacy layout can still read it. Newer
// fields follow: the version string, the network version, and a module block
// in which every record carries a layout tag. A record with an unknown tag
// stops decoding; the payload is then reported as unsupported and the
// handshake rejects the peer.
//
// # Testing
//
//	go test ./...                                       # All tests
//	go test -fuzz=FuzzDecodeVersionData ./test/fuzz/    # Fuzz tests
//	go test -bench=. ./test/benchmark                   # Benchmarks
//
// OpenTelemetry tracing is compiled in with the otel build tag:
//
//	go build -tags otel ./cmd/modcompat
package modcompat
